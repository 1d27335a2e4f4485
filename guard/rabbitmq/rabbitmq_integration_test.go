//go:build integration

package rabbitmq

import (
	"context"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcrabbit "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/LerianStudio/lib-guard/guard/log"
	"github.com/LerianStudio/lib-guard/guard/opentelemetry/metrics"
)

const (
	testImage           = "rabbitmq:3-management-alpine"
	testUser            = "guest"
	testPass            = "guest"
	testStartupTimeout  = 60 * time.Second
	testConsumeDeadline = 10 * time.Second
)

// setupRabbitMQContainer starts a RabbitMQ container with the management
// plugin and returns the AMQP URL, the management HTTP URL, and a cleanup
// function.
func setupRabbitMQContainer(t *testing.T) (string, string, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := tcrabbit.Run(ctx,
		testImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(testStartupTimeout),
		),
	)
	require.NoError(t, err, "failed to start RabbitMQ container")

	amqpEndpoint, err := container.AmqpURL(ctx)
	require.NoError(t, err, "failed to get AMQP URL from container")

	httpEndpoint, err := container.HttpURL(ctx)
	require.NoError(t, err, "failed to get HTTP management URL from container")

	return amqpEndpoint, httpEndpoint, func() {
		_ = container.Terminate(ctx)
	}
}

func newIntegrationConfig(amqpURL, mgmtURL string) Config {
	return Config{
		ConnectionString: amqpURL,
		HealthCheckURL:   mgmtURL,
		HealthCheckUser:  testUser,
		HealthCheckPass:  testPass,
		Logger:           log.NewNop(),
		MetricsFactory:   metrics.NewNopFactory(),
	}
}

// ---------------------------------------------------------------------------
// TestIntegration_RabbitMQ_ConnectAndClose
// ---------------------------------------------------------------------------

func TestIntegration_RabbitMQ_ConnectAndClose(t *testing.T) {
	amqpURL, mgmtURL, cleanup := setupRabbitMQContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	c, err := New(ctx, newIntegrationConfig(amqpURL, mgmtURL))
	require.NoError(t, err, "New() should succeed against a live broker")

	assert.True(t, c.IsConnected())

	connHandle := c.MustConnection(ctx)
	assert.False(t, connHandle.Get().IsClosed())

	chHandle := c.MustChannel(ctx)
	assert.False(t, chHandle.Get().IsClosed())

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

// ---------------------------------------------------------------------------
// TestIntegration_RabbitMQ_HealthCheck
// ---------------------------------------------------------------------------

func TestIntegration_RabbitMQ_HealthCheck(t *testing.T) {
	amqpURL, mgmtURL, cleanup := setupRabbitMQContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	c, err := New(ctx, newIntegrationConfig(amqpURL, mgmtURL))
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	assert.NoError(t, c.HealthCheck(ctx), "a running broker should report healthy")
}

// ---------------------------------------------------------------------------
// TestIntegration_RabbitMQ_ChannelRecovery
// ---------------------------------------------------------------------------

func TestIntegration_RabbitMQ_ChannelRecovery(t *testing.T) {
	amqpURL, mgmtURL, cleanup := setupRabbitMQContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	c, err := New(ctx, newIntegrationConfig(amqpURL, mgmtURL))
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	// Close the channel explicitly to simulate a lost channel.
	first := c.MustChannel(ctx)
	require.NoError(t, first.Get().Close())

	// GetChannel should detect the closed channel and reopen it on the live
	// connection.
	recovered, err := c.GetChannel(ctx)
	require.NoError(t, err, "GetChannel should recover a closed channel")

	assert.False(t, recovered.Get().IsClosed())
	assert.True(t, c.IsConnected())
}

// ---------------------------------------------------------------------------
// TestIntegration_RabbitMQ_ReconnectAfterClose
// ---------------------------------------------------------------------------

func TestIntegration_RabbitMQ_ReconnectAfterClose(t *testing.T) {
	amqpURL, mgmtURL, cleanup := setupRabbitMQContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	c, err := New(ctx, newIntegrationConfig(amqpURL, mgmtURL))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// GetConnection redials on demand after an explicit Close.
	handle, err := c.GetConnection(ctx)
	require.NoError(t, err)
	assert.False(t, handle.Get().IsClosed())
	assert.True(t, c.IsConnected())

	assert.NoError(t, c.Close())
}

// ---------------------------------------------------------------------------
// TestIntegration_RabbitMQ_PublishAndConsume
// ---------------------------------------------------------------------------

func TestIntegration_RabbitMQ_PublishAndConsume(t *testing.T) {
	amqpURL, mgmtURL, cleanup := setupRabbitMQContainer(t)
	t.Cleanup(cleanup)

	ctx := context.Background()

	c, err := New(ctx, newIntegrationConfig(amqpURL, mgmtURL))
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	ch := c.MustChannel(ctx).Get()

	queueName := fmt.Sprintf("guard-test-queue-%d", time.Now().UnixNano())

	q, err := ch.QueueDeclare(
		queueName,
		false, // durable
		true,  // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	require.NoError(t, err, "QueueDeclare should succeed")

	messageBody := []byte("hello from the guard connector")

	publishCtx, publishCancel := context.WithTimeout(ctx, 5*time.Second)
	defer publishCancel()

	err = ch.PublishWithContext(
		publishCtx,
		"",     // exchange (default)
		q.Name, // routing key = queue name
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        messageBody,
		},
	)
	require.NoError(t, err, "PublishWithContext should succeed")

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer tag (auto-generated)
		true,   // autoAck
		false,  // exclusive
		false,  // noLocal
		false,  // noWait
		nil,    // args
	)
	require.NoError(t, err, "Consume should succeed")

	consumeCtx, consumeCancel := context.WithTimeout(ctx, testConsumeDeadline)
	defer consumeCancel()

	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "message channel should deliver a message")
		assert.Equal(t, messageBody, msg.Body)
		assert.Equal(t, "text/plain", msg.ContentType)
	case <-consumeCtx.Done():
		t.Fatal("timed out waiting for message from RabbitMQ")
	}
}
