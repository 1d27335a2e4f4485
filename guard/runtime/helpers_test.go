//go:build unit

package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/LerianStudio/lib-guard/guard/log"
)

// testLogger is a test logger that captures log calls.
// It is shared across all runtime test files.
type testLogger struct {
	mu          sync.Mutex
	errorCalls  []string
	lastMessage string
	lastFields  []log.Field
	panicLogged atomic.Bool
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (logger *testLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	logger.errorCalls = append(logger.errorCalls, msg)
	logger.lastMessage = msg
	logger.lastFields = fields
	logger.panicLogged.Store(true)
}

func (logger *testLogger) wasPanicLogged() bool {
	return logger.panicLogged.Load()
}

func (logger *testLogger) fieldValue(key string) (any, bool) {
	logger.mu.Lock()
	defer logger.mu.Unlock()

	for _, f := range logger.lastFields {
		if f.Key == key {
			return f.Value, true
		}
	}

	return nil, false
}

// testReporter captures CaptureException calls for assertions.
type testReporter struct {
	mu       sync.Mutex
	captured []capturedException
}

type capturedException struct {
	err  error
	tags map[string]string
}

func (r *testReporter) CaptureException(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.captured = append(r.captured, capturedException{err: err, tags: tags})
}

func (r *testReporter) last() (capturedException, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.captured) == 0 {
		return capturedException{}, false
	}

	return r.captured[len(r.captured)-1], true
}
