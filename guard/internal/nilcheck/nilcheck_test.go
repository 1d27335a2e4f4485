//go:build unit

package nilcheck

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleStruct struct{}

type sampleInterface interface {
	Do()
}

type sampleImpl struct{}

func (*sampleImpl) Do() {}

func TestIsNil(t *testing.T) {
	t.Parallel()

	var nilPointer *sampleStruct
	var nilSlice []string
	var nilMap map[string]string
	var nilChan chan int
	var nilFunc func()
	var nilIface sampleInterface

	var typedNilIface sampleInterface
	var typedImpl *sampleImpl
	typedNilIface = typedImpl

	require.True(t, IsNil(nil))
	require.True(t, IsNil(nilPointer))
	require.True(t, IsNil(nilSlice))
	require.True(t, IsNil(nilMap))
	require.True(t, IsNil(nilChan))
	require.True(t, IsNil(nilFunc))
	require.True(t, IsNil(nilIface))
	require.True(t, IsNil(typedNilIface))

	require.False(t, IsNil(0))
	require.False(t, IsNil(""))
	require.False(t, IsNil(sampleStruct{}))
	require.False(t, IsNil(&sampleStruct{}))
	require.False(t, IsNil([]string{}))
}

func TestNilableKind(t *testing.T) {
	t.Parallel()

	require.True(t, NilableKind(reflect.Pointer))
	require.True(t, NilableKind(reflect.Interface))
	require.True(t, NilableKind(reflect.Map))
	require.True(t, NilableKind(reflect.Slice))
	require.True(t, NilableKind(reflect.Chan))
	require.True(t, NilableKind(reflect.Func))

	require.False(t, NilableKind(reflect.Int))
	require.False(t, NilableKind(reflect.Float64))
	require.False(t, NilableKind(reflect.String))
	require.False(t, NilableKind(reflect.Bool))
	require.False(t, NilableKind(reflect.Struct))
	require.False(t, NilableKind(reflect.Array))
	require.False(t, NilableKind(reflect.UnsafePointer))
}
