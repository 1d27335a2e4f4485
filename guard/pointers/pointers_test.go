//go:build unit

package pointers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRef_ReturnsPointerToValue(t *testing.T) {
	t.Parallel()

	p := Ref(42)
	require.NotNil(t, p)
	require.Equal(t, 42, *p)
}

func TestRef_EachCallAllocatesFresh(t *testing.T) {
	t.Parallel()

	a, b := Ref("x"), Ref("x")
	require.NotSame(t, a, b)

	*a = "changed"
	require.Equal(t, "x", *b)
}

func TestDeref_NonNil(t *testing.T) {
	t.Parallel()

	v := "hello"
	require.Equal(t, "hello", Deref(&v))
}

func TestDeref_Nil_ReturnsZero(t *testing.T) {
	t.Parallel()

	require.Zero(t, Deref[int](nil))
	require.Empty(t, Deref[string](nil))
	require.True(t, Deref[time.Time](nil).IsZero())
}

func TestDerefOr_NonNil(t *testing.T) {
	t.Parallel()

	v := 7
	require.Equal(t, 7, DerefOr(&v, 99))
}

func TestDerefOr_Nil_ReturnsFallback(t *testing.T) {
	t.Parallel()

	require.Equal(t, 99, DerefOr(nil, 99))
	require.Equal(t, "default", DerefOr(nil, "default"))
}

func TestIsNilOrZero(t *testing.T) {
	t.Parallel()

	zero := 0
	nonZero := 3
	empty := ""

	require.True(t, IsNilOrZero[int](nil))
	require.True(t, IsNilOrZero(&zero))
	require.True(t, IsNilOrZero(&empty))
	require.False(t, IsNilOrZero(&nonZero))
}

func TestClone_Nil(t *testing.T) {
	t.Parallel()

	require.Nil(t, Clone[int](nil))
}

func TestClone_DetachesFromSource(t *testing.T) {
	t.Parallel()

	v := 1
	cloned := Clone(&v)

	require.NotSame(t, &v, cloned)
	require.Equal(t, 1, *cloned)

	v = 2
	require.Equal(t, 1, *cloned)
}
