//go:build unit

package guard_test

import (
	"bytes"
	"fmt"
	"io"

	"github.com/LerianStudio/lib-guard/guard"
)

func ExampleNew() {
	x := 5
	w := guard.New(&x)

	fmt.Println(*w.Get())
	fmt.Println(guard.Deref(w))

	// Output:
	// 5
	// 5
}

func ExampleConvert() {
	w := guard.New(&bytes.Buffer{})

	// Widen NonNil[*bytes.Buffer] to NonNil[io.Writer]; the result is re-run
	// through the non-nil check.
	writer := guard.Convert(w, func(b *bytes.Buffer) io.Writer { return b })

	_, _ = writer.Get().Write([]byte("hello"))
	fmt.Println(w.Get().String())

	// Output:
	// hello
}

func ExampleEqual() {
	x := 1
	w := guard.New(&x)

	fmt.Println(guard.Equal(w, &x))

	// Output:
	// true
}
