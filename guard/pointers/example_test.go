//go:build unit

package pointers_test

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/LerianStudio/lib-guard/guard"
	"github.com/LerianStudio/lib-guard/guard/pointers"
)

// transactionInput is the usual optional-field DTO shape: amounts and
// descriptions may be absent on partial updates.
type transactionInput struct {
	Amount      *decimal.Decimal
	Scale       *int
	Description *string
}

func ExampleRef() {
	input := transactionInput{
		Amount: pointers.Ref(decimal.NewFromInt(1500)),
		Scale:  pointers.Ref(2),
	}

	fmt.Println(input.Amount.String())
	fmt.Println(*input.Scale)
	fmt.Println(input.Description == nil)

	// Output:
	// 1500
	// 2
	// true
}

func ExampleDerefOr() {
	var input transactionInput

	amount := pointers.DerefOr(input.Amount, decimal.Zero)
	description := pointers.DerefOr(input.Description, "no description")

	fmt.Println(amount.String())
	fmt.Println(description)

	// Output:
	// 0
	// no description
}

func ExampleIsNilOrZero() {
	scale := 0

	fmt.Println(pointers.IsNilOrZero(&scale))
	fmt.Println(pointers.IsNilOrZero(pointers.Ref(2)))

	// Output:
	// true
	// false
}

// At the boundary where the amount stops being optional, hand it to the
// non-nullable side: Ref never returns nil, so the construction cannot
// violate the invariant.
func ExampleRef_intoGuard() {
	amount := guard.New(pointers.Ref(decimal.NewFromInt(100)))

	fmt.Println(guard.Deref(amount).String())

	// Output:
	// 100
}
