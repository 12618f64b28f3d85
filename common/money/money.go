// Package money implements the Money value object from the data model:
// an integer amount in minor units (cents) plus an ISO-4217 currency code.
// Every example service in this codebase stores amounts as int64 minor
// units rather than a decimal library, so Money follows that convention.
package money

import "fmt"

// Money is an amount of a single currency, stored in minor units.
type Money struct {
	Amount   int64
	Currency string
}

// New builds a Money value.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Add returns m+other. Mixed currencies are rejected per the data model
// invariant in spec section 3.
func (m Money) Add(other Money) (Money, error) {
	if err := m.checkSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Sub returns m-other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.checkSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// MulQty scales m by an item quantity, used to compute an OrderItem subtotal.
func (m Money) MulQty(qty int) Money {
	return Money{Amount: m.Amount * int64(qty), Currency: m.Currency}
}

func (m Money) checkSameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return nil
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
