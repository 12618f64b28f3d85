package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateHash_OrderIndependent(t *testing.T) {
	a := duplicateHash(42, []Item{{ProductID: "sku-2", Quantity: 1}, {ProductID: "sku-1", Quantity: 3}})
	b := duplicateHash(42, []Item{{ProductID: "sku-1", Quantity: 3}, {ProductID: "sku-2", Quantity: 1}})
	assert.Equal(t, a, b, "item order must not change the duplicate hash")
}

func TestDuplicateHash_DifferentCustomerDiffers(t *testing.T) {
	items := []Item{{ProductID: "sku-1", Quantity: 1}}
	a := duplicateHash(1, items)
	b := duplicateHash(2, items)
	assert.NotEqual(t, a, b)
}

func TestDuplicateHash_DifferentQuantityDiffers(t *testing.T) {
	a := duplicateHash(1, []Item{{ProductID: "sku-1", Quantity: 1}})
	b := duplicateHash(1, []Item{{ProductID: "sku-1", Quantity: 2}})
	assert.NotEqual(t, a, b)
}
