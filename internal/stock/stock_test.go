package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStockAvailable(t *testing.T) {
	s := Stock{ProductID: "sku-1", OnHand: 100, Reserved: 40}
	assert.Equal(t, 60, s.Available())
}

func TestStockAvailable_FullyReserved(t *testing.T) {
	s := Stock{ProductID: "sku-1", OnHand: 5, Reserved: 5}
	assert.Equal(t, 0, s.Available())
}

func TestItem(t *testing.T) {
	items := []Item{{ProductID: "sku-1", Quantity: 2}, {ProductID: "sku-2", Quantity: 1}}
	assert.Len(t, items, 2)
	assert.Equal(t, "sku-1", items[0].ProductID)
}
