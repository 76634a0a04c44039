package service

import (
	"testing"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id string, qty int, price string) models.Product {
	return models.Product{ID: id, Name: "Item " + id, Unit: "pcs", Price: decimal.RequireFromString(price), Quantity: qty}
}

func TestAddItemNeverExceedsStock(t *testing.T) {
	c := NewCart()
	assert.Equal(t, CartEmpty, c.State())

	p := product("P1", 2, "1.00")
	assert.Nil(t, c.AddItem(p))
	assert.Equal(t, CartBuilding, c.State())
	assert.Nil(t, c.AddItem(p))

	w := c.AddItem(p)
	require.NotNil(t, w)
	assert.Equal(t, "P1", w.ProductID)
	assert.Contains(t, w.Message, "Item P1")

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestAddItemOutOfStockOrArchived(t *testing.T) {
	c := NewCart()
	assert.NotNil(t, c.AddItem(product("P1", 0, "1.00")))

	archived := product("P2", 5, "1.00")
	archived.Archived = true
	assert.NotNil(t, c.AddItem(archived))

	assert.Empty(t, c.Lines())
	assert.Equal(t, CartEmpty, c.State())
}

func TestChangeItemQuantity(t *testing.T) {
	c := NewCart()
	require.Nil(t, c.AddItem(product("P1", 3, "1.00")))

	w, err := c.ChangeItemQuantity("P1", 2)
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Equal(t, 3, c.Lines()[0].Quantity)

	w, err = c.ChangeItemQuantity("P1", 1)
	require.NoError(t, err)
	assert.NotNil(t, w)
	assert.Equal(t, 3, c.Lines()[0].Quantity)

	w, err = c.ChangeItemQuantity("P1", -5)
	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Empty(t, c.Lines())
	assert.Equal(t, CartEmpty, c.State())

	_, err = c.ChangeItemQuantity("P1", 1)
	assert.True(t, models.IsNotFound(err))
}

func TestRemoveAndClear(t *testing.T) {
	c := NewCart()
	require.Nil(t, c.AddItem(product("P1", 3, "1.00")))
	require.Nil(t, c.AddItem(product("P2", 3, "1.00")))

	require.NoError(t, c.RemoveItem("P1"))
	assert.True(t, models.IsNotFound(c.RemoveItem("P1")))
	assert.Len(t, c.Lines(), 1)

	id := c.ID()
	require.NoError(t, c.Clear())
	assert.Empty(t, c.Lines())
	assert.Equal(t, CartEmpty, c.State())
	assert.NotEqual(t, id, c.ID())
}

func TestReconcileWithCatalog(t *testing.T) {
	c := NewCart()
	require.Nil(t, c.AddItem(product("P1", 3, "1.00")))
	require.Nil(t, c.AddItem(product("P2", 3, "2.00")))
	require.Nil(t, c.AddItem(product("P3", 3, "3.00")))

	repriced := product("P1", 1, "1.50")
	repriced.Name = "Renamed"
	archived := product("P3", 3, "3.00")
	archived.Archived = true

	c.ReconcileWithCatalog([]models.Product{repriced, archived})

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "Renamed", lines[0].Name)
	assert.True(t, decimal.RequireFromString("1.50").Equal(lines[0].Price))
	assert.Equal(t, 1, lines[0].Stock)

	c.ReconcileWithCatalog(nil)
	assert.Equal(t, CartEmpty, c.State())
}

func TestSubtotal(t *testing.T) {
	c := NewCart()
	require.Nil(t, c.AddItem(product("P1", 5, "10")))
	require.Nil(t, c.AddItem(product("P1", 5, "10")))
	require.Nil(t, c.AddItem(product("P2", 5, "5")))
	_, err := c.ChangeItemQuantity("P2", 2)
	require.NoError(t, err)

	assert.Equal(t, "35.00", c.Subtotal().StringFixed(2))
}

func TestCheckoutFreezesCart(t *testing.T) {
	c := NewCart()
	require.Nil(t, c.AddItem(product("P1", 5, "1.00")))

	summary, ok, err := c.beginCheckout()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c.ID(), summary.CartID)
	assert.Equal(t, CartCheckingOut, c.State())

	assert.NotNil(t, c.AddItem(product("P2", 5, "1.00")))
	assert.True(t, models.IsValidation(c.Clear()))
	_, _, err = c.beginCheckout()
	assert.True(t, models.IsValidation(err))

	c.abortCheckout()
	assert.Equal(t, CartBuilding, c.State())
	assert.Len(t, c.Lines(), 1)
}
