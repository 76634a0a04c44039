package service

import (
	"context"
	"testing"
	"time"

	"inventory-service/internal/identity"
	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTracksStoreChanges(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, nil)
	users := NewUserAdmin(st)
	ctx := context.Background()
	require.NoError(t, users.EnsureAdmin(ctx, "owner@shop.test"))

	createProduct(t, l, "A", "Notebook", 3, "10")

	s, err := OpenSession(ctx, st, users, identity.Identity{UID: "u1", Email: "owner@shop.test"}, 5, time.Local)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, models.RoleAdmin, s.Role())
	assert.Equal(t, 1, s.Dashboard().TotalProducts)
	assert.Equal(t, 1, s.Dashboard().LowStockCount)

	createProduct(t, l, "B", "Pen", 20, "1")
	assert.Equal(t, 2, s.Dashboard().TotalProducts)
	assert.Equal(t, 2, s.Dashboard().StockMovementToday)
	assert.Len(t, s.Products(), 2)

	p, ok := s.Product("B")
	require.True(t, ok)
	require.Nil(t, s.Cart().AddItem(p))

	require.NoError(t, l.ArchiveProduct(ctx, s.Actor(), "B"))
	assert.Empty(t, s.Cart().Lines())
	assert.Equal(t, 1, s.Dashboard().TotalProducts)
}

func TestSessionCloseStopsUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, nil)
	ctx := context.Background()

	s, err := OpenSession(ctx, st, NewUserAdmin(st), identity.Identity{UID: "u1", Email: "someone@shop.test"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, s.Role())

	s.Close()
	s.Close()
	createProduct(t, l, "A", "Notebook", 3, "10")
	assert.Equal(t, 0, s.Dashboard().TotalProducts)
}

func TestSessionCheckoutUpdatesDashboard(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, nil)
	ctx := context.Background()
	createProduct(t, l, "A", "Notebook", 5, "10")

	s, err := OpenSession(ctx, st, NewUserAdmin(st), identity.Identity{UID: "u1", Email: "a@shop.test"}, 0, time.Local)
	require.NoError(t, err)
	defer s.Close()

	p, _ := s.Product("A")
	require.Nil(t, s.Cart().AddItem(p))
	require.Nil(t, s.Cart().AddItem(p))

	_, err = NewCheckoutService(st, nil, nil, time.Hour).Checkout(ctx, staff, s.Cart(), approve)
	require.NoError(t, err)

	d := s.Dashboard()
	assert.Equal(t, "20.00", d.TotalSales.StringFixed(2))
	assert.Equal(t, "20.00", d.TodaysSales.StringFixed(2))
	assert.Equal(t, "30.00", d.StockValue.StringFixed(2))
	assert.Equal(t, CartEmpty, s.Cart().State())
}

func TestSessionManager(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewSessionManager(st, NewUserAdmin(st), 5, time.Local)
	ctx := context.Background()
	id := identity.Identity{UID: "u1", Email: "a@shop.test"}

	first, err := m.Get(ctx, id)
	require.NoError(t, err)
	again, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, first, again)

	m.OnIdentityChange(id, false)
	third, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	m.CloseAll()
	m.Close("unknown")
}
