package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryGuard is an in-process CheckoutGuard
type memoryGuard struct {
	mu        sync.Mutex
	locks     map[string]string
	committed map[string]string
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{locks: make(map[string]string), committed: make(map[string]string)}
}

func (g *memoryGuard) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.locks[key]; held {
		return "", false, nil
	}
	g.locks[key] = "token-" + key
	return g.locks[key], true, nil
}

func (g *memoryGuard) ReleaseLock(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locks[key] == token {
		delete(g.locks, key)
	}
	return nil
}

func (g *memoryGuard) CommittedCheckout(_ context.Context, cartID string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.committed[cartID]
	return id, ok, nil
}

func (g *memoryGuard) MarkCheckoutCommitted(_ context.Context, cartID, txID string, _ time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.committed[cartID] = txID
	return nil
}

var approve = ConfirmFunc(func(context.Context, CheckoutSummary) (bool, error) { return true, nil })

type checkoutFixture struct {
	ledger   *Ledger
	checkout *CheckoutService
	store    *store.MemoryStore
	guard    *memoryGuard
	pub      *recordingPublisher
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	guard := newMemoryGuard()
	f := &checkoutFixture{
		ledger:   NewLedger(st, pub),
		checkout: NewCheckoutService(st, guard, pub, time.Hour),
		store:    st,
		guard:    guard,
		pub:      pub,
	}
	createProduct(t, f.ledger, "A", "Notebook", 10, "10")
	createProduct(t, f.ledger, "B", "Pen", 10, "5")
	return f
}

func (f *checkoutFixture) cart(t *testing.T, lines map[string]int) *Cart {
	t.Helper()
	c := NewCart()
	for _, id := range []string{"A", "B"} {
		for i := 0; i < lines[id]; i++ {
			p, err := f.ledger.GetProduct(context.Background(), id)
			require.NoError(t, err)
			require.Nil(t, c.AddItem(*p))
		}
	}
	return c
}

func salesIn(t *testing.T, st store.Store) []models.Movement {
	t.Helper()
	all, err := store.ListMovements(context.Background(), st)
	require.NoError(t, err)
	var out []models.Movement
	for _, m := range all {
		if m.Type == models.MovementSale {
			out = append(out, m)
		}
	}
	return out
}

func TestCheckoutCommitsSale(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	c := f.cart(t, map[string]int{"A": 2, "B": 3})
	cartID := c.ID()

	receipt, err := f.checkout.Checkout(ctx, staff, c, approve)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "35.00", receipt.Subtotal.StringFixed(2))
	assert.Equal(t, "35.00", receipt.Total.StringFixed(2))
	assert.Equal(t, cartID, receipt.CartID)

	sales := salesIn(t, f.store)
	require.Len(t, sales, 2)
	for _, m := range sales {
		switch m.ProductID {
		case "A":
			assert.Equal(t, "Sold 2 pcs @ 10.00", m.Remarks)
		case "B":
			assert.Equal(t, "Sold 3 pcs @ 5.00", m.Remarks)
		}
	}

	txns, err := store.ListTransactions(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, receipt.TransactionID, txns[0].ID)
	assert.Equal(t, models.TransactionTypeSale, txns[0].Type)
	assert.Equal(t, models.TransactionStatusCompleted, txns[0].Status)

	a, err := store.GetProduct(ctx, f.store, "A")
	require.NoError(t, err)
	assert.Equal(t, 8, a.Quantity)

	assert.Equal(t, CartEmpty, c.State())
	assert.Empty(t, c.Lines())
	assert.NotEqual(t, cartID, c.ID())
	assert.Len(t, f.pub.sales, 1)

	mismatches, err := f.ledger.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestCheckoutEmptyCartIsNoop(t *testing.T) {
	f := newCheckoutFixture(t)
	called := false
	confirm := ConfirmFunc(func(context.Context, CheckoutSummary) (bool, error) {
		called = true
		return true, nil
	})

	receipt, err := f.checkout.Checkout(context.Background(), staff, NewCart(), confirm)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	assert.False(t, called)

	txns, err := store.ListTransactions(context.Background(), f.store)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Empty(t, salesIn(t, f.store))
}

func TestCheckoutDeclined(t *testing.T) {
	f := newCheckoutFixture(t)
	c := f.cart(t, map[string]int{"A": 1})
	decline := ConfirmFunc(func(_ context.Context, s CheckoutSummary) (bool, error) {
		assert.Equal(t, "10.00", s.Total.StringFixed(2))
		return false, nil
	})

	_, err := f.checkout.Checkout(context.Background(), staff, c, decline)
	assert.ErrorIs(t, err, ErrCheckoutNotConfirmed)
	assert.Equal(t, CartBuilding, c.State())
	assert.Len(t, c.Lines(), 1)
	assert.Empty(t, salesIn(t, f.store))
}

func TestCheckoutRevalidatesStock(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	c := f.cart(t, map[string]int{"A": 2, "B": 3})

	// stock drops under the cart from another session
	_, err := f.ledger.AdjustQuantity(ctx, admin, "B", -9, "damaged")
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, staff, c, approve)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "B (Pen)")

	a, err := store.GetProduct(ctx, f.store, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, a.Quantity)
	assert.Empty(t, salesIn(t, f.store))

	txns, err := store.ListTransactions(ctx, f.store)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Equal(t, CartBuilding, c.State())
}

func TestCheckoutStoreFailureRollsBack(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	c := f.cart(t, map[string]int{"A": 1, "B": 1})

	f.store.SetFault(func(op, collection string) error {
		if collection == models.CollectionTransactions {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err := f.checkout.Checkout(ctx, staff, c, approve)
	require.Error(t, err)
	assert.True(t, models.IsStore(err))
	f.store.SetFault(nil)

	a, err := store.GetProduct(ctx, f.store, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, a.Quantity)
	assert.Empty(t, salesIn(t, f.store))
	assert.Len(t, c.Lines(), 2)

	receipt, err := f.checkout.Checkout(ctx, staff, c, approve)
	require.NoError(t, err)
	assert.Equal(t, "15.00", receipt.Total.StringFixed(2))
}

func TestCheckoutUsesLivePrice(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	c := f.cart(t, map[string]int{"A": 1})

	price := mustDecimal("12.50")
	_, err := f.ledger.EditProduct(ctx, admin, "A", ProductEdit{Price: &price})
	require.NoError(t, err)

	receipt, err := f.checkout.Checkout(ctx, staff, c, approve)
	require.NoError(t, err)
	assert.Equal(t, "12.50", receipt.Total.StringFixed(2))
}

func TestCheckoutReplayForCommittedCart(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	c := f.cart(t, map[string]int{"A": 1})
	cartID := c.ID()

	first, err := f.checkout.Checkout(ctx, staff, c, approve)
	require.NoError(t, err)

	again, err := f.checkout.Replay(ctx, cartID)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.TransactionID, again.TransactionID)
	assert.True(t, first.Total.Equal(again.Total))

	none, err := f.checkout.Replay(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)

	txns, err := store.ListTransactions(ctx, f.store)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestCheckoutLockHeldElsewhere(t *testing.T) {
	f := newCheckoutFixture(t)
	ctx := context.Background()
	c := f.cart(t, map[string]int{"A": 1})

	_, ok, err := f.guard.AcquireLock(ctx, "checkout:"+c.ID(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.checkout.Checkout(ctx, staff, c, approve)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, CartBuilding, c.State())
}

func TestCheckoutWithoutGuard(t *testing.T) {
	st := store.NewMemoryStore()
	l := NewLedger(st, nil)
	createProduct(t, l, "A", "Notebook", 3, "4")
	svc := NewCheckoutService(st, nil, nil, 0)

	c := NewCart()
	p, err := l.GetProduct(context.Background(), "A")
	require.NoError(t, err)
	require.Nil(t, c.AddItem(*p))

	receipt, err := svc.Checkout(context.Background(), staff, c, approve)
	require.NoError(t, err)
	assert.Equal(t, "4.00", receipt.Total.StringFixed(2))
}
