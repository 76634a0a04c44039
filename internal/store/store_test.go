package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGetPatchDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := &models.Product{ID: "P1", Name: "Rice", Price: decimal.RequireFromString("2.50"), Quantity: 10}
	require.NoError(t, PutProduct(ctx, s, p))

	got, err := GetProduct(ctx, s, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Rice", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("2.5")))

	require.NoError(t, s.Patch(ctx, models.CollectionProducts, "P1", map[string]interface{}{"quantity": 7}))
	got, err = GetProduct(ctx, s, "P1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Quantity)
	assert.Equal(t, "Rice", got.Name)

	assert.ErrorIs(t, s.Patch(ctx, models.CollectionProducts, "nope", map[string]interface{}{"quantity": 1}), ErrNotFound)

	require.NoError(t, s.Delete(ctx, models.CollectionProducts, "P1"))
	_, err = GetProduct(ctx, s, "P1")
	assert.True(t, models.IsNotFound(err))
}

func TestMemoryAppendGeneratesIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := &models.Movement{ProductID: "P1", Qty: 1, Type: models.MovementIn}
	b := &models.Movement{ProductID: "P1", Qty: 2, Type: models.MovementOut}
	require.NoError(t, AppendMovement(ctx, s, a))
	require.NoError(t, AppendMovement(ctx, s, b))
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	logs, err := ListMovements(ctx, s)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, m := range logs {
		assert.NotEmpty(t, m.ID)
	}
}

func TestMemoryTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, PutProduct(ctx, s, &models.Product{ID: "P1", Quantity: 5}))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx Tx) error {
		if err := tx.Patch(ctx, models.CollectionProducts, "P1", map[string]interface{}{"quantity": 0}); err != nil {
			return err
		}
		if err := AppendMovement(ctx, tx, &models.Movement{ProductID: "P1", Qty: 5, Type: models.MovementOut}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := GetProduct(ctx, s, "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Quantity)
	logs, err := ListMovements(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestMemoryTxReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.RunInTx(ctx, func(tx Tx) error {
		require.NoError(t, PutProduct(ctx, tx, &models.Product{ID: "P1", Quantity: 3}))
		p, err := GetProduct(ctx, tx, "P1")
		require.NoError(t, err)
		assert.Equal(t, 3, p.Quantity)
		require.NoError(t, tx.Delete(ctx, models.CollectionProducts, "P1"))
		_, err = GetProduct(ctx, tx, "P1")
		assert.True(t, models.IsNotFound(err))
		return nil
	})
	require.NoError(t, err)

	products, err := ListProducts(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestMemoryFaultAbortsWholeTx(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetFault(func(op, collection string) error {
		if collection == models.CollectionLogs {
			return errors.New("logs unavailable")
		}
		return nil
	})

	err := s.RunInTx(ctx, func(tx Tx) error {
		if err := PutProduct(ctx, tx, &models.Product{ID: "P1"}); err != nil {
			return err
		}
		return AppendMovement(ctx, tx, &models.Movement{ProductID: "P1"})
	})
	assert.EqualError(t, err, "logs unavailable")

	products, err := ListProducts(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestMemoryCreateIsInsertOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, CreateProduct(ctx, s, &models.Product{ID: "P1", Name: "Rice"}))

	assert.ErrorIs(t, s.Create(ctx, models.CollectionProducts, "P1", &models.Product{ID: "P1"}), ErrExists)
	err := CreateProduct(ctx, s, &models.Product{ID: "P1", Name: "Beans"})
	assert.True(t, models.IsValidation(err))

	// a conflict inside a transaction discards its earlier writes
	err = s.RunInTx(ctx, func(tx Tx) error {
		if err := AppendMovement(ctx, tx, &models.Movement{ProductID: "P1", Qty: 3, Type: models.MovementIn}); err != nil {
			return err
		}
		return CreateProduct(ctx, tx, &models.Product{ID: "P1", Name: "Beans"})
	})
	assert.True(t, models.IsValidation(err))

	p, err := GetProduct(ctx, s, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Rice", p.Name)
	logs, err := ListMovements(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, logs)

	require.NoError(t, CreateUser(ctx, s, &models.User{Email: "Clerk@Shop.test", Role: models.RoleStaff}))
	err = CreateUser(ctx, s, &models.User{Email: "clerk@shop.test", Role: models.RoleAdmin})
	assert.True(t, models.IsValidation(err))
}

func TestMemorySubscribeDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, PutProduct(ctx, s, &models.Product{ID: "P1"}))

	var sizes []int
	cancel, err := s.Subscribe(ctx, models.CollectionProducts, func(snap Snapshot) {
		assert.Equal(t, models.CollectionProducts, snap.Collection)
		sizes = append(sizes, len(snap.Documents))
	})
	require.NoError(t, err)

	require.NoError(t, PutProduct(ctx, s, &models.Product{ID: "P2"}))
	// other collections do not notify
	require.NoError(t, AppendMovement(ctx, s, &models.Movement{ProductID: "P2"}))
	require.NoError(t, s.Delete(ctx, models.CollectionProducts, "P1"))

	cancel()
	require.NoError(t, PutProduct(ctx, s, &models.Product{ID: "P3"}))

	assert.Equal(t, []int{1, 2, 1}, sizes)
}

func TestUserKeyNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, PutUser(ctx, s, &models.User{Email: "Admin@Shop.test", Role: models.RoleAdmin}))

	u, err := GetUser(ctx, s, " admin@shop.test ")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	s, err := NewPostgresStore(url)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, models.CollectionProducts, "it-P1"))
	require.NoError(t, PutProduct(ctx, s, &models.Product{ID: "it-P1", Quantity: 4}))

	err = s.RunInTx(ctx, func(tx Tx) error {
		p, err := GetProduct(ctx, tx, "it-P1")
		if err != nil {
			return err
		}
		return tx.Patch(ctx, models.CollectionProducts, p.ID, map[string]interface{}{"quantity": p.Quantity - 1})
	})
	require.NoError(t, err)

	p, err := GetProduct(ctx, s, "it-P1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)

	err = CreateProduct(ctx, s, &models.Product{ID: "it-P1", Quantity: 9})
	assert.True(t, models.IsValidation(err))
	p, err = GetProduct(ctx, s, "it-P1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)
}

func TestOpenSelectsDriver(t *testing.T) {
	st, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	_, err = Open("sqlite", "")
	assert.Error(t, err)
}
