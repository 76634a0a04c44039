package main

import (
	"bytes"
	"context"
	"testing"

	"inventory-service/config"
	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	t.Setenv("TIMEZONE", "UTC")
	st := store.NewMemoryStore()
	orig := openStore
	openStore = func(*config.Config) (store.Store, error) { return st, nil }
	t.Cleanup(func() { openStore = orig })
	return st
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func seedProduct(t *testing.T, st store.Store) {
	t.Helper()
	actor := models.Actor{UserID: "u1", Email: "owner@shop.test", Role: models.RoleAdmin}
	_, err := service.NewLedger(st, nil).CreateProduct(context.Background(), actor, service.NewProduct{
		ID: "P1", Name: "Stapler", Price: decimal.NewFromInt(4), Quantity: 3,
	})
	require.NoError(t, err)
}

func TestVerifyReportsDrift(t *testing.T) {
	st := useStore(t)
	seedProduct(t, st)

	_, err := execute(t, "verify")
	require.NoError(t, err)

	require.NoError(t, st.Patch(context.Background(), models.CollectionProducts, "P1", map[string]interface{}{"quantity": 7}))
	out, err := execute(t, "verify")
	assert.Error(t, err)
	assert.Contains(t, out, `"productId": "P1"`)
}

func TestDashboardCommand(t *testing.T) {
	st := useStore(t)
	seedProduct(t, st)

	out, err := execute(t, "dashboard")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalProducts": 1`)
	assert.Contains(t, out, `"lowStockCount": 1`)
}

func TestDailySalesValidatesDates(t *testing.T) {
	useStore(t)

	_, err := execute(t, "daily-sales", "--from", "01/02/2024", "--to", "2024-01-03")
	assert.Error(t, err)

	out, err := execute(t, "daily-sales", "--from", "2024-01-01", "--to", "2024-01-03")
	require.NoError(t, err)
	assert.Contains(t, out, `"date": "2024-01-03"`)
}

func TestBootstrapAdmin(t *testing.T) {
	st := useStore(t)

	out, err := execute(t, "bootstrap-admin", "Owner@Shop.Test")
	require.NoError(t, err)
	assert.Contains(t, out, "is an Admin")

	role := service.NewUserAdmin(st).ResolveRole(context.Background(), "owner@shop.test")
	assert.Equal(t, models.RoleAdmin, role)
}

func TestBootstrapAdminPromotesExistingUser(t *testing.T) {
	st := useStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutUser(ctx, st, &models.User{Email: "owner@shop.test", Role: models.RoleAdmin, Disabled: true}))
	require.NoError(t, store.PutUser(ctx, st, &models.User{Email: "clerk@shop.test", Role: models.RoleStaff}))

	users := service.NewUserAdmin(st)
	for _, email := range []string{"owner@shop.test", "clerk@shop.test"} {
		_, err := execute(t, "bootstrap-admin", email)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, users.ResolveRole(ctx, email))
	}

	_, err := execute(t, "bootstrap-admin", "not-an-email")
	assert.Error(t, err)
}
