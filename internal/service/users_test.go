package service

import (
	"context"
	"sync"
	"testing"

	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAdminLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	u := NewUserAdmin(st)
	ctx := context.Background()

	user, err := u.CreateUser(ctx, admin, " Clerk@Shop.Test ", models.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, "clerk@shop.test", user.Email)
	assert.Equal(t, models.RoleStaff, u.ResolveRole(ctx, "CLERK@shop.test"))

	_, err = u.CreateUser(ctx, admin, "clerk@shop.test", models.RoleViewer)
	assert.True(t, models.IsValidation(err))

	_, err = u.SetRole(ctx, admin, "clerk@shop.test", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.ResolveRole(ctx, "clerk@shop.test"))

	_, err = u.SetDisabled(ctx, admin, "clerk@shop.test", true)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, u.ResolveRole(ctx, "clerk@shop.test"))

	users, err := u.ListUsers(ctx, admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].Disabled)

	require.NoError(t, u.DeleteUser(ctx, admin, "clerk@shop.test"))
	assert.Equal(t, models.RoleViewer, u.ResolveRole(ctx, "clerk@shop.test"))
	assert.True(t, models.IsNotFound(u.DeleteUser(ctx, admin, "clerk@shop.test")))
}

func TestUserAdminRequiresAdmin(t *testing.T) {
	u := NewUserAdmin(store.NewMemoryStore())
	ctx := context.Background()

	_, err := u.CreateUser(ctx, staff, "x@shop.test", models.RoleStaff)
	assert.True(t, models.IsPermission(err))
	_, err = u.SetRole(ctx, staff, "x@shop.test", models.RoleStaff)
	assert.True(t, models.IsPermission(err))
	_, err = u.SetDisabled(ctx, viewer, "x@shop.test", true)
	assert.True(t, models.IsPermission(err))
	assert.True(t, models.IsPermission(u.DeleteUser(ctx, staff, "x@shop.test")))
	_, err = u.ListUsers(ctx, staff)
	assert.True(t, models.IsPermission(err))

	// the role gate runs before the new role is looked at
	_, err = u.SetRole(ctx, viewer, "x@shop.test", models.Role("Owner"))
	assert.True(t, models.IsPermission(err))
}

func TestUserAdminValidation(t *testing.T) {
	u := NewUserAdmin(store.NewMemoryStore())
	ctx := context.Background()

	_, err := u.CreateUser(ctx, admin, "not-an-email", models.RoleStaff)
	assert.True(t, models.IsValidation(err))
	_, err = u.CreateUser(ctx, admin, "", models.RoleStaff)
	assert.True(t, models.IsValidation(err))
	_, err = u.CreateUser(ctx, admin, "x@shop.test", models.Role("Owner"))
	assert.True(t, models.IsValidation(err))
	_, err = u.SetRole(ctx, admin, "missing@shop.test", models.RoleStaff)
	assert.True(t, models.IsNotFound(err))
}

func TestAdminCannotLockThemselvesOut(t *testing.T) {
	u := NewUserAdmin(store.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, u.EnsureAdmin(ctx, admin.Email))

	_, err := u.SetDisabled(ctx, admin, admin.Email, true)
	assert.True(t, models.IsValidation(err))
	_, err = u.SetRole(ctx, admin, admin.Email, models.RoleViewer)
	assert.True(t, models.IsValidation(err))
	assert.True(t, models.IsValidation(u.DeleteUser(ctx, admin, admin.Email)))
	assert.Equal(t, models.RoleAdmin, u.ResolveRole(ctx, admin.Email))
}

func TestEnsureAdminKeepsExistingRecord(t *testing.T) {
	st := store.NewMemoryStore()
	u := NewUserAdmin(st)
	ctx := context.Background()
	require.NoError(t, store.PutUser(ctx, st, &models.User{Email: "boss@shop.test", Role: models.RoleStaff}))

	require.NoError(t, u.EnsureAdmin(ctx, "boss@shop.test"))
	assert.Equal(t, models.RoleStaff, u.ResolveRole(ctx, "boss@shop.test"))
}

func TestConcurrentCreateUserKeepsFirstRole(t *testing.T) {
	st := store.NewMemoryStore()
	u := NewUserAdmin(st)
	ctx := context.Background()

	roles := []models.Role{models.RoleStaff, models.RoleViewer, models.RoleAdmin, models.RoleStaff}
	results := make(chan *models.User, len(roles))
	var wg sync.WaitGroup
	for _, role := range roles {
		wg.Add(1)
		go func(role models.Role) {
			defer wg.Done()
			user, err := u.CreateUser(ctx, admin, "clerk@shop.test", role)
			if err != nil {
				assert.True(t, models.IsValidation(err))
				return
			}
			results <- user
		}(role)
	}
	wg.Wait()
	close(results)

	var winners []*models.User
	for user := range results {
		winners = append(winners, user)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0].Role, u.ResolveRole(ctx, "clerk@shop.test"))
}

func TestResolveRoleFailsClosed(t *testing.T) {
	st := store.NewMemoryStore()
	u := NewUserAdmin(st)
	ctx := context.Background()

	assert.Equal(t, models.RoleViewer, u.ResolveRole(ctx, ""))
	assert.Equal(t, models.RoleViewer, u.ResolveRole(ctx, "nobody@shop.test"))

	require.NoError(t, st.Put(ctx, models.CollectionUsers, "odd@shop.test", map[string]interface{}{"email": "odd@shop.test", "role": "Root"}))
	assert.Equal(t, models.RoleViewer, u.ResolveRole(ctx, "odd@shop.test"))

	require.NoError(t, st.Put(ctx, models.CollectionUsers, "bad@shop.test", "not an object"))
	assert.Equal(t, models.RoleViewer, u.ResolveRole(ctx, "bad@shop.test"))
}

func TestPermissionGate(t *testing.T) {
	assert.True(t, CanArchive(models.RoleAdmin))
	assert.True(t, CanArchive(models.RoleStaff))
	assert.False(t, CanArchive(models.RoleViewer))
	assert.True(t, CanManageUsers(models.RoleAdmin))
	assert.False(t, CanManageUsers(models.RoleStaff))
	assert.False(t, CanOperate(models.RoleViewer))
	assert.False(t, CanOperate(models.Role("")))
}

func TestGrantAdminOverridesExistingRecord(t *testing.T) {
	st := store.NewMemoryStore()
	u := NewUserAdmin(st)
	ctx := context.Background()
	require.NoError(t, store.PutUser(ctx, st, &models.User{Email: "boss@shop.test", Role: models.RoleAdmin, Disabled: true}))
	require.NoError(t, store.PutUser(ctx, st, &models.User{Email: "clerk@shop.test", Role: models.RoleStaff}))

	user, err := u.GrantAdmin(ctx, "Boss@Shop.Test")
	require.NoError(t, err)
	assert.False(t, user.Disabled)
	assert.Equal(t, models.RoleAdmin, u.ResolveRole(ctx, "boss@shop.test"))

	_, err = u.GrantAdmin(ctx, "clerk@shop.test")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.ResolveRole(ctx, "clerk@shop.test"))

	_, err = u.GrantAdmin(ctx, "new@shop.test")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.ResolveRole(ctx, "new@shop.test"))

	_, err = u.GrantAdmin(ctx, "nope")
	assert.True(t, models.IsValidation(err))
}

func TestUserChangesNotifyListeners(t *testing.T) {
	u := NewUserAdmin(store.NewMemoryStore())
	ctx := context.Background()
	var changed []string
	u.OnChange(func(email string) { changed = append(changed, email) })

	_, err := u.CreateUser(ctx, admin, "clerk@shop.test", models.RoleStaff)
	require.NoError(t, err)
	assert.Empty(t, changed)

	_, err = u.SetRole(ctx, admin, "Clerk@Shop.Test", models.RoleViewer)
	require.NoError(t, err)
	_, err = u.SetDisabled(ctx, admin, "clerk@shop.test", true)
	require.NoError(t, err)
	require.NoError(t, u.DeleteUser(ctx, admin, "clerk@shop.test"))

	// rejected changes are not announced
	_, err = u.SetRole(ctx, staff, "clerk@shop.test", models.RoleAdmin)
	require.Error(t, err)

	assert.Equal(t, []string{"clerk@shop.test", "clerk@shop.test", "clerk@shop.test"}, changed)
}
