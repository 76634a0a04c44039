package service

import (
	"context"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// UserAdmin manages role records. Identity-provider accounts are not provisioned here.
type UserAdmin struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners []func(email string)
}

// NewUserAdmin creates a new user administration service
func NewUserAdmin(st store.Store) *UserAdmin {
	return &UserAdmin{
		store:  st,
		logger: util.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveRole returns the role for email. A missing or disabled record, or a failed
// lookup, resolves to Viewer.
func (u *UserAdmin) ResolveRole(ctx context.Context, email string) models.Role {
	if strings.TrimSpace(email) == "" {
		return models.RoleViewer
	}
	user, err := store.GetUser(ctx, u.store, email)
	if err != nil {
		if !models.IsNotFound(err) {
			u.logger.Warn("Role lookup failed, defaulting to Viewer", zap.String("email", email), zap.Error(err))
		}
		return models.RoleViewer
	}
	if user.Disabled || !user.Role.Valid() {
		return models.RoleViewer
	}
	return user.Role
}

// OnChange registers fn to run after a user's role record changes or is removed.
// fn receives the normalized email.
func (u *UserAdmin) OnChange(fn func(email string)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, fn)
}

func (u *UserAdmin) notify(email string) {
	u.mu.RLock()
	listeners := append([]func(string){}, u.listeners...)
	u.mu.RUnlock()
	for _, fn := range listeners {
		fn(email)
	}
}

// EnsureAdmin creates an Admin record for email when none exists. An existing
// record is left as it is.
func (u *UserAdmin) EnsureAdmin(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	err = store.CreateUser(ctx, u.store, &models.User{Email: email, Role: models.RoleAdmin, CreatedAt: u.now()})
	if models.IsValidation(err) {
		return nil
	}
	if err != nil {
		return models.StoreFailure("bootstrap admin "+email, err)
	}
	u.logger.Info("Bootstrapped admin user", zap.String("email", email))
	return nil
}

// GrantAdmin makes email an enabled Admin, creating the record when needed. It is an
// operator path with no acting user, so it bypasses the role gate.
func (u *UserAdmin) GrantAdmin(ctx context.Context, email string) (user *models.User, err error) {
	ctx, span := util.StartSpan(ctx, "UserAdmin.GrantAdmin", attribute.String("email", email))
	defer func() { util.EndSpan(span, err) }()

	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	err = u.store.RunInTx(ctx, func(tx store.Tx) error {
		current, err := store.GetUser(ctx, tx, email)
		if models.IsNotFound(err) {
			user = &models.User{Email: email, Role: models.RoleAdmin, CreatedAt: u.now()}
			return store.CreateUser(ctx, tx, user)
		}
		if err != nil {
			return err
		}
		current.Role = models.RoleAdmin
		current.Disabled = false
		user = current
		return store.PutUser(ctx, tx, current)
	})
	if err != nil {
		return nil, models.StoreFailure("grant admin to "+email, err)
	}

	u.logger.Info("Admin role granted", zap.String("email", email))
	u.notify(email)
	return user, nil
}

// CreateUser writes a new role record
func (u *UserAdmin) CreateUser(ctx context.Context, actor models.Actor, email string, role models.Role) (user *models.User, err error) {
	ctx, span := util.StartSpan(ctx, "UserAdmin.CreateUser", attribute.String("email", email))
	defer func() { util.EndSpan(span, err) }()

	if !CanManageUsers(actor.Role) {
		return nil, models.Forbidden(actor.Role, "manage users")
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, models.Invalid("user "+email, "unknown role %q", role)
	}

	user = &models.User{Email: email, Role: role, CreatedAt: u.now()}
	if err := store.CreateUser(ctx, u.store, user); err != nil {
		return nil, models.StoreFailure("create user "+email, err)
	}

	u.logger.Info("User created", zap.String("email", email), zap.String("role", string(role)), zap.String("by", actor.Email))
	return user, nil
}

// SetRole changes the role of an existing user
func (u *UserAdmin) SetRole(ctx context.Context, actor models.Actor, email string, role models.Role) (*models.User, error) {
	return u.update(ctx, actor, "UserAdmin.SetRole", email, func(user *models.User) error {
		if !role.Valid() {
			return models.Invalid("user "+user.Email, "unknown role %q", role)
		}
		if isSelf(actor, user) && role != models.RoleAdmin {
			return models.Invalid("user "+user.Email, "admins cannot demote themselves")
		}
		user.Role = role
		return nil
	})
}

// SetDisabled enables or disables a user. Disabled users resolve to Viewer.
func (u *UserAdmin) SetDisabled(ctx context.Context, actor models.Actor, email string, disabled bool) (*models.User, error) {
	return u.update(ctx, actor, "UserAdmin.SetDisabled", email, func(user *models.User) error {
		if isSelf(actor, user) && disabled {
			return models.Invalid("user "+user.Email, "admins cannot disable themselves")
		}
		user.Disabled = disabled
		return nil
	})
}

// DeleteUser removes the role record. The identity-provider account is left in place.
func (u *UserAdmin) DeleteUser(ctx context.Context, actor models.Actor, email string) (err error) {
	ctx, span := util.StartSpan(ctx, "UserAdmin.DeleteUser", attribute.String("email", email))
	defer func() { util.EndSpan(span, err) }()

	if !CanManageUsers(actor.Role) {
		return models.Forbidden(actor.Role, "manage users")
	}
	err = u.store.RunInTx(ctx, func(tx store.Tx) error {
		user, err := store.GetUser(ctx, tx, email)
		if err != nil {
			return err
		}
		if isSelf(actor, user) {
			return models.Invalid("user "+user.Email, "admins cannot delete themselves")
		}
		return tx.Delete(ctx, models.CollectionUsers, store.UserKey(email))
	})
	if err != nil {
		return models.StoreFailure("delete user "+email, err)
	}

	u.logger.Info("User deleted", zap.String("email", email), zap.String("by", actor.Email))
	u.notify(store.UserKey(email))
	return nil
}

// ListUsers returns every role record ordered by email
func (u *UserAdmin) ListUsers(ctx context.Context, actor models.Actor) ([]models.User, error) {
	if !CanManageUsers(actor.Role) {
		return nil, models.Forbidden(actor.Role, "manage users")
	}
	users, err := store.ListUsers(ctx, u.store)
	if err != nil {
		return nil, models.StoreFailure("list users", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (u *UserAdmin) update(ctx context.Context, actor models.Actor, spanName, email string, mutate func(*models.User) error) (user *models.User, err error) {
	ctx, span := util.StartSpan(ctx, spanName, attribute.String("email", email))
	defer func() { util.EndSpan(span, err) }()

	if !CanManageUsers(actor.Role) {
		return nil, models.Forbidden(actor.Role, "manage users")
	}
	err = u.store.RunInTx(ctx, func(tx store.Tx) error {
		current, err := store.GetUser(ctx, tx, email)
		if err != nil {
			return err
		}
		if err := mutate(current); err != nil {
			return err
		}
		user = current
		return store.PutUser(ctx, tx, current)
	})
	if err != nil {
		return nil, models.StoreFailure("update user "+email, err)
	}

	u.logger.Info("User updated",
		zap.String("email", user.Email),
		zap.String("role", string(user.Role)),
		zap.Bool("disabled", user.Disabled),
		zap.String("by", actor.Email))
	u.notify(user.Email)
	return user, nil
}

func isSelf(actor models.Actor, user *models.User) bool {
	return store.UserKey(actor.Email) == store.UserKey(user.Email)
}

func normalizeEmail(email string) (string, error) {
	email = store.UserKey(email)
	if email == "" {
		return "", models.Invalid("user", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", models.Invalid("user "+email, "invalid email address")
	}
	return email, nil
}
