package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inventory-service/internal/identity"
	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

// Session is the state one signed-in operator works against: identity, resolved
// role, cart, the latest catalog and the dashboard derived from it.
type Session struct {
	identity  identity.Identity
	role      models.Role
	cart      *Cart
	threshold int
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	mu           sync.RWMutex
	products     []models.Product
	movements    []models.Movement
	transactions []models.Transaction
	dashboard    Dashboard
	cancels      []func()
	closed       bool
}

// OpenSession resolves the role for id and subscribes to the shared collections.
// Each snapshot replaces the cached set and recomputes the dashboard.
func OpenSession(ctx context.Context, st store.Store, users *UserAdmin, id identity.Identity, threshold int, loc *time.Location) (*Session, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Session{
		identity:  id,
		role:      users.ResolveRole(ctx, id.Email),
		cart:      NewCart(),
		threshold: threshold,
		loc:       loc,
		now:       time.Now,
		logger:    util.Named("session").With(zap.String("uid", id.UID)),
	}

	subs := []struct {
		collection string
		apply      func([]store.Document) error
	}{
		{models.CollectionProducts, s.applyProducts},
		{models.CollectionLogs, s.applyMovements},
		{models.CollectionTransactions, s.applyTransactions},
	}
	for _, sub := range subs {
		sub := sub
		cancel, err := st.Subscribe(ctx, sub.collection, func(snap store.Snapshot) {
			if err := sub.apply(snap.Documents); err != nil {
				s.logger.Error("Failed to apply snapshot",
					zap.String("collection", snap.Collection),
					zap.Error(err))
			}
		})
		if err != nil {
			s.Close()
			return nil, models.StoreFailure(fmt.Sprintf("subscribe to %s", sub.collection), err)
		}
		s.mu.Lock()
		s.cancels = append(s.cancels, cancel)
		s.mu.Unlock()
	}

	s.logger.Info("Session opened", zap.String("email", id.Email), zap.String("role", string(s.role)))
	return s, nil
}

func (s *Session) Identity() identity.Identity { return s.identity }

func (s *Session) Role() models.Role { return s.role }

func (s *Session) Cart() *Cart { return s.cart }

// Actor is the session identity combined with its role
func (s *Session) Actor() models.Actor {
	return models.Actor{UserID: s.identity.UID, Email: s.identity.Email, Role: s.role}
}

// Dashboard returns the figures computed from the latest snapshots
func (s *Session) Dashboard() Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dashboard
}

// Products returns the latest catalog snapshot, archived products included
func (s *Session) Products() []models.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Product, len(s.products))
	copy(out, s.products)
	return out
}

// Product looks a product up in the latest catalog snapshot
func (s *Session) Product(productID string) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.ID == productID {
			return p, true
		}
	}
	return models.Product{}, false
}

// Close cancels the subscriptions. The session receives nothing afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.logger.Info("Session closed")
}

func (s *Session) applyProducts(docs []store.Document) error {
	products, err := store.DecodeProducts(docs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.products = products
	s.recompute()
	s.mu.Unlock()

	s.cart.ReconcileWithCatalog(products)
	return nil
}

func (s *Session) applyMovements(docs []store.Document) error {
	movements, err := store.DecodeMovements(docs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = movements
	s.recompute()
	return nil
}

func (s *Session) applyTransactions(docs []store.Document) error {
	transactions, err := store.DecodeTransactions(docs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = transactions
	s.recompute()
	return nil
}

// recompute must be called with mu held
func (s *Session) recompute() {
	s.dashboard = ComputeDashboard(s.products, s.movements, s.transactions, s.now(), s.loc, s.threshold)
}

// SessionManager keeps one session per identity uid
type SessionManager struct {
	store     store.Store
	users     *UserAdmin
	threshold int
	loc       *time.Location
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a new session manager. Sessions of a user whose role
// record changes are closed, so the next request resolves the role again.
func NewSessionManager(st store.Store, users *UserAdmin, threshold int, loc *time.Location) *SessionManager {
	m := &SessionManager{
		store:     st,
		users:     users,
		threshold: threshold,
		loc:       loc,
		logger:    util.GetLogger(),
		sessions:  make(map[string]*Session),
	}
	users.OnChange(m.CloseEmail)
	return m
}

// Get returns the open session for id, opening one on first use
func (m *SessionManager) Get(ctx context.Context, id identity.Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id.UID]; ok {
		return s, nil
	}
	s, err := OpenSession(ctx, m.store, m.users, id, m.threshold, m.loc)
	if err != nil {
		return nil, err
	}
	m.sessions[id.UID] = s
	util.ActiveSessions.Set(float64(len(m.sessions)))
	return s, nil
}

// Close tears down the session of uid, if any
func (m *SessionManager) Close(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	util.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}

// CloseEmail tears down every session signed in as email
func (m *SessionManager) CloseEmail(email string) {
	key := store.UserKey(email)

	m.mu.Lock()
	var closing []*Session
	for uid, s := range m.sessions {
		if store.UserKey(s.identity.Email) == key {
			closing = append(closing, s)
			delete(m.sessions, uid)
		}
	}
	util.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, s := range closing {
		m.logger.Info("Closing session after role change", zap.String("email", key))
		s.Close()
	}
}

// CloseAll tears down every session
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	util.ActiveSessions.Set(0)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// OnIdentityChange closes the session of an identity that signed out
func (m *SessionManager) OnIdentityChange(id identity.Identity, signedIn bool) {
	if !signedIn {
		m.Close(id.UID)
	}
}
