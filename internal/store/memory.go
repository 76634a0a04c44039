package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type docKey struct {
	collection string
	id         string
}

// MemoryStore is an in-process Store. Transactions are serialized.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]map[string]json.RawMessage
	hub   *hub
	fault func(op, collection string) error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]json.RawMessage),
		hub:  newHub(),
	}
}

// SetFault installs a hook consulted before every write; a non-nil result fails the write.
func (m *MemoryStore) SetFault(fn func(op, collection string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[collection][id]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *MemoryStore) Put(ctx context.Context, collection, id string, doc interface{}) error {
	return m.RunInTx(ctx, func(tx Tx) error { return tx.Put(ctx, collection, id, doc) })
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, doc interface{}) error {
	return m.RunInTx(ctx, func(tx Tx) error { return tx.Create(ctx, collection, id, doc) })
}

func (m *MemoryStore) Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return m.RunInTx(ctx, func(tx Tx) error { return tx.Patch(ctx, collection, id, fields) })
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return m.RunInTx(ctx, func(tx Tx) error { return tx.Delete(ctx, collection, id) })
}

func (m *MemoryStore) Append(ctx context.Context, collection string, doc interface{}) (string, error) {
	var id string
	err := m.RunInTx(ctx, func(tx Tx) error {
		var err error
		id, err = tx.Append(ctx, collection, doc)
		return err
	})
	return id, err
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]Document, 0, len(m.data[collection]))
	for id, raw := range m.data[collection] {
		docs = append(docs, Document{ID: id, Data: raw})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string, fn func(Snapshot)) (func(), error) {
	id, sub := m.hub.add(collection, fn)
	m.hub.deliver(ctx, sub, collection, m)
	return func() { m.hub.remove(collection, id) }, nil
}

// RunInTx stages writes and applies them only if fn returns nil.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	tx := &memTx{store: m, writes: make(map[docKey]json.RawMessage)}
	if err := fn(tx); err != nil {
		m.mu.Unlock()
		return err
	}

	changed := make(map[string]bool)
	for _, key := range tx.order {
		raw := tx.writes[key]
		if raw == nil {
			delete(m.data[key.collection], key.id)
		} else {
			if m.data[key.collection] == nil {
				m.data[key.collection] = make(map[string]json.RawMessage)
			}
			m.data[key.collection][key.id] = raw
		}
		changed[key.collection] = true
	}
	m.mu.Unlock()

	for collection := range changed {
		m.hub.notify(ctx, collection, m)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// memTx runs with the store write lock held
type memTx struct {
	store  *MemoryStore
	writes map[docKey]json.RawMessage
	order  []docKey
}

func (t *memTx) lookup(collection, id string) (json.RawMessage, bool) {
	key := docKey{collection, id}
	if raw, staged := t.writes[key]; staged {
		return raw, raw != nil
	}
	raw, ok := t.store.data[collection][id]
	return raw, ok
}

func (t *memTx) stage(op, collection, id string, raw json.RawMessage) error {
	if t.store.fault != nil {
		if err := t.store.fault(op, collection); err != nil {
			return err
		}
	}
	key := docKey{collection, id}
	if _, seen := t.writes[key]; !seen {
		t.order = append(t.order, key)
	}
	t.writes[key] = raw
	return nil
}

func (t *memTx) Get(ctx context.Context, collection, id string, out interface{}) error {
	raw, ok := t.lookup(collection, id)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (t *memTx) Put(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return t.stage("put", collection, id, raw)
}

func (t *memTx) Create(ctx context.Context, collection, id string, doc interface{}) error {
	if _, ok := t.lookup(collection, id); ok {
		return ErrExists
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return t.stage("create", collection, id, raw)
}

func (t *memTx) Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	raw, ok := t.lookup(collection, id)
	if !ok {
		return ErrNotFound
	}
	merged, err := mergeFields(raw, fields)
	if err != nil {
		return err
	}
	return t.stage("patch", collection, id, merged)
}

func (t *memTx) Delete(ctx context.Context, collection, id string) error {
	if _, ok := t.lookup(collection, id); !ok {
		return nil
	}
	return t.stage("delete", collection, id, nil)
}

func (t *memTx) Append(ctx context.Context, collection string, doc interface{}) (string, error) {
	id := uuid.New().String()
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := t.stage("append", collection, id, raw); err != nil {
		return "", err
	}
	return id, nil
}

// mergeFields overlays top-level fields onto a JSON object
func mergeFields(raw json.RawMessage, fields map[string]interface{}) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode document for patch: %w", err)
	}
	for name, value := range fields {
		enc, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", name, err)
		}
		obj[name] = enc
	}
	return json.Marshal(obj)
}
