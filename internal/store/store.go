package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get and Patch when the document does not exist
var ErrNotFound = errors.New("document not found")

// ErrExists is returned by Create when the id is already taken
var ErrExists = errors.New("document already exists")

// Document is a raw stored document
type Document struct {
	ID   string          `db:"id"`
	Data json.RawMessage `db:"data"`
}

// Snapshot is the complete current result set of a collection
type Snapshot struct {
	Collection string
	Documents  []Document
}

// Tx is the write surface available both directly and inside RunInTx
type Tx interface {
	Get(ctx context.Context, collection, id string, out interface{}) error
	Put(ctx context.Context, collection, id string, doc interface{}) error
	Create(ctx context.Context, collection, id string, doc interface{}) error
	Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error
	Append(ctx context.Context, collection string, doc interface{}) (string, error)
}

// Lister reads whole collections
type Lister interface {
	List(ctx context.Context, collection string) ([]Document, error)
}

// Store is a schemaless document store with push-based change notification.
//
// Subscribe delivers the current snapshot before returning and again after every
// committed change to the collection. Deliveries for one subscription never overlap.
// Callbacks must not write to the store synchronously.
type Store interface {
	Tx
	Lister
	Subscribe(ctx context.Context, collection string, fn func(Snapshot)) (cancel func(), err error)
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Open returns the backend named by driver: "memory" or "postgres"
func Open(driver, databaseURL string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "":
		pg, err := NewPostgresStore(databaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
