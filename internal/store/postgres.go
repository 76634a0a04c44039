package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"inventory-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

const notifyChannel = "docstore_changes"

// PostgresStore keeps documents as JSONB rows and turns NOTIFY into snapshots
type PostgresStore struct {
	db       *sqlx.DB
	listener *pq.Listener
	hub      *hub
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPostgresStore connects, applies the schema and starts the change listener
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger := util.GetLogger()
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("Document listener event", zap.Int("event", int(ev)), zap.Error(err))
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", notifyChannel, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		db:       db,
		listener: listener,
		hub:      newHub(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.listen(ctx)

	return s, nil
}

func (s *PostgresStore) listen(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.listener.Notify:
			// nil after a reconnect; notifications may have been missed
			if n == nil {
				for _, collection := range s.hub.collections() {
					s.hub.notify(ctx, collection, s)
				}
				continue
			}
			s.hub.notify(ctx, n.Extra, s)
		case <-time.After(90 * time.Second):
			go func() { _ = s.listener.Ping() }()
		}
	}
}

// Close stops the listener and closes the pool
func (s *PostgresStore) Close() error {
	s.cancel()
	<-s.done
	_ = s.listener.Close()
	return s.db.Close()
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	return (&pgTx{q: s.db}).Get(ctx, collection, id, out)
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, doc interface{}) error {
	return (&pgTx{q: s.db}).Put(ctx, collection, id, doc)
}

func (s *PostgresStore) Create(ctx context.Context, collection, id string, doc interface{}) error {
	return (&pgTx{q: s.db}).Create(ctx, collection, id, doc)
}

func (s *PostgresStore) Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	return (&pgTx{q: s.db}).Patch(ctx, collection, id, fields)
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	return (&pgTx{q: s.db}).Delete(ctx, collection, id)
}

func (s *PostgresStore) Append(ctx context.Context, collection string, doc interface{}) (string, error) {
	return (&pgTx{q: s.db}).Append(ctx, collection, doc)
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	var docs []Document
	err := s.db.SelectContext(ctx, &docs,
		"SELECT id, data FROM documents WHERE collection = $1 ORDER BY id", collection)
	return docs, err
}

func (s *PostgresStore) Subscribe(ctx context.Context, collection string, fn func(Snapshot)) (func(), error) {
	id, sub := s.hub.add(collection, fn)
	s.hub.deliver(ctx, sub, collection, s)
	return func() { s.hub.remove(collection, id) }, nil
}

// RunInTx runs fn in a database transaction; reads inside take row locks
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{q: tx, forUpdate: true}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	q         sqlx.ExtContext
	forUpdate bool
}

func (t *pgTx) Get(ctx context.Context, collection, id string, out interface{}) error {
	query := "SELECT data FROM documents WHERE collection = $1 AND id = $2"
	if t.forUpdate {
		query += " FOR UPDATE"
	}

	var raw []byte
	err := sqlx.GetContext(ctx, t.q, &raw, query, collection, id)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (t *pgTx) Put(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, raw)
	return err
}

// Create inserts only; a concurrent insert of the same id makes one of them fail
func (t *pgTx) Create(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, raw)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (t *pgTx) Patch(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	res, err := t.q.ExecContext(ctx,
		"UPDATE documents SET data = data || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2",
		collection, id, raw)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	_, err := t.q.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2", collection, id)
	return err
}

func (t *pgTx) Append(ctx context.Context, collection string, doc interface{}) (string, error) {
	id := uuid.New().String()
	if err := t.Put(ctx, collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}
