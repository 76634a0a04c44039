package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"inventory-service/internal/models"
)

// GetProduct retrieves a product by ID
func GetProduct(ctx context.Context, tx Tx, id string) (*models.Product, error) {
	var product models.Product
	err := tx.Get(ctx, models.CollectionProducts, id, &product)
	if errors.Is(err, ErrNotFound) {
		return nil, models.NotFound("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// PutProduct writes the whole product record
func PutProduct(ctx context.Context, tx Tx, product *models.Product) error {
	return tx.Put(ctx, models.CollectionProducts, product.ID, product)
}

// CreateProduct inserts a new product record; an existing id is a validation error
func CreateProduct(ctx context.Context, tx Tx, product *models.Product) error {
	err := tx.Create(ctx, models.CollectionProducts, product.ID, product)
	if errors.Is(err, ErrExists) {
		return models.Invalid("product "+product.ID, "a product with this id already exists")
	}
	return err
}

// AppendMovement appends a ledger entry and sets its ID
func AppendMovement(ctx context.Context, tx Tx, m *models.Movement) error {
	id, err := tx.Append(ctx, models.CollectionLogs, m)
	if err != nil {
		return err
	}
	m.ID = id
	return nil
}

// AppendTransaction appends a sale record and sets its ID
func AppendTransaction(ctx context.Context, tx Tx, t *models.Transaction) error {
	id, err := tx.Append(ctx, models.CollectionTransactions, t)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// UserKey normalizes an email into a users document id
func UserKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUser retrieves a user role record by email
func GetUser(ctx context.Context, tx Tx, email string) (*models.User, error) {
	var user models.User
	err := tx.Get(ctx, models.CollectionUsers, UserKey(email), &user)
	if errors.Is(err, ErrNotFound) {
		return nil, models.NotFound("user", email)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PutUser writes a user role record
func PutUser(ctx context.Context, tx Tx, user *models.User) error {
	return tx.Put(ctx, models.CollectionUsers, UserKey(user.Email), user)
}

// CreateUser inserts a new role record; an existing email is a validation error
func CreateUser(ctx context.Context, tx Tx, user *models.User) error {
	err := tx.Create(ctx, models.CollectionUsers, UserKey(user.Email), user)
	if errors.Is(err, ErrExists) {
		return models.Invalid("user "+UserKey(user.Email), "a user with this email already exists")
	}
	return err
}

// ListProducts retrieves all products, archived included
func ListProducts(ctx context.Context, l Lister) ([]models.Product, error) {
	docs, err := l.List(ctx, models.CollectionProducts)
	if err != nil {
		return nil, err
	}
	return DecodeProducts(docs)
}

// ListMovements retrieves the whole ledger
func ListMovements(ctx context.Context, l Lister) ([]models.Movement, error) {
	docs, err := l.List(ctx, models.CollectionLogs)
	if err != nil {
		return nil, err
	}
	return DecodeMovements(docs)
}

// ListTransactions retrieves all sale records
func ListTransactions(ctx context.Context, l Lister) ([]models.Transaction, error) {
	docs, err := l.List(ctx, models.CollectionTransactions)
	if err != nil {
		return nil, err
	}
	return DecodeTransactions(docs)
}

// ListUsers retrieves all user role records
func ListUsers(ctx context.Context, l Lister) ([]models.User, error) {
	docs, err := l.List(ctx, models.CollectionUsers)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.User](docs, nil)
}

func DecodeProducts(docs []Document) ([]models.Product, error) {
	return decodeAll(docs, func(p *models.Product, id string) {
		if p.ID == "" {
			p.ID = id
		}
	})
}

func DecodeMovements(docs []Document) ([]models.Movement, error) {
	return decodeAll(docs, func(m *models.Movement, id string) { m.ID = id })
}

func DecodeTransactions(docs []Document) ([]models.Transaction, error) {
	return decodeAll(docs, func(t *models.Transaction, id string) { t.ID = id })
}

func decodeAll[T any](docs []Document, setID func(*T, string)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
		}
		if setID != nil {
			setID(&v, doc.ID)
		}
		out = append(out, v)
	}
	return out, nil
}
