package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names in the document store
const (
	CollectionProducts     = "products"
	CollectionLogs         = "logs"
	CollectionTransactions = "transactions"
	CollectionUsers        = "users"
)

// Product is a catalog item with its authoritative stock quantity
type Product struct {
	ID       string          `json:"id" csv:"id"`
	Name     string          `json:"name" csv:"name"`
	Category string          `json:"category" csv:"category"`
	Unit     string          `json:"unit" csv:"unit"`
	Price    decimal.Decimal `json:"price" csv:"price"`
	Quantity int             `json:"quantity" csv:"quantity"`
	MinStock *int            `json:"minStock,omitempty" csv:"-"`
	Archived bool            `json:"archived" csv:"archived"`
}

// Threshold returns the low stock threshold for the product.
func (p *Product) Threshold(global int) int {
	if p.MinStock != nil {
		return *p.MinStock
	}
	return global
}

// MovementType tags the cause of a ledger entry
type MovementType string

const (
	MovementIn     MovementType = "in"
	MovementOut    MovementType = "out"
	MovementSale   MovementType = "sale"
	MovementDelete MovementType = "delete"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementSale, MovementDelete:
		return true
	}
	return false
}

// Sign is +1 for stock entering, -1 for stock leaving and 0 for markers.
func (t MovementType) Sign() int {
	switch t {
	case MovementIn:
		return 1
	case MovementOut, MovementSale:
		return -1
	}
	return 0
}

// Movement is an append-only ledger entry. Qty is always the magnitude of the change.
type Movement struct {
	ID          string       `json:"id,omitempty" csv:"id"`
	ProductID   string       `json:"productId" csv:"product_id"`
	ProductName string       `json:"productName" csv:"product_name"`
	Qty         int          `json:"qty" csv:"qty"`
	Type        MovementType `json:"type" csv:"type"`
	Remarks     string       `json:"remarks" csv:"remarks"`
	UserID      string       `json:"userId" csv:"user_id"`
	UserEmail   string       `json:"userEmail" csv:"user_email"`
	Timestamp   time.Time    `json:"timestamp" csv:"timestamp"`
}

// Signed returns the quantity delta this entry applies to its product.
func (m *Movement) Signed() int {
	return m.Type.Sign() * m.Qty
}

// TransactionItem is a snapshot of one cart line at checkout
type TransactionItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Unit      string          `json:"unit"`
}

// LineTotal is price times quantity.
func (i TransactionItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Transaction is the sale record written once per checkout
type Transaction struct {
	ID        string            `json:"id,omitempty"`
	Items     []TransactionItem `json:"items"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Total     decimal.Decimal   `json:"total"`
	UserID    string            `json:"userId"`
	UserEmail string            `json:"userEmail"`
	Timestamp time.Time         `json:"timestamp"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	CartID    string            `json:"cartId,omitempty"`
}

// Transaction values
const (
	TransactionTypeSale        = "sale"
	TransactionStatusCompleted = "completed"
)

// Role is the authorization level of a user record
type Role string

const (
	RoleAdmin  Role = "Admin"
	RoleStaff  Role = "Staff"
	RoleViewer Role = "Viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleStaff || r == RoleViewer
}

// User is the role record for an email address. It does not hold credentials.
type User struct {
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// Actor identifies who performed an operation
type Actor struct {
	UserID string
	Email  string
	Role   Role
}
