package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeMovementRecorded = "MOVEMENT_RECORDED"
	EventTypeSaleCommitted    = "SALE_COMMITTED"
	EventTypeProductArchived  = "PRODUCT_ARCHIVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// MovementRecordedEvent published after a ledger entry is committed
type MovementRecordedEvent struct {
	BaseEvent
	ProductID   string       `json:"product_id"`
	Type        MovementType `json:"type"`
	Qty         int          `json:"qty"`
	NewQuantity int          `json:"new_quantity"`
	UserID      string       `json:"user_id"`
}

// SaleCommittedEvent published after a checkout commits
type SaleCommittedEvent struct {
	BaseEvent
	TransactionID string            `json:"transaction_id"`
	CartID        string            `json:"cart_id"`
	Total         decimal.Decimal   `json:"total"`
	Items         []TransactionItem `json:"items"`
	UserID        string            `json:"user_id"`
}

// ProductArchivedEvent published when a product leaves the active catalog
type ProductArchivedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
}
