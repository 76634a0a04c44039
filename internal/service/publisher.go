package service

import (
	"context"
	"time"

	"inventory-service/internal/models"
)

// Publisher emits ledger events after a commit. *broker.EventPublisher implements it.
type Publisher interface {
	PublishMovementRecorded(ctx context.Context, event *models.MovementRecordedEvent) error
	PublishSaleCommitted(ctx context.Context, event *models.SaleCommittedEvent) error
	PublishProductArchived(ctx context.Context, event *models.ProductArchivedEvent) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishMovementRecorded(context.Context, *models.MovementRecordedEvent) error {
	return nil
}

func (NopPublisher) PublishSaleCommitted(context.Context, *models.SaleCommittedEvent) error {
	return nil
}

func (NopPublisher) PublishProductArchived(context.Context, *models.ProductArchivedEvent) error {
	return nil
}

// CheckoutGuard serializes checkouts of one cart and remembers committed carts.
// *redisclient.Client implements it.
type CheckoutGuard interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	CommittedCheckout(ctx context.Context, cartID string) (string, bool, error)
	MarkCheckoutCommitted(ctx context.Context, cartID, transactionID string, ttl time.Duration) error
}

// DashboardCache stores the last computed dashboard. *redisclient.Client implements it.
type DashboardCache interface {
	SetDashboard(ctx context.Context, payload []byte, ttl time.Duration) error
	GetDashboard(ctx context.Context) ([]byte, error)
}

// publishTimeout bounds event publishing so a slow broker cannot stall a command
const publishTimeout = 5 * time.Second

func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}
