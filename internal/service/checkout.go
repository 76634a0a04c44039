package service

import (
	"context"
	"fmt"
	"time"

	"inventory-service/internal/broker"
	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const checkoutLockTTL = 30 * time.Second

// ErrCheckoutNotConfirmed is returned when the operator declines the checkout
var ErrCheckoutNotConfirmed error = &models.ValidationError{Entity: "checkout", Msg: "checkout was not confirmed"}

// CheckoutSummary is what the operator is asked to approve
type CheckoutSummary struct {
	CartID   string                   `json:"cartId"`
	Items    []models.TransactionItem `json:"items"`
	Subtotal decimal.Decimal          `json:"subtotal"`
	Total    decimal.Decimal          `json:"total"`
}

// Confirmer is the external approval step of a checkout
type Confirmer interface {
	Confirm(ctx context.Context, summary CheckoutSummary) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, summary CheckoutSummary) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, summary CheckoutSummary) (bool, error) {
	return f(ctx, summary)
}

// Receipt describes a committed checkout. Replayed is set when the cart had already
// been committed and nothing new was written.
type Receipt struct {
	TransactionID string                   `json:"transactionId"`
	CartID        string                   `json:"cartId"`
	Items         []models.TransactionItem `json:"items,omitempty"`
	Subtotal      decimal.Decimal          `json:"subtotal"`
	Total         decimal.Decimal          `json:"total"`
	Timestamp     time.Time                `json:"timestamp"`
	Replayed      bool                     `json:"replayed,omitempty"`
}

type saleEntry struct {
	movement    *models.Movement
	newQuantity int
}

// CheckoutService turns a cart into one sale transaction and its ledger entries
type CheckoutService struct {
	store          store.Store
	guard          CheckoutGuard
	publisher      Publisher
	logger         *zap.Logger
	now            func() time.Time
	idempotencyTTL time.Duration
}

// NewCheckoutService creates a checkout service. guard may be nil, in which case
// duplicate submissions are only prevented by the cart state.
func NewCheckoutService(st store.Store, guard CheckoutGuard, publisher Publisher, idempotencyTTL time.Duration) *CheckoutService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	return &CheckoutService{
		store:          st,
		guard:          guard,
		publisher:      publisher,
		logger:         util.GetLogger(),
		now:            func() time.Time { return time.Now().UTC() },
		idempotencyTTL: idempotencyTTL,
	}
}

// Checkout commits the cart as a sale. An empty cart is a no-op and returns a nil
// receipt. The transaction, every product decrement and every sale entry are written
// in one store transaction with stock re-validated inside it; on any failure nothing
// is written and the cart keeps its lines.
func (s *CheckoutService) Checkout(ctx context.Context, actor models.Actor, cart *Cart, confirmer Confirmer) (receipt *Receipt, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout", attribute.String("user", actor.Email))
	defer func() { util.EndSpan(span, err) }()

	summary, ok, err := cart.beginCheckout()
	if err != nil {
		return nil, s.fail("in_progress", err)
	}
	if !ok {
		return nil, nil
	}
	span.SetAttributes(attribute.String("cart_id", summary.CartID), attribute.Int("lines", len(summary.Items)))

	committed := false
	defer func() {
		if !committed {
			cart.abortCheckout()
		}
	}()

	lockKey := "checkout:" + summary.CartID
	if s.guard != nil {
		token, acquired, err := s.guard.AcquireLock(ctx, lockKey, checkoutLockTTL)
		if err != nil {
			return nil, s.fail("lock", models.StoreFailure("acquire checkout lock", err))
		}
		if !acquired {
			return nil, s.fail("in_progress", models.Invalid("cart "+summary.CartID, "checkout already in progress"))
		}
		defer func() {
			if err := s.guard.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.logger.Warn("Failed to release checkout lock", zap.String("cart_id", summary.CartID), zap.Error(err))
			}
		}()

		if r, err := s.Replay(ctx, summary.CartID); err != nil {
			return nil, s.fail("lock", err)
		} else if r != nil {
			committed = true
			cart.complete()
			return r, nil
		}
	}

	approved, err := confirmer.Confirm(ctx, summary)
	if err != nil {
		return nil, s.fail("confirmation", err)
	}
	if !approved {
		return nil, s.fail("declined", ErrCheckoutNotConfirmed)
	}

	start := time.Now()
	txn, movements, err := s.commit(ctx, actor, summary)
	if err != nil {
		reason := "store_error"
		if models.IsValidation(err) || models.IsNotFound(err) {
			reason = "stock"
		} else {
			s.logFailedLines(summary, err)
		}
		return nil, s.fail(reason, err)
	}
	committed = true
	cart.complete()

	util.CheckoutsTotal.Inc()
	util.CheckoutLatency.Observe(time.Since(start).Seconds())
	util.StockMovementsTotal.WithLabelValues(string(models.MovementSale)).Add(float64(len(movements)))

	if s.guard != nil {
		if err := s.guard.MarkCheckoutCommitted(ctx, summary.CartID, txn.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to record committed checkout",
				zap.String("cart_id", summary.CartID),
				zap.String("transaction_id", txn.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("Checkout committed",
		zap.String("transaction_id", txn.ID),
		zap.String("cart_id", summary.CartID),
		zap.Int("lines", len(txn.Items)),
		zap.String("total", txn.Total.StringFixed(2)),
		zap.String("user", actor.Email))
	s.publish(ctx, txn, movements)

	return &Receipt{
		TransactionID: txn.ID,
		CartID:        summary.CartID,
		Items:         txn.Items,
		Subtotal:      txn.Subtotal,
		Total:         txn.Total,
		Timestamp:     txn.Timestamp,
	}, nil
}

// Replay returns the receipt of an already committed cart, or nil when cartID was
// never committed or no guard is configured.
func (s *CheckoutService) Replay(ctx context.Context, cartID string) (*Receipt, error) {
	if s.guard == nil {
		return nil, nil
	}
	txID, found, err := s.guard.CommittedCheckout(ctx, cartID)
	if err != nil {
		return nil, models.StoreFailure("read committed checkout", err)
	}
	if !found {
		return nil, nil
	}

	var txn models.Transaction
	if err := s.store.Get(ctx, models.CollectionTransactions, txID, &txn); err != nil {
		s.logger.Warn("Committed checkout has no readable transaction",
			zap.String("cart_id", cartID),
			zap.String("transaction_id", txID),
			zap.Error(err))
		return &Receipt{TransactionID: txID, CartID: cartID, Replayed: true}, nil
	}
	return &Receipt{
		TransactionID: txID,
		CartID:        cartID,
		Items:         txn.Items,
		Subtotal:      txn.Subtotal,
		Total:         txn.Total,
		Timestamp:     txn.Timestamp,
		Replayed:      true,
	}, nil
}

// commit writes the sale in one store transaction using live names and prices
func (s *CheckoutService) commit(ctx context.Context, actor models.Actor, summary CheckoutSummary) (*models.Transaction, []saleEntry, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.commit")
	defer span.End()

	now := s.now()
	var (
		txn       *models.Transaction
		movements []saleEntry
	)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		items := make([]models.TransactionItem, 0, len(summary.Items))
		movements = make([]saleEntry, 0, len(summary.Items))
		subtotal := decimal.Zero

		for _, line := range summary.Items {
			p, err := store.GetProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}
			if p.Archived {
				return models.Invalid(fmt.Sprintf("product %s (%s)", p.ID, p.Name), "product is no longer available")
			}
			next := p.Quantity - line.Quantity
			if next < 0 {
				return models.Invalid(fmt.Sprintf("product %s (%s)", p.ID, p.Name),
					"not enough stock: available %d, requested %d", p.Quantity, line.Quantity)
			}
			if err := tx.Patch(ctx, models.CollectionProducts, p.ID, map[string]interface{}{"quantity": next}); err != nil {
				return err
			}

			item := models.TransactionItem{
				ProductID: p.ID,
				Name:      p.Name,
				Price:     p.Price,
				Quantity:  line.Quantity,
				Unit:      p.Unit,
			}
			items = append(items, item)
			subtotal = subtotal.Add(item.LineTotal())

			m := &models.Movement{
				ProductID:   p.ID,
				ProductName: p.Name,
				Qty:         line.Quantity,
				Type:        models.MovementSale,
				Remarks:     fmt.Sprintf("Sold %d %s @ %s", line.Quantity, p.Unit, p.Price.StringFixed(2)),
				UserID:      actor.UserID,
				UserEmail:   actor.Email,
				Timestamp:   now,
			}
			if err := store.AppendMovement(ctx, tx, m); err != nil {
				return err
			}
			movements = append(movements, saleEntry{movement: m, newQuantity: next})
		}

		txn = &models.Transaction{
			Items:     items,
			Subtotal:  subtotal,
			Total:     subtotal,
			UserID:    actor.UserID,
			UserEmail: actor.Email,
			Timestamp: now,
			Status:    models.TransactionStatusCompleted,
			Type:      models.TransactionTypeSale,
			CartID:    summary.CartID,
		}
		return store.AppendTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, nil, models.StoreFailure("checkout of cart "+summary.CartID, err)
	}
	return txn, movements, nil
}

func (s *CheckoutService) fail(reason string, err error) error {
	util.CheckoutsFailedTotal.WithLabelValues(reason).Inc()
	return err
}

// logFailedLines names every line of a checkout the store rejected so an operator
// can reconcile. None of them were written.
func (s *CheckoutService) logFailedLines(summary CheckoutSummary, err error) {
	for _, item := range summary.Items {
		s.logger.Error("Checkout line not committed",
			zap.String("cart_id", summary.CartID),
			zap.String("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity),
			zap.Error(err))
	}
}

func (s *CheckoutService) publish(ctx context.Context, txn *models.Transaction, movements []saleEntry) {
	pctx, cancel := publishContext(ctx)
	defer cancel()

	event := &models.SaleCommittedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeSaleCommitted),
		TransactionID: txn.ID,
		CartID:        txn.CartID,
		Total:         txn.Total,
		Items:         txn.Items,
		UserID:        txn.UserID,
	}
	if err := s.publisher.PublishSaleCommitted(pctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCommitted event",
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
	}

	// sale entries also feed the movement stream so stock watchers see them
	for _, e := range movements {
		ev := &models.MovementRecordedEvent{
			BaseEvent:   broker.NewBaseEvent(models.EventTypeMovementRecorded),
			ProductID:   e.movement.ProductID,
			Type:        e.movement.Type,
			Qty:         e.movement.Qty,
			NewQuantity: e.newQuantity,
			UserID:      e.movement.UserID,
		}
		if err := s.publisher.PublishMovementRecorded(pctx, ev); err != nil {
			s.logger.Error("Failed to publish MovementRecorded event",
				zap.String("product_id", e.movement.ProductID),
				zap.Error(err))
		}
	}
}
