package worker

import (
	"context"

	"inventory-service/internal/broker"
	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

// DashboardWorker refreshes the cached dashboard whenever the ledger changes.
// Replaying an event only recomputes the same figures.
type DashboardWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	reports      *service.Reports
	logger       *zap.Logger
}

// NewDashboardWorker creates a new dashboard worker
func NewDashboardWorker(consumer *broker.Consumer, reports *service.Reports) *DashboardWorker {
	w := &DashboardWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		reports:      reports,
		logger:       util.Named("dashboard-worker"),
	}

	w.eventHandler.OnMovementRecorded(func(ctx context.Context, _ *models.MovementRecordedEvent) error {
		return w.refresh(ctx)
	})
	w.eventHandler.OnSaleCommitted(func(ctx context.Context, _ *models.SaleCommittedEvent) error {
		return w.refresh(ctx)
	})
	w.eventHandler.OnProductArchived(func(ctx context.Context, _ *models.ProductArchivedEvent) error {
		return w.refresh(ctx)
	})
	return w
}

func (w *DashboardWorker) refresh(ctx context.Context) error {
	d, err := w.reports.RefreshCache(ctx)
	if err != nil {
		return err
	}
	w.logger.Debug("Dashboard refreshed",
		zap.Int("total_products", d.TotalProducts),
		zap.Int("low_stock", d.LowStockCount))
	return nil
}

// Start starts the worker
func (w *DashboardWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting dashboard worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DashboardWorker) Stop() error {
	w.logger.Info("Stopping dashboard worker")
	return w.consumer.Close()
}

// LowStockWorker warns when a movement leaves a product at or below its threshold
type LowStockWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        store.Tx
	threshold    int
	logger       *zap.Logger
}

// NewLowStockWorker creates a new low stock worker
func NewLowStockWorker(consumer *broker.Consumer, st store.Tx, threshold int) *LowStockWorker {
	w := &LowStockWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        st,
		threshold:    threshold,
		logger:       util.Named("low-stock-worker"),
	}
	w.eventHandler.OnMovementRecorded(w.handleMovement)
	return w
}

func (w *LowStockWorker) handleMovement(ctx context.Context, event *models.MovementRecordedEvent) error {
	if event.Type.Sign() >= 0 {
		return nil
	}

	p, err := store.GetProduct(ctx, w.store, event.ProductID)
	if models.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Archived || p.Quantity > p.Threshold(w.threshold) {
		return nil
	}

	util.LowStockAlertsTotal.Inc()
	w.logger.Warn("Product at or below low stock threshold",
		zap.String("product_id", p.ID),
		zap.String("name", p.Name),
		zap.Int("quantity", p.Quantity),
		zap.Int("threshold", p.Threshold(w.threshold)))
	return nil
}

// Start starts the worker
func (w *LowStockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting low stock worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *LowStockWorker) Stop() error {
	w.logger.Info("Stopping low stock worker")
	return w.consumer.Close()
}
