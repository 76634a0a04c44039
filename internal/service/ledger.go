package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"inventory-service/internal/broker"
	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const remarksNewProduct = "New product added to inventory"

// Ledger keeps product quantities and the movement log consistent.
// Every quantity change and its log entry commit in one store transaction.
type Ledger struct {
	store     store.Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedger creates a new ledger
func NewLedger(st store.Store, publisher Publisher) *Ledger {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Ledger{
		store:     st,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewProduct is the input of CreateProduct
type NewProduct struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Unit     string          `json:"unit"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	MinStock *int            `json:"minStock,omitempty"`
}

// ProductEdit holds the descriptive fields EditProduct may change
type ProductEdit struct {
	// ID may only repeat the current id; renaming would orphan the product's ledger history
	ID       *string          `json:"id,omitempty"`
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Unit     *string          `json:"unit,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	MinStock *int             `json:"minStock,omitempty"`
}

// CreateProduct writes a new product and its opening "in" entry
func (l *Ledger) CreateProduct(ctx context.Context, actor models.Actor, req NewProduct) (product *models.Product, err error) {
	ctx, span := util.StartSpan(ctx, "Ledger.CreateProduct", attribute.String("product_id", req.ID))
	defer func() { util.EndSpan(span, err) }()

	id := strings.TrimSpace(req.ID)
	if id == "" {
		return nil, l.reject("create", models.Invalid("product", "product id is required"))
	}
	if req.Quantity < 0 {
		return nil, l.reject("create", models.Invalid("product "+id, "quantity cannot be negative"))
	}
	if req.Price.IsNegative() {
		return nil, l.reject("create", models.Invalid("product "+id, "price cannot be negative"))
	}
	if req.MinStock != nil && *req.MinStock < 0 {
		return nil, l.reject("create", models.Invalid("product "+id, "minimum stock cannot be negative"))
	}

	product = &models.Product{
		ID:       id,
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Unit:     strings.TrimSpace(req.Unit),
		Price:    req.Price,
		Quantity: req.Quantity,
		MinStock: req.MinStock,
	}
	movement := l.newMovement(product, models.MovementIn, req.Quantity, remarksNewProduct, actor)

	err = l.store.RunInTx(ctx, func(tx store.Tx) error {
		if err := store.CreateProduct(ctx, tx, product); err != nil {
			return err
		}
		return store.AppendMovement(ctx, tx, movement)
	})
	if err != nil {
		return nil, l.reject("create", models.StoreFailure("create product "+id, err))
	}

	util.ProductsCreatedTotal.Inc()
	util.StockMovementsTotal.WithLabelValues(string(models.MovementIn)).Inc()
	l.logger.Info("Product created",
		zap.String("product_id", id),
		zap.Int("quantity", product.Quantity),
		zap.String("user", actor.Email))
	l.publishMovement(ctx, movement, product.Quantity)

	return product, nil
}

// EditProduct updates descriptive fields. Quantity changes go through AdjustQuantity.
func (l *Ledger) EditProduct(ctx context.Context, actor models.Actor, productID string, edit ProductEdit) (product *models.Product, err error) {
	ctx, span := util.StartSpan(ctx, "Ledger.EditProduct", attribute.String("product_id", productID))
	defer func() { util.EndSpan(span, err) }()

	if edit.ID != nil && strings.TrimSpace(*edit.ID) != productID {
		return nil, l.reject("edit", models.Invalid("product "+productID, "product id cannot be changed; create a new product instead"))
	}
	if edit.Price != nil && edit.Price.IsNegative() {
		return nil, l.reject("edit", models.Invalid("product "+productID, "price cannot be negative"))
	}
	if edit.MinStock != nil && *edit.MinStock < 0 {
		return nil, l.reject("edit", models.Invalid("product "+productID, "minimum stock cannot be negative"))
	}

	err = l.store.RunInTx(ctx, func(tx store.Tx) error {
		p, err := store.GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if edit.Name != nil {
			p.Name = strings.TrimSpace(*edit.Name)
		}
		if edit.Category != nil {
			p.Category = strings.TrimSpace(*edit.Category)
		}
		if edit.Unit != nil {
			p.Unit = strings.TrimSpace(*edit.Unit)
		}
		if edit.Price != nil {
			p.Price = *edit.Price
		}
		if edit.MinStock != nil {
			p.MinStock = edit.MinStock
		}
		product = p
		return store.PutProduct(ctx, tx, p)
	})
	if err != nil {
		return nil, l.reject("edit", models.StoreFailure("edit product "+productID, err))
	}

	l.logger.Info("Product edited", zap.String("product_id", productID), zap.String("user", actor.Email))
	return product, nil
}

// AdjustQuantity applies delta to a product and logs it. A zero delta writes nothing.
func (l *Ledger) AdjustQuantity(ctx context.Context, actor models.Actor, productID string, delta int, reason string) (product *models.Product, err error) {
	ctx, span := util.StartSpan(ctx, "Ledger.AdjustQuantity",
		attribute.String("product_id", productID),
		attribute.Int("delta", delta))
	defer func() { util.EndSpan(span, err) }()

	if delta == 0 {
		product, err = store.GetProduct(ctx, l.store, productID)
		if err != nil {
			return nil, l.reject("adjust", models.StoreFailure("read product "+productID, err))
		}
		return product, nil
	}

	typ := models.MovementIn
	qty := delta
	if delta < 0 {
		typ = models.MovementOut
		qty = -delta
	}
	return l.record(ctx, "adjust", actor, productID, typ, qty, reason)
}

// RecordExternalMovement resolves identifier by id, then by name, and records the movement
func (l *Ledger) RecordExternalMovement(ctx context.Context, actor models.Actor, identifier string, qty int, typ models.MovementType, remarks string) (product *models.Product, err error) {
	ctx, span := util.StartSpan(ctx, "Ledger.RecordExternalMovement",
		attribute.String("identifier", identifier),
		attribute.String("type", string(typ)))
	defer func() { util.EndSpan(span, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, l.reject("record", models.Invalid("movement", "product identifier is required"))
	}
	if qty <= 0 {
		return nil, l.reject("record", models.Invalid("movement for "+identifier, "quantity must be positive"))
	}
	if typ != models.MovementIn && typ != models.MovementOut && typ != models.MovementSale {
		return nil, l.reject("record", models.Invalid("movement for "+identifier, "unsupported movement type %q", typ))
	}

	productID, err := l.resolveProduct(ctx, identifier)
	if err != nil {
		return nil, l.reject("record", err)
	}
	return l.record(ctx, "record", actor, productID, typ, qty, remarks)
}

// ArchiveProduct hides a product from active views without touching its history
func (l *Ledger) ArchiveProduct(ctx context.Context, actor models.Actor, productID string) (err error) {
	ctx, span := util.StartSpan(ctx, "Ledger.ArchiveProduct", attribute.String("product_id", productID))
	defer func() { util.EndSpan(span, err) }()

	if !CanArchive(actor.Role) {
		return l.reject("archive", models.Forbidden(actor.Role, "archive products"))
	}

	err = l.store.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := store.GetProduct(ctx, tx, productID); err != nil {
			return err
		}
		return tx.Patch(ctx, models.CollectionProducts, productID, map[string]interface{}{"archived": true})
	})
	if err != nil {
		return l.reject("archive", models.StoreFailure("archive product "+productID, err))
	}

	util.ProductsArchivedTotal.Inc()
	l.logger.Info("Product archived", zap.String("product_id", productID), zap.String("user", actor.Email))
	l.publishArchived(ctx, productID, actor)
	return nil
}

// DeleteProductHard logs a "delete" marker and archives the product. The record is
// kept so the product's ledger history still reconstructs its quantity.
func (l *Ledger) DeleteProductHard(ctx context.Context, actor models.Actor, productID string) (err error) {
	ctx, span := util.StartSpan(ctx, "Ledger.DeleteProductHard", attribute.String("product_id", productID))
	defer func() { util.EndSpan(span, err) }()

	if !CanArchive(actor.Role) {
		return l.reject("delete", models.Forbidden(actor.Role, "delete products"))
	}

	var (
		movement *models.Movement
		quantity int
	)
	err = l.store.RunInTx(ctx, func(tx store.Tx) error {
		p, err := store.GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		quantity = p.Quantity
		movement = l.newMovement(p, models.MovementDelete, 0, "Product removed from inventory", actor)
		if err := store.AppendMovement(ctx, tx, movement); err != nil {
			return err
		}
		return tx.Patch(ctx, models.CollectionProducts, productID, map[string]interface{}{"archived": true})
	})
	if err != nil {
		return l.reject("delete", models.StoreFailure("delete product "+productID, err))
	}

	util.ProductsArchivedTotal.Inc()
	util.StockMovementsTotal.WithLabelValues(string(models.MovementDelete)).Inc()
	l.logger.Info("Product removed", zap.String("product_id", productID), zap.String("user", actor.Email))
	l.publishMovement(ctx, movement, quantity)
	l.publishArchived(ctx, productID, actor)
	return nil
}

// GetProduct retrieves a product by ID
func (l *Ledger) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	p, err := store.GetProduct(ctx, l.store, productID)
	if err != nil {
		return nil, models.StoreFailure("read product "+productID, err)
	}
	return p, nil
}

// SearchProducts returns active products whose id, name or category contains query
func (l *Ledger) SearchProducts(ctx context.Context, query string) ([]models.Product, error) {
	products, err := store.ListProducts(ctx, l.store)
	if err != nil {
		return nil, models.StoreFailure("list products", err)
	}
	return FilterProducts(products, query), nil
}

// FilterProducts is the case-insensitive search used by SearchProducts
func FilterProducts(products []models.Product, query string) []models.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.Archived {
			continue
		}
		if q == "" ||
			strings.Contains(strings.ToLower(p.ID), q) ||
			strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Category), q) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListMovements returns the ledger, newest first, optionally for one product
func (l *Ledger) ListMovements(ctx context.Context, productID string) ([]models.Movement, error) {
	movements, err := store.ListMovements(ctx, l.store)
	if err != nil {
		return nil, models.StoreFailure("list movements", err)
	}
	out := movements[:0]
	for _, m := range movements {
		if productID == "" || m.ProductID == productID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// VerifyLedger replays the log and reports products whose quantity disagrees with it
func (l *Ledger) VerifyLedger(ctx context.Context) ([]LedgerMismatch, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.VerifyLedger")
	defer span.End()

	products, err := store.ListProducts(ctx, l.store)
	if err != nil {
		return nil, models.StoreFailure("list products", err)
	}
	movements, err := store.ListMovements(ctx, l.store)
	if err != nil {
		return nil, models.StoreFailure("list movements", err)
	}
	return VerifyLedger(products, movements), nil
}

// record applies one signed movement to a product inside a transaction
func (l *Ledger) record(ctx context.Context, command string, actor models.Actor, productID string, typ models.MovementType, qty int, remarks string) (*models.Product, error) {
	var (
		product  *models.Product
		movement *models.Movement
		sale     *models.Transaction
	)
	err := l.store.RunInTx(ctx, func(tx store.Tx) error {
		p, m, err := l.applyMovement(ctx, tx, productID, typ, qty, remarks, actor)
		if err != nil {
			return err
		}
		product, movement = p, m
		if typ != models.MovementSale {
			return nil
		}

		// sales totals are read from transactions, so a recorded sale gets one too
		item := models.TransactionItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  qty,
			Unit:      p.Unit,
		}
		sale = &models.Transaction{
			Items:     []models.TransactionItem{item},
			Subtotal:  item.LineTotal(),
			Total:     item.LineTotal(),
			UserID:    actor.UserID,
			UserEmail: actor.Email,
			Timestamp: m.Timestamp,
			Status:    models.TransactionStatusCompleted,
			Type:      models.TransactionTypeSale,
		}
		return store.AppendTransaction(ctx, tx, sale)
	})
	if err != nil {
		return nil, l.reject(command, models.StoreFailure(command+" stock of "+productID, err))
	}

	util.StockMovementsTotal.WithLabelValues(string(typ)).Inc()
	l.logger.Info("Stock movement recorded",
		zap.String("product_id", productID),
		zap.String("type", string(typ)),
		zap.Int("qty", qty),
		zap.Int("new_quantity", product.Quantity),
		zap.String("user", actor.Email))
	l.publishMovement(ctx, movement, product.Quantity)
	if sale != nil {
		l.publishSale(ctx, sale)
	}

	return product, nil
}

// applyMovement is the shared write path for adjustments, external movements and sales
func (l *Ledger) applyMovement(ctx context.Context, tx store.Tx, productID string, typ models.MovementType, qty int, remarks string, actor models.Actor) (*models.Product, *models.Movement, error) {
	p, err := store.GetProduct(ctx, tx, productID)
	if err != nil {
		return nil, nil, err
	}

	next := p.Quantity + typ.Sign()*qty
	if next < 0 {
		return nil, nil, models.Invalid(fmt.Sprintf("product %s (%s)", p.ID, p.Name),
			"not enough stock: available %d, requested %d", p.Quantity, qty)
	}

	if err := tx.Patch(ctx, models.CollectionProducts, p.ID, map[string]interface{}{"quantity": next}); err != nil {
		return nil, nil, err
	}
	p.Quantity = next

	m := l.newMovement(p, typ, qty, remarks, actor)
	if err := store.AppendMovement(ctx, tx, m); err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

func (l *Ledger) resolveProduct(ctx context.Context, identifier string) (string, error) {
	p, err := store.GetProduct(ctx, l.store, identifier)
	if err == nil {
		return p.ID, nil
	}
	if !models.IsNotFound(err) {
		return "", models.StoreFailure("resolve product "+identifier, err)
	}

	products, err := store.ListProducts(ctx, l.store)
	if err != nil {
		return "", models.StoreFailure("resolve product "+identifier, err)
	}
	var matches []string
	for _, p := range products {
		if !p.Archived && strings.EqualFold(p.Name, identifier) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", models.NotFound("product", identifier)
	case 1:
		return matches[0], nil
	default:
		return "", models.Invalid("movement for "+identifier, "name matches %d products, use the product id", len(matches))
	}
}

func (l *Ledger) newMovement(p *models.Product, typ models.MovementType, qty int, remarks string, actor models.Actor) *models.Movement {
	return &models.Movement{
		ProductID:   p.ID,
		ProductName: p.Name,
		Qty:         qty,
		Type:        typ,
		Remarks:     remarks,
		UserID:      actor.UserID,
		UserEmail:   actor.Email,
		Timestamp:   l.now(),
	}
}

func (l *Ledger) reject(command string, err error) error {
	reason := "store_error"
	switch {
	case models.IsValidation(err):
		reason = "validation"
	case models.IsPermission(err):
		reason = "permission"
	case models.IsNotFound(err):
		reason = "not_found"
	}
	util.LedgerCommandsFailedTotal.WithLabelValues(command, reason).Inc()
	if reason == "store_error" {
		l.logger.Error("Ledger command failed", zap.String("command", command), zap.Error(err))
	}
	return err
}

func (l *Ledger) publishMovement(ctx context.Context, m *models.Movement, newQuantity int) {
	pctx, cancel := publishContext(ctx)
	defer cancel()

	event := &models.MovementRecordedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeMovementRecorded),
		ProductID:   m.ProductID,
		Type:        m.Type,
		Qty:         m.Qty,
		NewQuantity: newQuantity,
		UserID:      m.UserID,
	}
	if err := l.publisher.PublishMovementRecorded(pctx, event); err != nil {
		l.logger.Error("Failed to publish MovementRecorded event",
			zap.String("product_id", m.ProductID),
			zap.Error(err))
	}
}

func (l *Ledger) publishArchived(ctx context.Context, productID string, actor models.Actor) {
	pctx, cancel := publishContext(ctx)
	defer cancel()

	event := &models.ProductArchivedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeProductArchived),
		ProductID: productID,
		UserID:    actor.UserID,
	}
	if err := l.publisher.PublishProductArchived(pctx, event); err != nil {
		l.logger.Error("Failed to publish ProductArchived event",
			zap.String("product_id", productID),
			zap.Error(err))
	}
}

func (l *Ledger) publishSale(ctx context.Context, txn *models.Transaction) {
	pctx, cancel := publishContext(ctx)
	defer cancel()

	event := &models.SaleCommittedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeSaleCommitted),
		TransactionID: txn.ID,
		Total:         txn.Total,
		Items:         txn.Items,
		UserID:        txn.UserID,
	}
	if err := l.publisher.PublishSaleCommitted(pctx, event); err != nil {
		l.logger.Error("Failed to publish SaleCommitted event",
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
	}
}
