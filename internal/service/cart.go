package service

import (
	"fmt"
	"sync"

	"inventory-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartState is the lifecycle position of a cart
type CartState string

const (
	CartEmpty       CartState = "empty"
	CartBuilding    CartState = "building"
	CartCheckingOut CartState = "checking_out"
)

// CartLine is one product in the cart with the snapshot taken from the catalog
type CartLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock"`
}

// LineTotal is price times quantity
func (l CartLine) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Warning is a user-facing notice for a cart change that was refused
type Warning struct {
	ProductID string `json:"productId"`
	Message   string `json:"message"`
}

// Cart is a session-owned staging area for a sale. It is never persisted.
type Cart struct {
	mu    sync.Mutex
	id    string
	state CartState
	lines []*CartLine
}

// NewCart creates an empty cart with a fresh id
func NewCart() *Cart {
	return &Cart{id: uuid.New().String(), state: CartEmpty}
}

// ID is the idempotency key of the cart's checkout
func (c *Cart) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Cart) State() CartState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Lines returns a copy of the cart lines in insertion order
func (c *Cart) Lines() []CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CartLine, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, *l)
	}
	return out
}

// Subtotal is the sum of price times quantity over all lines
func (c *Cart) Subtotal() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtotal()
}

func (c *Cart) subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// AddItem puts one more unit of product in the cart. The cart quantity never
// exceeds the product's live stock; a refused add returns a Warning.
func (c *Cart) AddItem(p models.Product) *Warning {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w := c.lockedWarning(p.ID); w != nil {
		return w
	}
	if p.Archived {
		return &Warning{ProductID: p.ID, Message: fmt.Sprintf("%s is no longer available", p.Name)}
	}

	if line := c.find(p.ID); line != nil {
		line.Name, line.Unit, line.Price, line.Stock = p.Name, p.Unit, p.Price, p.Quantity
		if line.Quantity+1 > p.Quantity {
			return stockWarning(line)
		}
		line.Quantity++
		return nil
	}

	if p.Quantity < 1 {
		return &Warning{ProductID: p.ID, Message: fmt.Sprintf("%s is out of stock", p.Name)}
	}
	c.lines = append(c.lines, &CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		Unit:      p.Unit,
		Price:     p.Price,
		Quantity:  1,
		Stock:     p.Quantity,
	})
	c.state = CartBuilding
	return nil
}

// ChangeItemQuantity moves a line's quantity by delta. A result below 1 removes the
// line; a result above the live stock is refused with a Warning.
func (c *Cart) ChangeItemQuantity(productID string, delta int) (*Warning, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w := c.lockedWarning(productID); w != nil {
		return w, nil
	}
	line := c.find(productID)
	if line == nil {
		return nil, models.NotFound("cart item", productID)
	}

	next := line.Quantity + delta
	switch {
	case next < 1:
		c.remove(productID)
	case next > line.Stock:
		return stockWarning(line), nil
	default:
		line.Quantity = next
	}
	return nil, nil
}

// RemoveItem drops a line from the cart
func (c *Cart) RemoveItem(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CartCheckingOut {
		return models.Invalid("cart", "checkout in progress")
	}
	if c.find(productID) == nil {
		return models.NotFound("cart item", productID)
	}
	c.remove(productID)
	return nil
}

// Clear empties the cart and starts a new one. Persisted state is untouched.
func (c *Cart) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CartCheckingOut {
		return models.Invalid("cart", "checkout in progress")
	}
	c.reset()
	return nil
}

// ReconcileWithCatalog refreshes line snapshots from the latest products and drops
// lines whose product no longer exists or was archived.
func (c *Cart) ReconcileWithCatalog(products []models.Product) {
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.lines[:0]
	for _, line := range c.lines {
		p, ok := byID[line.ProductID]
		if !ok || p.Archived {
			continue
		}
		line.Name, line.Unit, line.Price, line.Stock = p.Name, p.Unit, p.Price, p.Quantity
		kept = append(kept, line)
	}
	c.lines = kept
	if len(c.lines) == 0 && c.state == CartBuilding {
		c.state = CartEmpty
	}
}

// beginCheckout freezes the cart and returns its summary. ok is false for an empty cart.
func (c *Cart) beginCheckout() (summary CheckoutSummary, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CartCheckingOut {
		return CheckoutSummary{}, false, models.Invalid("cart", "checkout already in progress")
	}
	if len(c.lines) == 0 {
		return CheckoutSummary{}, false, nil
	}

	items := make([]models.TransactionItem, 0, len(c.lines))
	for _, l := range c.lines {
		items = append(items, models.TransactionItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Price:     l.Price,
			Quantity:  l.Quantity,
			Unit:      l.Unit,
		})
	}
	subtotal := c.subtotal()
	c.state = CartCheckingOut
	return CheckoutSummary{CartID: c.id, Items: items, Subtotal: subtotal, Total: subtotal}, true, nil
}

// abortCheckout returns a frozen cart to Building with its lines intact
func (c *Cart) abortCheckout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CartCheckingOut {
		return
	}
	c.state = CartBuilding
	if len(c.lines) == 0 {
		c.state = CartEmpty
	}
}

// complete ends a committed checkout with an empty cart under a new id
func (c *Cart) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Cart) reset() {
	c.id = uuid.New().String()
	c.lines = nil
	c.state = CartEmpty
}

func (c *Cart) lockedWarning(productID string) *Warning {
	if c.state == CartCheckingOut {
		return &Warning{ProductID: productID, Message: "Checkout in progress, cart cannot change"}
	}
	return nil
}

func (c *Cart) find(productID string) *CartLine {
	for _, l := range c.lines {
		if l.ProductID == productID {
			return l
		}
	}
	return nil
}

func (c *Cart) remove(productID string) {
	for i, l := range c.lines {
		if l.ProductID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			break
		}
	}
	if len(c.lines) == 0 {
		c.state = CartEmpty
	}
}

func stockWarning(line *CartLine) *Warning {
	return &Warning{
		ProductID: line.ProductID,
		Message:   fmt.Sprintf("Only %d %s of %s in stock", line.Stock, line.Unit, line.Name),
	}
}
