package service

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"inventory-service/internal/models"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Handler executes one named command for a session
type Handler func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error)

// Dispatcher maps command names to handlers
type Dispatcher struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   util.GetLogger(),
	}
}

// Register binds name to h, replacing any previous handler
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Commands lists the registered command names
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named command. Unknown names are a NotFoundError.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, name string, payload json.RawMessage) (result interface{}, err error) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Dispatch", attribute.String("command", name))
	defer func() { util.EndSpan(span, err) }()

	h, ok := d.handlers[name]
	if !ok {
		return nil, models.NotFound("command", name)
	}
	result, err = h(ctx, s, payload)
	if err != nil {
		d.logger.Debug("Command rejected",
			zap.String("command", name),
			zap.String("user", s.Identity().Email),
			zap.Error(err))
	}
	return result, err
}

// CartView is the cart as returned to the presentation layer
type CartView struct {
	ID       string          `json:"id"`
	State    CartState       `json:"state"`
	Lines    []CartLine      `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Warning  *Warning        `json:"warning,omitempty"`
}

// ViewCart snapshots a cart
func ViewCart(c *Cart, w *Warning) CartView {
	return CartView{ID: c.ID(), State: c.State(), Lines: c.Lines(), Subtotal: c.Subtotal(), Warning: w}
}

type productRef struct {
	ID string `json:"id"`
}

type productEditRequest struct {
	ID string `json:"id"`
	ProductEdit
}

type adjustRequest struct {
	ID     string `json:"id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type recordRequest struct {
	Product string              `json:"product"`
	Qty     int                 `json:"qty"`
	Type    models.MovementType `json:"type"`
	Remarks string              `json:"remarks"`
}

type cartChangeRequest struct {
	ID    string `json:"id"`
	Delta int    `json:"delta"`
}

type checkoutRequest struct {
	Confirm bool   `json:"confirm"`
	CartID  string `json:"cartId"`
}

type userRequest struct {
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	Disabled bool        `json:"disabled"`
}

// RegisterCommands binds the full command set
func RegisterCommands(d *Dispatcher, ledger *Ledger, checkout *CheckoutService, users *UserAdmin) {
	d.Register("product.create", operator(func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req NewProduct
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return ledger.CreateProduct(ctx, s.Actor(), req)
	}))
	d.Register("product.edit", operator(func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req productEditRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return ledger.EditProduct(ctx, s.Actor(), req.ID, req.ProductEdit)
	}))
	d.Register("product.archive", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req productRef
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, ledger.ArchiveProduct(ctx, s.Actor(), req.ID)
	})
	d.Register("product.delete", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req productRef
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, ledger.DeleteProductHard(ctx, s.Actor(), req.ID)
	})
	d.Register("stock.adjust", operator(func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req adjustRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return ledger.AdjustQuantity(ctx, s.Actor(), req.ID, req.Delta, req.Reason)
	}))
	d.Register("stock.record", operator(func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req recordRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return ledger.RecordExternalMovement(ctx, s.Actor(), req.Product, req.Qty, req.Type, req.Remarks)
	}))

	d.Register("cart.add", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req productRef
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		p, err := ledger.GetProduct(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return ViewCart(s.Cart(), s.Cart().AddItem(*p)), nil
	})
	d.Register("cart.change", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req cartChangeRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		w, err := s.Cart().ChangeItemQuantity(req.ID, req.Delta)
		if err != nil {
			return nil, err
		}
		return ViewCart(s.Cart(), w), nil
	})
	d.Register("cart.remove", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req productRef
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := s.Cart().RemoveItem(req.ID); err != nil {
			return nil, err
		}
		return ViewCart(s.Cart(), nil), nil
	})
	d.Register("cart.clear", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		if err := s.Cart().Clear(); err != nil {
			return nil, err
		}
		return ViewCart(s.Cart(), nil), nil
	})
	d.Register("cart.checkout", operator(func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req checkoutRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		// a resubmitted checkout names the cart it was built for
		if req.CartID != "" && req.CartID != s.Cart().ID() {
			receipt, err := checkout.Replay(ctx, req.CartID)
			if err != nil {
				return nil, err
			}
			if receipt == nil {
				return nil, models.Invalid("cart "+req.CartID, "cart is no longer current")
			}
			return receipt, nil
		}
		confirm := ConfirmFunc(func(context.Context, CheckoutSummary) (bool, error) {
			return req.Confirm, nil
		})
		return checkout.Checkout(ctx, s.Actor(), s.Cart(), confirm)
	}))

	d.Register("user.create", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req userRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return users.CreateUser(ctx, s.Actor(), req.Email, req.Role)
	})
	d.Register("user.role", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req userRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return users.SetRole(ctx, s.Actor(), req.Email, req.Role)
	})
	d.Register("user.disable", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req userRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return users.SetDisabled(ctx, s.Actor(), req.Email, req.Disabled)
	})
	d.Register("user.delete", func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		var req userRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, users.DeleteUser(ctx, s.Actor(), req.Email)
	})
}

// operator restricts a handler to roles allowed to change stock
func operator(h Handler) Handler {
	return func(ctx context.Context, s *Session, payload json.RawMessage) (interface{}, error) {
		if !CanOperate(s.Role()) {
			return nil, models.Forbidden(s.Role(), "change inventory")
		}
		return h(ctx, s, payload)
	}
}

func decode(payload json.RawMessage, out interface{}) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return models.Invalid("payload", "malformed command payload: %v", err)
	}
	return nil
}
