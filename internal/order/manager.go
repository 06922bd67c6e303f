package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/pricing"
	"github.com/idcstack/idc-control-plane/internal/store"
)

type Store interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	ListAllOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to model.OrderStatus) (*model.Order, error)
}

// Requester identifies who is asking; admins bypass ownership checks.
type Requester struct {
	UserID string
	Admin  bool
}

type CreateInput struct {
	UserID           string
	ServerTemplateID int
	Configuration    model.ResourceConfiguration
	TermMonths       int
	Customer         model.CustomerInfo
}

type Manager struct {
	store   Store
	plan    pricing.Plan
	catalog *pricing.Catalog
	now     func() time.Time
	newID   func(time.Time) string
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(fn func(time.Time) string) Option {
	return func(m *Manager) { m.newID = fn }
}

func NewManager(st Store, plan pricing.Plan, catalog *pricing.Catalog, opts ...Option) *Manager {
	m := &Manager{
		store:   st,
		plan:    plan,
		catalog: catalog,
		now:     time.Now,
		newID:   NewOrderID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewOrderID returns ORD + UTC timestamp + 8 random hex chars.
func NewOrderID(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "ORD" + at.UTC().Format("20060102150405") + suffix
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (*model.Order, error) {
	if missing := missingFields(in); len(missing) > 0 {
		return nil, apperr.New(apperr.CodeMissingParameters, "missing required fields: "+strings.Join(missing, ", "))
	}
	if _, ok := m.catalog.Get(in.ServerTemplateID); !ok {
		return nil, apperr.New(apperr.CodeInvalidConfiguration, fmt.Sprintf("unknown server template %d", in.ServerTemplateID))
	}
	quote, err := pricing.Compute(in.Configuration, in.TermMonths, m.plan)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	o := &model.Order{
		OrderID:          m.newID(now),
		UserID:           in.UserID,
		ServerTemplateID: in.ServerTemplateID,
		Configuration:    in.Configuration,
		TermMonths:       in.TermMonths,
		MonthlyCost:      quote.MonthlyCost,
		TotalCost:        quote.TotalCost,
		Customer:         in.Customer,
		Status:           model.OrderPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	metrics.Default().IncCounter("idc_orders_created_total", map[string]string{"server_template": fmt.Sprint(in.ServerTemplateID)})
	return o, nil
}

func missingFields(in CreateInput) []string {
	var out []string
	if in.UserID == "" {
		out = append(out, "userId")
	}
	if in.ServerTemplateID == 0 {
		out = append(out, "serverId")
	}
	if strings.TrimSpace(in.Customer.Name) == "" {
		out = append(out, "customerInfo.name")
	}
	if strings.TrimSpace(in.Customer.Phone) == "" {
		out = append(out, "customerInfo.phone")
	}
	if strings.TrimSpace(in.Customer.Email) == "" {
		out = append(out, "customerInfo.email")
	}
	return out
}

// Get returns the order if the requester owns it or is an admin. Non-admins get
// Forbidden for unknown ids too, so existence is not disclosed.
func (m *Manager) Get(ctx context.Context, orderID string, who Requester) (*model.Order, error) {
	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if who.Admin {
				return nil, apperr.New(apperr.CodeNotFound, "order not found")
			}
			return nil, forbiddenOrder()
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !who.Admin && o.UserID != who.UserID {
		return nil, forbiddenOrder()
	}
	return o, nil
}

func forbiddenOrder() error {
	return apperr.New(apperr.CodeForbidden, "no access to this order")
}

func (m *Manager) ListForUser(ctx context.Context, userID string) ([]model.Order, error) {
	orders, err := m.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (m *Manager) ListAll(ctx context.Context, who Requester) ([]model.Order, error) {
	if !who.Admin {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	orders, err := m.store.ListAllOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order along the state machine. Prices are never recomputed.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, next model.OrderStatus, who Requester) (*model.Order, error) {
	if !who.Admin {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	if _, ok := ParseStatus(string(next)); !ok {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown order status %q", next))
	}

	current, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "order not found")
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	labels := map[string]string{"from": string(current.Status), "to": string(next)}
	if !CanTransition(current.Status, next) {
		labels["status"] = "rejected"
		metrics.Default().IncCounter("idc_order_transitions_total", labels)
		return nil, apperr.New(apperr.CodeInvalidStatusTransition,
			fmt.Sprintf("cannot move order from %s to %s", current.Status, next))
	}

	updated, err := m.store.UpdateOrderStatus(ctx, orderID, current.Status, next)
	if err != nil {
		labels["status"] = "error"
		metrics.Default().IncCounter("idc_order_transitions_total", labels)
		switch {
		case errors.Is(err, store.ErrStatusConflict):
			return nil, apperr.Wrap(err, apperr.CodeInvalidStatusTransition, "order status changed concurrently")
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.New(apperr.CodeNotFound, "order not found")
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	labels["status"] = "ok"
	metrics.Default().IncCounter("idc_order_transitions_total", labels)
	return updated, nil
}
