package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/order"
	"github.com/idcstack/idc-control-plane/internal/store"
)

// Orders is the slice of order.Manager payments need.
type Orders interface {
	Get(ctx context.Context, orderID string, who order.Requester) (*model.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next model.OrderStatus, who order.Requester) (*model.Order, error)
}

type Store interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, status model.PaymentStatus, transactionID string) (*model.Payment, error)
}

func ParseMethod(s string) (model.PaymentMethod, bool) {
	switch m := model.PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case model.PaymentWechat, model.PaymentAlipay:
		return m, true
	}
	return "", false
}

type CreateInput struct {
	OrderID     string
	Method      string
	Description string
	// Amount, when non-zero, must equal the order total.
	Amount float64
}

type Service struct {
	orders   Orders
	store    Store
	gateways map[model.PaymentMethod]Gateway
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires the enabled channels. A method with no gateway is rejected
// at Create time.
func NewService(orders Orders, st Store, gateways map[model.PaymentMethod]Gateway, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{orders: orders, store: st, gateways: gateways, log: log, now: time.Now}
}

// Create starts a charge for an order the requester owns. Only pending orders
// can be paid and the amount always comes from the order.
func (s *Service) Create(ctx context.Context, in CreateInput, who order.Requester) (*model.Payment, error) {
	var missing []string
	if strings.TrimSpace(in.OrderID) == "" {
		missing = append(missing, "orderId")
	}
	if strings.TrimSpace(in.Method) == "" {
		missing = append(missing, "paymentMethod")
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.CodeMissingParameters, "missing required fields: "+strings.Join(missing, ", "))
	}
	method, gw, err := s.gateway(in.Method)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.Get(ctx, in.OrderID, who)
	if err != nil {
		return nil, err
	}
	if o.Status != model.OrderPending {
		return nil, apperr.New(apperr.CodeInvalidStatusTransition,
			fmt.Sprintf("order %s is %s, only pending orders can be paid", o.OrderID, o.Status))
	}
	if in.Amount != 0 && math.Round(in.Amount*100) != math.Round(o.TotalCost*100) {
		return nil, apperr.New(apperr.CodeInvalidInput, "amount does not match the order total").
			WithMeta("orderTotal", o.TotalCost)
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = fmt.Sprintf("order %s, %d months", o.OrderID, o.TermMonths)
	}

	receipt, err := gw.Create(ctx, Charge{OrderID: o.OrderID, Amount: o.TotalCost, Description: desc})
	count(method, "create", err)
	if err != nil {
		s.log.Warn("payment create failed", zap.String("order_id", o.OrderID), zap.String("method", string(method)), zap.Error(err))
		return nil, err
	}

	now := s.now().UTC()
	p := &model.Payment{
		PaymentID:   receipt.PaymentID,
		OrderID:     o.OrderID,
		UserID:      o.UserID,
		Method:      method,
		Amount:      o.TotalCost,
		Description: desc,
		Status:      model.PaymentPending,
		PayURL:      receipt.PayURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	s.log.Info("payment created",
		zap.String("payment_id", p.PaymentID),
		zap.String("order_id", p.OrderID),
		zap.String("method", string(method)),
		zap.Float64("amount", p.Amount))
	return p, nil
}

// Status returns the payment, asking the gateway first while it is still
// pending. A payment that settles as paid moves its order to paid.
func (s *Service) Status(ctx context.Context, paymentID, method string, who order.Requester) (*model.Payment, error) {
	m, gw, err := s.gateway(method)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if who.Admin {
				return nil, apperr.New(apperr.CodeNotFound, "payment not found")
			}
			return nil, forbiddenPayment()
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if !who.Admin && p.UserID != who.UserID {
		return nil, forbiddenPayment()
	}
	if p.Method != m {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("payment %s was made with %s", p.PaymentID, p.Method))
	}
	if p.Status != model.PaymentPending {
		return p, nil
	}

	res, err := gw.Query(ctx, p.PaymentID)
	count(m, "query", err)
	if err != nil {
		return nil, err
	}
	if res.Status == model.PaymentPending {
		return p, nil
	}

	settled, err := s.store.UpdatePaymentStatus(ctx, p.PaymentID, res.Status, res.TransactionID)
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		// settled by a concurrent query
		return s.store.GetPayment(ctx, p.PaymentID)
	case err != nil:
		return nil, fmt.Errorf("update payment: %w", err)
	}
	s.log.Info("payment settled",
		zap.String("payment_id", settled.PaymentID),
		zap.String("order_id", settled.OrderID),
		zap.String("status", string(settled.Status)))

	if settled.Status == model.PaymentPaid {
		if _, err := s.orders.UpdateStatus(ctx, settled.OrderID, model.OrderPaid, order.Requester{Admin: true}); err != nil {
			// The money is in; an admin reconciles the order by hand.
			s.log.Error("mark order paid failed",
				zap.String("payment_id", settled.PaymentID),
				zap.String("order_id", settled.OrderID),
				zap.Error(err))
		}
	}
	return settled, nil
}

func (s *Service) gateway(raw string) (model.PaymentMethod, Gateway, error) {
	m, ok := ParseMethod(raw)
	if !ok {
		return "", nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unsupported payment method %q", raw))
	}
	gw, ok := s.gateways[m]
	if !ok || gw == nil {
		return "", nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("payment method %s is not enabled", m))
	}
	return m, gw, nil
}

func forbiddenPayment() error {
	return apperr.New(apperr.CodeForbidden, "no access to this payment")
}

func count(m model.PaymentMethod, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.Default().IncCounter("idc_payments_total", map[string]string{"method": string(m), "operation": op, "status": status})
}
