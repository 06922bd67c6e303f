package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/order"
	"github.com/idcstack/idc-control-plane/internal/store"
)

type fakeOrders struct {
	mu      sync.Mutex
	orders  map[string]model.Order
	updates []string
}

func (f *fakeOrders) Get(_ context.Context, orderID string, who order.Requester) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || (!who.Admin && o.UserID != who.UserID) {
		return nil, apperr.New(apperr.CodeForbidden, "no access to this order")
	}
	return &o, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, orderID string, next model.OrderStatus, who order.Requester) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !who.Admin {
		return nil, apperr.New(apperr.CodeForbidden, "admin only")
	}
	o := f.orders[orderID]
	o.Status = next
	f.orders[orderID] = o
	f.updates = append(f.updates, orderID+"->"+string(next))
	return &o, nil
}

type fakeStore struct {
	mu       sync.Mutex
	payments map[string]model.Payment
}

func (f *fakeStore) CreatePayment(_ context.Context, p *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments[p.PaymentID] = *p
	return nil
}

func (f *fakeStore) GetPayment(_ context.Context, id string) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) UpdatePaymentStatus(_ context.Context, id string, status model.PaymentStatus, txID string) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != model.PaymentPending {
		return nil, store.ErrStatusConflict
	}
	p.Status, p.TransactionID = status, txID
	f.payments[id] = p
	return &p, nil
}

// fakeGateway records charges and answers queries from a canned status.
type fakeGateway struct {
	mu        sync.Mutex
	charges   []Charge
	status    model.PaymentStatus
	createErr error
	queries   int
}

func (g *fakeGateway) Create(_ context.Context, c Charge) (Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return Receipt{}, g.createErr
	}
	g.charges = append(g.charges, c)
	return Receipt{PaymentID: "PAY-" + c.OrderID, PayURL: "weixin://wxpay/" + c.OrderID}, nil
}

func (g *fakeGateway) Query(context.Context, string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	st := g.status
	if st == "" {
		st = model.PaymentPending
	}
	return Result{Status: st, TransactionID: "tx-1"}, nil
}

type fixture struct {
	svc    *Service
	orders *fakeOrders
	store  *fakeStore
	wechat *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics.ResetDefaultForTest()
	f := &fixture{
		orders: &fakeOrders{orders: map[string]model.Order{
			"ORD1": {OrderID: "ORD1", UserID: "usr_1", TermMonths: 3, TotalCost: 480, Status: model.OrderPending},
			"ORD2": {OrderID: "ORD2", UserID: "usr_1", TermMonths: 1, TotalCost: 160, Status: model.OrderPaid},
		}},
		store:  &fakeStore{payments: map[string]model.Payment{}},
		wechat: &fakeGateway{},
	}
	f.svc = NewService(f.orders, f.store, map[model.PaymentMethod]Gateway{model.PaymentWechat: f.wechat}, nil)
	return f
}

var owner = order.Requester{UserID: "usr_1"}

func TestCreate_ChargesOrderTotal(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.Create(context.Background(), CreateInput{OrderID: "ORD1", Method: "WeChat"}, owner)
	require.NoError(t, err)
	assert.Equal(t, "PAY-ORD1", p.PaymentID)
	assert.Equal(t, model.PaymentWechat, p.Method)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, 480.0, p.Amount)
	assert.Equal(t, "usr_1", p.UserID)

	require.Len(t, f.wechat.charges, 1)
	assert.Equal(t, Charge{OrderID: "ORD1", Amount: 480, Description: "order ORD1, 3 months"}, f.wechat.charges[0])
	assert.Contains(t, f.store.payments, "PAY-ORD1")
	assert.Contains(t, metrics.Default().Render(), `idc_payments_total{method="wechat",operation="create",status="ok"} 1`)
}

func TestCreate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		in   CreateInput
		who  order.Requester
		code apperr.Code
	}{
		{"missing order", CreateInput{Method: "wechat"}, owner, apperr.CodeMissingParameters},
		{"unknown method", CreateInput{OrderID: "ORD1", Method: "paypal"}, owner, apperr.CodeInvalidInput},
		{"method not enabled", CreateInput{OrderID: "ORD1", Method: "alipay"}, owner, apperr.CodeInvalidInput},
		{"someone else's order", CreateInput{OrderID: "ORD1", Method: "wechat"}, order.Requester{UserID: "usr_2"}, apperr.CodeForbidden},
		{"order already paid", CreateInput{OrderID: "ORD2", Method: "wechat"}, owner, apperr.CodeInvalidStatusTransition},
		{"amount mismatch", CreateInput{OrderID: "ORD1", Method: "wechat", Amount: 0.01}, owner, apperr.CodeInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tc.in, tc.who)
			require.True(t, apperr.IsCode(err, tc.code), "got %v", err)
			assert.Empty(t, f.wechat.charges)
			assert.Empty(t, f.store.payments)
		})
	}
}

func TestCreate_GatewayFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.wechat.createErr = gatewayFailed(model.PaymentWechat, "create", errors.New("merchant suspended"))

	_, err := f.svc.Create(context.Background(), CreateInput{OrderID: "ORD1", Method: "wechat", Amount: 480}, owner)
	require.True(t, apperr.IsCode(err, apperr.CodePaymentFailed), "got %v", err)
	assert.Empty(t, f.store.payments)
	assert.Contains(t, metrics.Default().Render(), `idc_payments_total{method="wechat",operation="create",status="error"} 1`)
}

func TestStatus_PendingStaysPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{OrderID: "ORD1", Method: "wechat"}, owner)
	require.NoError(t, err)

	p, err := f.svc.Status(context.Background(), "PAY-ORD1", "wechat", owner)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Empty(t, f.orders.updates)
}

func TestStatus_PaidMarksOrderPaidOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{OrderID: "ORD1", Method: "wechat"}, owner)
	require.NoError(t, err)
	f.wechat.status = model.PaymentPaid

	p, err := f.svc.Status(context.Background(), "PAY-ORD1", "wechat", owner)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, p.Status)
	assert.Equal(t, "tx-1", p.TransactionID)
	assert.Equal(t, []string{"ORD1->paid"}, f.orders.updates)

	// settled payments are served from the store
	p, err = f.svc.Status(context.Background(), "PAY-ORD1", "wechat", owner)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, p.Status)
	assert.Equal(t, 1, f.wechat.queries)
	assert.Len(t, f.orders.updates, 1)
}

func TestStatus_FailedLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{OrderID: "ORD1", Method: "wechat"}, owner)
	require.NoError(t, err)
	f.wechat.status = model.PaymentFailed

	p, err := f.svc.Status(context.Background(), "PAY-ORD1", "wechat", owner)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, p.Status)
	assert.Empty(t, f.orders.updates)
	assert.Equal(t, model.OrderPending, f.orders.orders["ORD1"].Status)
}

func TestStatus_AccessAndMethodChecks(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{OrderID: "ORD1", Method: "wechat"}, owner)
	require.NoError(t, err)

	_, err = f.svc.Status(context.Background(), "PAY-ORD1", "wechat", order.Requester{UserID: "usr_2"})
	require.True(t, apperr.IsCode(err, apperr.CodeForbidden), "got %v", err)

	_, err = f.svc.Status(context.Background(), "PAY-NOPE", "wechat", owner)
	require.True(t, apperr.IsCode(err, apperr.CodeForbidden), "unknown ids are not disclosed, got %v", err)

	_, err = f.svc.Status(context.Background(), "PAY-NOPE", "wechat", order.Requester{Admin: true})
	require.True(t, apperr.IsCode(err, apperr.CodeNotFound), "got %v", err)

	f.svc.gateways[model.PaymentAlipay] = &fakeGateway{}
	_, err = f.svc.Status(context.Background(), "PAY-ORD1", "alipay", owner)
	require.True(t, apperr.IsCode(err, apperr.CodeInvalidInput), "got %v", err)
	assert.Zero(t, f.wechat.queries)
}
