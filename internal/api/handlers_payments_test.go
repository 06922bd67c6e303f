package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/payment"
	"github.com/idcstack/idc-control-plane/internal/store"
)

// memUsers drops a user's bindings on delete, like the foreign key cascade.
type memUsers struct {
	mu       sync.Mutex
	ids      map[string]bool
	bindings *memBindings
}

func newMemUsers(bindings *memBindings, ids ...string) *memUsers {
	m := &memUsers{ids: map[string]bool{}, bindings: bindings}
	for _, id := range ids {
		m.ids[id] = true
	}
	return m
}

func (m *memUsers) ListUsers(context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.User{}
	for id := range m.ids {
		out = append(out, model.User{ID: id, Username: strings.TrimPrefix(id, "usr_")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memUsers) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ids[id] {
		return store.ErrNotFound
	}
	delete(m.ids, id)
	m.bindings.mu.Lock()
	defer m.bindings.mu.Unlock()
	for k := range m.bindings.rows {
		if k.user == id {
			delete(m.bindings.rows, k)
		}
	}
	return nil
}

type memPayments struct {
	mu   sync.Mutex
	rows map[string]model.Payment
}

func newMemPayments() *memPayments {
	return &memPayments{rows: map[string]model.Payment{}}
}

func (m *memPayments) CreatePayment(_ context.Context, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.PaymentID] = *p
	return nil
}

func (m *memPayments) GetPayment(_ context.Context, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memPayments) UpdatePaymentStatus(_ context.Context, id string, status model.PaymentStatus, txID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Status != model.PaymentPending {
		return nil, store.ErrStatusConflict
	}
	p.Status, p.TransactionID = status, txID
	m.rows[id] = p
	return &p, nil
}

// fakeGateway stands in for the wechat channel.
type fakeGateway struct {
	mu      sync.Mutex
	charges []payment.Charge
	status  model.PaymentStatus
}

func (g *fakeGateway) Create(_ context.Context, c payment.Charge) (payment.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, c)
	return payment.Receipt{PaymentID: "wx-" + c.OrderID, PayURL: "weixin://wxpay/bizpayurl?pr=" + c.OrderID}, nil
}

func (g *fakeGateway) Query(context.Context, string) (payment.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == "" {
		return payment.Result{Status: model.PaymentPending}, nil
	}
	return payment.Result{Status: g.status, TransactionID: "4200001"}, nil
}

func createStandardOrder(t *testing.T, env *testEnv, tok string) model.Order {
	t.Helper()
	rr, resp := env.do(t, http.MethodPost, "/api/orders", tok, standardOrder())
	if rr.Code != http.StatusOK {
		t.Fatalf("create order expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var o model.Order
	decodeData(t, resp.Data, &o)
	return o
}

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)
	tok := testJWT(t, testSecret, "usr_1", "user")
	o := createStandardOrder(t, env, tok)

	rr, resp := env.do(t, http.MethodPost, "/api/payment/create", tok, map[string]any{
		"orderId": o.OrderID, "paymentMethod": "wechat", "amount": 480, "description": "standard x3",
	})
	if rr.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var p model.Payment
	decodeData(t, resp.Data, &p)
	if p.PaymentID != "wx-"+o.OrderID || p.Amount != 480 || p.Status != model.PaymentPending || p.PayURL == "" {
		t.Fatalf("unexpected payment %+v", p)
	}
	if len(env.gateway.charges) != 1 || env.gateway.charges[0].Amount != 480 {
		t.Fatalf("unexpected gateway charges %+v", env.gateway.charges)
	}
}

func TestCreatePayment_Rejections(t *testing.T) {
	env := newTestEnv(t)
	tok := testJWT(t, testSecret, "usr_1", "user")
	other := testJWT(t, testSecret, "usr_2", "user")
	admin := testJWT(t, testSecret, "adm_1", "admin")
	o := createStandardOrder(t, env, tok)

	cases := []struct {
		name   string
		token  string
		body   map[string]any
		status int
		code   apperr.Code
	}{
		{"missing method", tok, map[string]any{"orderId": o.OrderID}, http.StatusBadRequest, apperr.CodeMissingParameters},
		{"unsupported method", tok, map[string]any{"orderId": o.OrderID, "paymentMethod": "paypal"}, http.StatusBadRequest, apperr.CodeInvalidInput},
		{"disabled method", tok, map[string]any{"orderId": o.OrderID, "paymentMethod": "alipay"}, http.StatusBadRequest, apperr.CodeInvalidInput},
		{"not the owner", other, map[string]any{"orderId": o.OrderID, "paymentMethod": "wechat"}, http.StatusForbidden, apperr.CodeForbidden},
		{"wrong amount", tok, map[string]any{"orderId": o.OrderID, "paymentMethod": "wechat", "amount": 1}, http.StatusBadRequest, apperr.CodeInvalidInput},
		{"negative amount", tok, map[string]any{"orderId": o.OrderID, "paymentMethod": "wechat", "amount": -1}, http.StatusBadRequest, apperr.CodeInvalidInput},
	}
	for _, tc := range cases {
		rr, resp := env.do(t, http.MethodPost, "/api/payment/create", tc.token, tc.body)
		if rr.Code != tc.status || resp.Code != string(tc.code) {
			t.Fatalf("%s: expected %d %s, got %d %s", tc.name, tc.status, tc.code, rr.Code, resp.Code)
		}
	}

	if rr, _ := env.do(t, http.MethodPut, "/api/admin/orders/"+o.OrderID+"/status", admin, map[string]any{"status": "cancelled"}); rr.Code != http.StatusOK {
		t.Fatalf("cancel expected 200, got %d", rr.Code)
	}
	rr, resp := env.do(t, http.MethodPost, "/api/payment/create", tok, map[string]any{"orderId": o.OrderID, "paymentMethod": "wechat"})
	if rr.Code != http.StatusBadRequest || resp.Code != string(apperr.CodeInvalidStatusTransition) {
		t.Fatalf("cancelled order: expected invalid_status_transition, got %d %s", rr.Code, resp.Code)
	}
	if len(env.gateway.charges) != 0 || len(env.payments.rows) != 0 {
		t.Fatal("no charge may be made for a rejected payment")
	}
}

func TestPaymentStatus_PaidMovesOrderToPaid(t *testing.T) {
	env := newTestEnv(t)
	tok := testJWT(t, testSecret, "usr_1", "user")
	o := createStandardOrder(t, env, tok)
	if rr, _ := env.do(t, http.MethodPost, "/api/payment/create", tok, map[string]any{"orderId": o.OrderID, "paymentMethod": "wechat"}); rr.Code != http.StatusOK {
		t.Fatalf("create payment expected 200, got %d", rr.Code)
	}
	path := "/api/payment/status/wx-" + o.OrderID + "/wechat"

	rr, resp := env.do(t, http.MethodGet, path, tok, nil)
	var p model.Payment
	decodeData(t, resp.Data, &p)
	if rr.Code != http.StatusOK || p.Status != model.PaymentPending {
		t.Fatalf("expected pending payment, got %d %+v", rr.Code, p)
	}

	env.gateway.status = model.PaymentPaid
	rr, resp = env.do(t, http.MethodGet, path, tok, nil)
	decodeData(t, resp.Data, &p)
	if rr.Code != http.StatusOK || p.Status != model.PaymentPaid || p.TransactionID != "4200001" {
		t.Fatalf("expected paid payment, got %d %+v", rr.Code, p)
	}
	if got := env.orders.orders[o.OrderID].Status; got != model.OrderPaid {
		t.Fatalf("order should be paid, got %s", got)
	}
	if !strings.Contains(metrics.Default().Render(), `idc_order_transitions_total{from="pending",status="ok",to="paid"} 1`) {
		t.Fatal("expected a recorded pending->paid transition")
	}

	other := testJWT(t, testSecret, "usr_2", "user")
	if rr, _ := env.do(t, http.MethodGet, path, other, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodGet, "/api/payment/status/wx-"+o.OrderID+"/alipay", tok, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a disabled method, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}
}

func TestAdminUsers_ListAndDeleteCascadesBindings(t *testing.T) {
	env := newTestEnv(t)
	admin := testJWT(t, testSecret, "adm_1", "admin")

	for _, p := range []string{"/api/mcsm/users/usr_1/instances/inst-a/bind", "/api/mcsm/users/usr_1/instances/inst-b/bind", "/api/mcsm/users/usr_2/instances/inst-a/bind"} {
		if rr, _ := env.do(t, http.MethodPost, p, admin, map[string]any{"permissions": []string{"read"}}); rr.Code != http.StatusOK {
			t.Fatalf("bind %s expected 200, got %d", p, rr.Code)
		}
	}

	rr, resp := env.do(t, http.MethodGet, "/api/admin/users", admin, nil)
	var users []model.User
	decodeData(t, resp.Data, &users)
	if rr.Code != http.StatusOK || len(users) != 2 || users[0].ID != "usr_1" {
		t.Fatalf("unexpected users %d %+v", rr.Code, users)
	}

	if rr, _ := env.do(t, http.MethodDelete, "/api/admin/users/usr_1", admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete expected 200, got %d", rr.Code)
	}
	rr, resp = env.do(t, http.MethodGet, "/api/mcsm/users/usr_1/instances", admin, nil)
	var left []model.BoundInstance
	decodeData(t, resp.Data, &left)
	if rr.Code != http.StatusOK || len(left) != 0 {
		t.Fatalf("bindings of a deleted user must be gone, got %d %+v", rr.Code, left)
	}
	if len(env.bindings.rows) != 1 {
		t.Fatalf("other users' bindings must stay, got %v", env.bindings.rows)
	}
	if !strings.Contains(metrics.Default().Render(), "idc_users_deleted_total 1") {
		t.Fatal("expected idc_users_deleted_total 1")
	}

	if rr, resp := env.do(t, http.MethodDelete, "/api/admin/users/usr_1", admin, nil); rr.Code != http.StatusNotFound || resp.Code != string(apperr.CodeNotFound) {
		t.Fatalf("second delete expected 404, got %d %s", rr.Code, resp.Code)
	}

	user := testJWT(t, testSecret, "usr_2", "user")
	if rr, _ := env.do(t, http.MethodGet, "/api/admin/users", user, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin expected 403, got %d", rr.Code)
	}
}
