package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/model"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Gateway is one payment channel. Implementations must not retry a Create;
// a duplicate charge is worse than a failed one.
type Gateway interface {
	Create(ctx context.Context, c Charge) (Receipt, error)
	Query(ctx context.Context, paymentID string) (Result, error)
}

// Charge asks the gateway to collect Amount for an order.
type Charge struct {
	OrderID     string
	Amount      float64
	Description string
}

// Receipt identifies the charge on the gateway side. PayURL is what the
// storefront renders as a QR code or redirect.
type Receipt struct {
	PaymentID string
	PayURL    string
}

type Result struct {
	Status        model.PaymentStatus
	TransactionID string
}

type HTTPGatewayOptions struct {
	BaseURL   string
	APIKey    string
	NotifyURL string
	Timeout   time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// HTTPGateway talks to a payment aggregator that fronts the wechat and alipay
// merchant APIs under /v1/{method}/charges.
type HTTPGateway struct {
	method     model.PaymentMethod
	baseURL    string
	apiKey     string
	notifyURL  string
	httpClient *http.Client
}

func NewHTTPGateway(method model.PaymentMethod, opts HTTPGatewayOptions) (*HTTPGateway, error) {
	if _, ok := ParseMethod(string(method)); !ok {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unsupported payment method %q", method))
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "payment gateway url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{
		method:     method,
		baseURL:    base,
		apiKey:     opts.APIKey,
		notifyURL:  opts.NotifyURL,
		httpClient: hc,
	}, nil
}

type chargeRequest struct {
	OutTradeNo  string `json:"outTradeNo"`
	AmountCents int64  `json:"amountCents"`
	Description string `json:"description"`
	NotifyURL   string `json:"notifyUrl,omitempty"`
}

type chargeResponse struct {
	PaymentID     string `json:"paymentId"`
	PayURL        string `json:"payUrl"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

func (g *HTTPGateway) Create(ctx context.Context, c Charge) (Receipt, error) {
	var out chargeResponse
	err := g.do(ctx, "create", http.MethodPost, g.chargesPath(), chargeRequest{
		OutTradeNo:  c.OrderID,
		AmountCents: int64(math.Round(c.Amount * 100)),
		Description: c.Description,
		NotifyURL:   g.notifyURL,
	}, &out)
	if err != nil {
		return Receipt{}, err
	}
	if out.PaymentID == "" {
		return Receipt{}, gatewayFailed(g.method, "create", fmt.Errorf("gateway returned no payment id"))
	}
	return Receipt{PaymentID: out.PaymentID, PayURL: out.PayURL}, nil
}

func (g *HTTPGateway) Query(ctx context.Context, paymentID string) (Result, error) {
	var out chargeResponse
	if err := g.do(ctx, "query", http.MethodGet, g.chargesPath()+"/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return Result{}, err
	}
	return Result{Status: gatewayStatus(out.Status), TransactionID: out.TransactionID}, nil
}

func (g *HTTPGateway) chargesPath() string {
	return "/v1/" + string(g.method) + "/charges"
}

// gatewayStatus folds the channel vocabularies into ours. Anything unknown is
// still pending.
func gatewayStatus(s string) model.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "success", "trade_success", "trade_finished":
		return model.PaymentPaid
	case "failed", "closed", "trade_closed", "payerror", "revoked":
		return model.PaymentFailed
	}
	return model.PaymentPending
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return gatewayFailed(g.method, op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return gatewayFailed(g.method, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return gatewayFailed(g.method, op, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gatewayFailed(g.method, op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gatewayFailed(g.method, op, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, errorText(raw))).
			WithMeta("http_status", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return gatewayFailed(g.method, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func gatewayFailed(method model.PaymentMethod, op string, err error) *apperr.Error {
	return apperr.Wrap(err, apperr.CodePaymentFailed, string(method)+" "+op+" failed").
		WithMeta("method", string(method)).
		WithMeta("underlying", err.Error())
}

func errorText(raw []byte) string {
	var r chargeResponse
	if err := json.Unmarshal(raw, &r); err == nil && r.Message != "" {
		return r.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
