package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultPollInterval = 2 * time.Second
	maxErrorBody        = 512
)

type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	PollInterval time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Client talks to the MCSM panel API. It never retries; every call is at-most-once.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "panel base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		baseURL:      base,
		apiKey:       opts.APIKey,
		pollInterval: poll,
		httpClient:   hc,
	}, nil
}

// envelope is the panel's standard response wrapper.
type envelope struct {
	Status  int             `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// do sends one request and returns the raw response body of a 2xx reply.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	start := time.Now()
	status := "error"
	defer func() {
		labels := map[string]string{"op": op, "status": status}
		metrics.Default().IncCounter("idc_panel_requests_total", labels)
		metrics.Default().ObserveSince("idc_panel_request_latency_ms", start, labels)
	}()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, requestFailed(op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, requestFailed(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestFailed(op, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestFailed(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = strconv.Itoa(resp.StatusCode)
		return nil, requestFailed(op, fmt.Errorf("panel returned status %d: %s", resp.StatusCode, errorText(raw))).
			WithMeta("http_status", resp.StatusCode)
	}
	status = "ok"
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(raw), nil
}

// getData fetches path and decodes the envelope's data field into out.
func (c *Client) getData(ctx context.Context, op, path string, out any) error {
	raw, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return requestFailed(op, fmt.Errorf("decode response: %w", err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return requestFailed(op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func requestFailed(op string, err error) *apperr.Error {
	return apperr.Wrap(err, apperr.CodePanelRequestFailed, op+" failed").
		WithMeta("operation", op).
		WithMeta("underlying", err.Error())
}

func errorText(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		return env.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
