package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/access"
	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/auth"
	"github.com/idcstack/idc-control-plane/internal/captcha"
	"github.com/idcstack/idc-control-plane/internal/config"
	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/order"
	"github.com/idcstack/idc-control-plane/internal/panel"
	"github.com/idcstack/idc-control-plane/internal/payment"
	"github.com/idcstack/idc-control-plane/internal/pricing"
)

type PanelClient interface {
	SystemInfo(ctx context.Context) (json.RawMessage, error)
	SystemStatus(ctx context.Context) (json.RawMessage, error)
	ListInstances(ctx context.Context) ([]panel.Instance, error)
	Control(ctx context.Context, id string, op panel.Operation) (json.RawMessage, error)
	SendCommand(ctx context.Context, id, command string) (json.RawMessage, error)
	ConsoleLog(ctx context.Context, id string, lines int) ([]panel.LogLine, error)
	ListFiles(ctx context.Context, id, dir string) ([]panel.FileEntry, error)
	ReadFile(ctx context.Context, id, path string) (string, error)
	ListBackups(ctx context.Context, id string) ([]panel.Backup, error)
	CreateBackup(ctx context.Context, id string) (json.RawMessage, error)
	ListUsers(ctx context.Context) ([]panel.User, error)
	CreateUser(ctx context.Context, in panel.CreateUserInput) (json.RawMessage, error)
	DeleteUser(ctx context.Context, userID string) (json.RawMessage, error)
	BindUser(ctx context.Context, userID, instanceID string, permissions []string) (json.RawMessage, error)
	UnbindUser(ctx context.Context, userID, instanceID string) (json.RawMessage, error)
	ChangePort(ctx context.Context, id string, port int) error
	WaitForServerStart(ctx context.Context, id string, maxWait time.Duration) error
	BatchOperation(ctx context.Context, ids []string, op panel.Operation) []panel.BatchResult
}

// MirrorStore is the local, non-authoritative copy of panel state.
type MirrorStore interface {
	UpsertInstances(ctx context.Context, instances []model.ManagedInstance) error
	ListInstances(ctx context.Context) ([]model.ManagedInstance, error)
	UpdateInstanceStatus(ctx context.Context, instanceUUID, status string) error
	UpdateInstancePort(ctx context.Context, instanceUUID string, port int) error
	UpsertPanelUsers(ctx context.Context, users []model.PanelUser) error
	DeletePanelUser(ctx context.Context, panelUserID string) error
}

// PaymentService starts and settles gateway charges for orders.
type PaymentService interface {
	Create(ctx context.Context, in payment.CreateInput, who order.Requester) (*model.Payment, error)
	Status(ctx context.Context, paymentID, method string, who order.Requester) (*model.Payment, error)
}

// UserStore is the admin view of storefront accounts.
type UserStore interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

type Deps struct {
	Config   config.Config
	Logger   *zap.Logger
	Orders   *order.Manager
	Catalog  *pricing.Catalog
	Plan     pricing.Plan
	Panel    PanelClient
	Mirror   MirrorStore
	Access   *access.Binder
	Captcha  *captcha.Service
	Verifier *auth.Verifier
	Limiter  *RateLimiter
	Payments PaymentService
	Users    UserStore
}

type Server struct {
	cfg      config.Config
	log      *zap.Logger
	orders   *order.Manager
	catalog  *pricing.Catalog
	plan     pricing.Plan
	panel    PanelClient
	mirror   MirrorStore
	access   *access.Binder
	captcha  *captcha.Service
	payments PaymentService
	users    UserStore
	validate *requestValidator
}

func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(d.Config.RateLimitRPS, d.Config.RateLimitBurst)
	}
	s := &Server{
		cfg:      d.Config,
		log:      log,
		orders:   d.Orders,
		catalog:  d.Catalog,
		plan:     d.Plan,
		panel:    d.Panel,
		mirror:   d.Mirror,
		access:   d.Access,
		captcha:  d.Captcha,
		payments: d.Payments,
		users:    d.Users,
		validate: newRequestValidator(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// start?wait= can hold a request for up to StartWaitMax.
	r.Use(middleware.Timeout(d.Config.StartWaitMax + d.Config.PanelTimeout + 30*time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", metrics.Default().Handler().ServeHTTP)

	r.Route("/api", func(api chi.Router) {
		api.With(limiter.Middleware).Get("/auth/captcha", s.handleCaptcha)
		api.Post("/auth/verify-captcha", s.handleVerifyCaptcha)

		api.Get("/servers", s.handleListServers)
		api.Get("/servers/{id}", s.handleGetServer)
		api.With(limiter.Middleware).Post("/servers/calculate", s.handleCalculate)

		api.With(auth.Middleware(d.Verifier)).Group(func(authed chi.Router) {
			authed.Get("/auth/me", s.handleMe)

			authed.Post("/orders", s.handleCreateOrder)
			authed.Get("/orders", s.handleListOrders)
			authed.Get("/orders/{orderId}", s.handleGetOrder)

			if s.payments != nil {
				authed.Post("/payment/create", s.handleCreatePayment)
				authed.Get("/payment/status/{paymentId}/{paymentMethod}", s.handlePaymentStatus)
			}

			authed.Get("/user/instances", s.handleUserInstances)
			authed.Get("/user/instances/{instanceId}/log", s.handleUserLog)
			authed.Post("/user/instances/{instanceId}/command", s.handleUserCommand)
			authed.Post("/user/instances/{instanceId}/{op:(start|stop|restart)}", s.handleUserControl)

			authed.With(auth.RequireAdmin).Group(func(admin chi.Router) {
				admin.Get("/admin/orders", s.handleAdminListOrders)
				admin.Put("/admin/orders/{orderId}/status", s.handleAdminUpdateOrderStatus)
				if s.users != nil {
					admin.Get("/admin/users", s.handleAdminListUsers)
					admin.Delete("/admin/users/{id}", s.handleAdminDeleteUser)
				}

				admin.Route("/mcsm", func(m chi.Router) {
					m.Get("/system/info", s.handleSystemInfo)
					m.Get("/system/status", s.handleSystemStatus)

					m.Get("/instances", s.handleListInstances)
					m.Post("/instances/batch", s.handleBatch)
					m.Post("/instances/{instanceId}/{op:(start|stop|restart)}", s.handleAdminControl)
					m.Post("/instances/{instanceId}/command", s.handleAdminCommand)
					m.Get("/instances/{instanceId}/log", s.handleAdminLog)
					m.Put("/instances/{instanceId}/port", s.handleChangePort)
					m.Get("/instances/{instanceId}/files", s.handleListFiles)
					m.Get("/instances/{instanceId}/files/read", s.handleReadFile)
					m.Get("/instances/{instanceId}/backups", s.handleListBackups)
					m.Post("/instances/{instanceId}/backups", s.handleCreateBackup)
					m.Get("/instances/{instanceId}/users", s.handleInstanceUsers)

					m.Get("/users", s.handleListPanelUsers)
					m.Post("/users", s.handleCreatePanelUser)
					m.Delete("/users/{userId}", s.handleDeletePanelUser)
					m.Get("/users/{userId}/instances", s.handleUserInstancesAdmin)
					m.Post("/users/{userId}/instances/{instanceId}/bind", s.handleBind)
					m.Delete("/users/{userId}/instances/{instanceId}/bind", s.handleUnbind)
				})
			})
		})
	})

	return r
}

type envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// writeError maps err onto the envelope. Errors without a code are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		s.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, envelope{
			Code:    string(apperr.CodeInternal),
			Message: "internal error",
		})
		return
	}

	msg := ae.Message
	if u, ok := ae.Meta["underlying"].(string); ok && u != "" {
		msg += ": " + u
	}
	status := apperr.HTTPStatus(ae.Code)
	if status >= http.StatusInternalServerError {
		s.log.Warn("upstream failure",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("code", string(ae.Code)),
			zap.Any("meta", ae.Meta),
		)
	}
	var details map[string]any
	if len(ae.Meta) > 0 {
		details = make(map[string]any, len(ae.Meta))
		for k, v := range ae.Meta {
			if k != "underlying" {
				details[k] = v
			}
		}
	}
	writeJSON(w, status, envelope{Code: string(ae.Code), Message: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON rejects malformed bodies with invalid_input.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidInput, "invalid JSON payload")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be absent.
// An empty body, chunked or not, leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Wrap(err, apperr.CodeInvalidInput, "invalid JSON payload")
}

func identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return auth.Identity{}, apperr.New(apperr.CodeUnauthorized, "missing user identity")
	}
	return id, nil
}
