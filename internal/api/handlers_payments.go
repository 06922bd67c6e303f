package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/payment"
	"github.com/idcstack/idc-control-plane/internal/store"
)

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.Create(r.Context(), payment.CreateInput{
		OrderID:     req.OrderID,
		Method:      req.PaymentMethod,
		Description: req.Description,
		Amount:      req.Amount,
	}, requester(id.UserID, id.IsAdmin()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "payment created", Data: p})
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.payments.Status(r.Context(), chi.URLParam(r, "paymentId"), chi.URLParam(r, "paymentMethod"), requester(id.UserID, id.IsAdmin()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p)
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, users)
}

// handleAdminDeleteUser removes a storefront account; its instance bindings
// are dropped with it. Orders are kept for accounting.
func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := s.users.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = apperr.New(apperr.CodeNotFound, "user not found")
		}
		s.writeError(w, r, err)
		return
	}
	metrics.Default().IncCounter("idc_users_deleted_total", nil)
	s.log.Info("user deleted", zap.String("user_id", userID))
	writeMessage(w, "user deleted", nil)
}
