package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/order"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, id)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if missing := req.missing(); len(missing) > 0 {
		s.writeError(w, r, missingParameters(missing))
		return
	}
	if err := s.validate.Struct(req.CustomerInfo); err != nil {
		s.writeError(w, r, err)
		return
	}

	o, err := s.orders.Create(r.Context(), order.CreateInput{
		UserID:           id.UserID,
		ServerTemplateID: *req.ServerID,
		Configuration:    req.configuration(),
		TermMonths:       *req.Months,
		Customer: model.CustomerInfo{
			Name:  req.CustomerInfo.Name,
			Phone: req.CustomerInfo.Phone,
			Email: req.CustomerInfo.Email,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "order created", Data: o})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := s.orders.ListForUser(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "orderId"), requester(id.UserID, id.IsAdmin()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, o)
}

func (s *Server) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := s.orders.ListAll(r.Context(), requester(id.UserID, id.IsAdmin()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, orders)
}

func (s *Server) handleAdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	next, ok := order.ParseStatus(req.Status)
	if !ok {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidInput, "invalid status value"))
		return
	}
	o, err := s.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderId"), next, requester(id.UserID, id.IsAdmin()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "order status updated", Data: o})
}

func requester(userID string, admin bool) order.Requester {
	return order.Requester{UserID: userID, Admin: admin}
}
