package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/pricing"
)

func (s *Server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	ch, err := s.captcha.Generate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ch)
}

func (s *Server) handleVerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	var req verifyCaptchaRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.captcha.Verify(r.Context(), req.ID, req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, "captcha verified", nil)
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.CodeInvalidInput, "server id must be an integer"))
		return
	}
	tmpl, ok := s.catalog.Get(id)
	if !ok {
		s.writeError(w, r, apperr.New(apperr.CodeNotFound, "server template not found"))
		return
	}
	writeData(w, http.StatusOK, tmpl)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if missing := req.missing(); len(missing) > 0 {
		s.writeError(w, r, missingParameters(missing))
		return
	}
	quote, err := pricing.Compute(req.configuration(), *req.Months, s.plan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, quote)
}
