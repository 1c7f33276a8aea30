package api

import (
	"context"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/mux"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

// StartLeadRequest for POST /leads
type StartLeadRequest struct {
	SessionID string `json:"session_id"`
	Contact   string `json:"contact"`
}

func (r StartLeadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SessionID, validation.Required),
		validation.Field(&r.Contact, validation.Required),
	)
}

// POST /leads - opens (or resumes) a sales conversation and sends its prompt
func (s *Server) handleLeadStart(w http.ResponseWriter, r *http.Request) {
	var req StartLeadRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, apperr.Validation("invalid lead: %v", err))
		return
	}
	if _, err := s.Sessions.Get(r.Context(), req.SessionID); err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	step, err := s.Leads.Start(ctx, req.SessionID, req.Contact)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sent := true
	if err := s.Sessions.Send(ctx, req.SessionID, step.Lead.Contact, step.Reply, nil); err != nil {
		s.log.WithError(err).WithField("lead", step.Lead.ID).Warn("[SalesFlow] Opening prompt not delivered")
		sent = false
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lead":   step.Lead,
		"prompt": step.Reply,
		"sent":   sent,
	})
}

// GET /leads?session_id=&stage=
func (s *Server) handleLeadList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	leads, err := s.Leads.List(r.Context(), q.Get("session_id"), domain.LeadStage(q.Get("stage")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leads": leads})
}

// GET /leads/{id}
func (s *Server) handleLeadGet(w http.ResponseWriter, r *http.Request) {
	lead, err := s.Leads.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

// PATCH /leads/{id} - corrects collected data, never the stage
func (s *Server) handleLeadUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.LeadPatch
	if !decode(w, r, &patch) {
		return
	}
	lead, err := s.Leads.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}
