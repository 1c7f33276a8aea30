package api

import (
	"context"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/mux"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/session"
)

// POST /sessions
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req session.CreateInput
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.Sessions.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// GET /sessions
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GET /sessions/{id}
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// PATCH /sessions/{id}
func (s *Server) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.SessionPatch
	if !decode(w, r, &patch) {
		return
	}
	sess, err := s.Sessions.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DELETE /sessions/{id}
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /sessions/{id}/connect - pairing payload follows on GET /pairing
func (s *Server) handleSessionConnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	if err := s.Sessions.Connect(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"pairing": "/sessions/" + id + "/pairing",
	})
}

// POST /sessions/{id}/disconnect
func (s *Server) handleSessionDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	if err := s.Sessions.Disconnect(ctx, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// GET /sessions/{id}/pairing - the QR code as PNG, or JSON with ?format=json
func (s *Server) handleSessionPairing(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sess.PairingPayload == "" {
		writeError(w, http.StatusNotFound, "no pairing code pending for this session")
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  sess.Status,
			"qr_code": sess.PairingPayload,
		})
		return
	}

	png, err := session.PairingPNG(sess.PairingPayload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GET /sessions/{id}/messages?limit=50
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Sessions.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	logs, err := s.Logs.MessageLogs(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": logs})
}

// SendRequest for POST /sessions/{id}/send
type SendRequest struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.To, validation.Required),
		validation.Field(&r.Body, validation.When(r.MediaURL == "", validation.Required)),
	)
}

// POST /sessions/{id}/send - ad-hoc message
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decode(w, r, &req) {
		return
	}
	req.Body = strings.TrimSpace(req.Body)
	if err := req.Validate(); err != nil {
		s.fail(w, r, apperr.Validation("invalid message: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	var media *domain.Media
	if req.MediaURL != "" {
		m, err := s.Media.Resolve(ctx, req.MediaURL)
		if err != nil {
			s.fail(w, r, apperr.Validation("media_url: %v", err))
			return
		}
		media = m
	}

	id := mux.Vars(r)["id"]
	if err := s.Sessions.Send(ctx, id, req.To, req.Body, media); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.WithField("session", id).Infof("[SEND] ✅ → %s", domain.NormalizePhone(req.To))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
