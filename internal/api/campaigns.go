package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whatsapp-automation/orchestrator/internal/campaign"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

// POST /campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req campaign.CreateInput
	if !decode(w, r, &req) {
		return
	}
	c, err := s.Campaigns.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Campaigns.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"campaigns": list})
}

// GET /campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.Campaigns.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign": c,
		"running":  s.Campaigns.IsRunning(id),
	})
}

// PATCH /campaigns/{id}
func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.CampaignPatch
	if !decode(w, r, &patch) {
		return
	}
	c, err := s.Campaigns.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GET /campaigns/{id}/messages
func (s *Server) handleCampaignMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Campaigns.Messages(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// POST /campaigns/{id}/{start|pause|resume|cancel}
func (s *Server) handleCampaignAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var err error
	switch vars["action"] {
	case "start":
		err = s.Campaigns.Start(r.Context(), id)
	case "pause":
		err = s.Campaigns.Pause(r.Context(), id)
	case "resume":
		err = s.Campaigns.Resume(r.Context(), id)
	case "cancel":
		err = s.Campaigns.Cancel(r.Context(), id)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	c, err := s.Campaigns.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /templates
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req campaign.TemplateInput
	if !decode(w, r, &req) {
		return
	}
	t, err := s.Campaigns.CreateTemplate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GET /templates/{id}
func (s *Server) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.Campaigns.GetTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
