package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
)

// AddProxyRequest for POST /proxies
type AddProxyRequest struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// POST /proxies - stored as testing, checked in the background
func (s *Server) handleProxyAdd(w http.ResponseWriter, r *http.Request) {
	var req AddProxyRequest
	if !decode(w, r, &req) {
		return
	}
	ep, err := s.Proxies.Add(r.Context(), req.URL, req.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Proxies.CheckAsync(r.Context(), ep.ID)
	writeJSON(w, http.StatusCreated, ep)
}

// GET /proxies
func (s *Server) handleProxyList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"proxies": s.Proxies.List()})
}

// DELETE /proxies/{id}
func (s *Server) handleProxyDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Proxies.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /proxies/{id}/test
func (s *Server) handleProxyTest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.Proxies.Get(id); !ok {
		s.fail(w, r, apperr.ProxyNotFound.Withf("proxy %s not found", id))
		return
	}
	healthy := s.Proxies.CheckHealth(r.Context(), id)
	ep, _ := s.Proxies.Get(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": healthy,
		"proxy":   ep,
	})
}

// POST /proxies/test-all
func (s *Server) handleProxyTestAll(w http.ResponseWriter, r *http.Request) {
	total := len(s.Proxies.List())
	healthy := s.Proxies.CheckAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": healthy,
		"total":   total,
	})
}
