// Package api is the operator HTTP surface over sessions, proxies,
// campaigns and sales leads.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/campaign"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/salesflow"
	"github.com/whatsapp-automation/orchestrator/internal/session"
)

const (
	sendTimeout    = 30 * time.Second
	connectTimeout = 60 * time.Second
	maxBodyBytes   = 8 << 20
)

type Sessions interface {
	Create(ctx context.Context, in session.CreateInput) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context) ([]domain.Session, error)
	Update(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error)
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	IsConnected(id string) bool
	Send(ctx context.Context, id, to, body string, media *domain.Media) error
	Inject(ctx context.Context, msg domain.InboundMessage) error
}

type Proxies interface {
	Add(ctx context.Context, rawURL, label string) (domain.ProxyEndpoint, error)
	Remove(ctx context.Context, id string) error
	Get(id string) (domain.ProxyEndpoint, bool)
	List() []domain.ProxyEndpoint
	CheckHealth(ctx context.Context, id string) bool
	CheckAll(ctx context.Context) int
	CheckAsync(ctx context.Context, id string)
}

type Campaigns interface {
	Create(ctx context.Context, in campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context) ([]domain.Campaign, error)
	Messages(ctx context.Context, id string) ([]domain.CampaignMessage, error)
	Update(ctx context.Context, id string, patch domain.CampaignPatch) (*domain.Campaign, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	IsRunning(id string) bool
	CreateTemplate(ctx context.Context, in campaign.TemplateInput) (*domain.Template, error)
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

type Leads interface {
	Start(ctx context.Context, sessionID, contact string) (*salesflow.Step, error)
	Get(ctx context.Context, id string) (*domain.SalesLead, error)
	List(ctx context.Context, sessionID string, stage domain.LeadStage) ([]domain.SalesLead, error)
	Update(ctx context.Context, id string, patch domain.LeadPatch) (*domain.SalesLead, error)
}

type MessageLogs interface {
	MessageLogs(ctx context.Context, sessionID string, limit int) ([]domain.MessageLog, error)
}

type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.Media, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server exposes.
type Deps struct {
	Sessions  Sessions
	Proxies   Proxies
	Campaigns Campaigns
	Leads     Leads
	Logs      MessageLogs
	Media     MediaResolver
	DB        Pinger
}

// Server represents the HTTP API server
type Server struct {
	Deps
	log *logrus.Entry
}

func NewServer(deps Deps, log *logrus.Entry) *Server {
	return &Server{Deps: deps, log: log}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers HTTP routes
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Sessions
	r.HandleFunc("/sessions", s.handleSessionCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleSessionList).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleSessionGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleSessionUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/sessions/{id}", s.handleSessionDelete).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/connect", s.handleSessionConnect).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/disconnect", s.handleSessionDisconnect).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/pairing", s.handleSessionPairing).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/messages", s.handleSessionMessages).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/send", s.handleSend).Methods(http.MethodPost)

	// Proxies
	r.HandleFunc("/proxies", s.handleProxyAdd).Methods(http.MethodPost)
	r.HandleFunc("/proxies", s.handleProxyList).Methods(http.MethodGet)
	r.HandleFunc("/proxies/test-all", s.handleProxyTestAll).Methods(http.MethodPost)
	r.HandleFunc("/proxies/{id}", s.handleProxyDelete).Methods(http.MethodDelete)
	r.HandleFunc("/proxies/{id}/test", s.handleProxyTest).Methods(http.MethodPost)

	// Campaigns
	r.HandleFunc("/campaigns", s.handleCampaignCreate).Methods(http.MethodPost)
	r.HandleFunc("/campaigns", s.handleCampaignList).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}", s.handleCampaignGet).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}", s.handleCampaignUpdate).Methods(http.MethodPatch)
	r.HandleFunc("/campaigns/{id}/messages", s.handleCampaignMessages).Methods(http.MethodGet)
	r.HandleFunc("/campaigns/{id}/{action:start|pause|resume|cancel}", s.handleCampaignAction).Methods(http.MethodPost)
	r.HandleFunc("/templates", s.handleTemplateCreate).Methods(http.MethodPost)
	r.HandleFunc("/templates/{id}", s.handleTemplateGet).Methods(http.MethodGet)

	// Leads
	r.HandleFunc("/leads", s.handleLeadStart).Methods(http.MethodPost)
	r.HandleFunc("/leads", s.handleLeadList).Methods(http.MethodGet)
	r.HandleFunc("/leads/{id}", s.handleLeadGet).Methods(http.MethodGet)
	r.HandleFunc("/leads/{id}", s.handleLeadUpdate).Methods(http.MethodPatch)

	// Inbound from external integrations
	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithField("duration", time.Since(start).Round(time.Millisecond)).
			Debugf("[%s] %s", r.Method, r.URL.Path)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": true, "message": message})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransport:
		return http.StatusBadGateway
	case apperr.KindExhaustion:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status of its kind. Unclassified errors are
// logged and hidden from the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		s.log.WithError(err).Errorf("[%s] %s failed", r.Method, r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, statusFor(appErr.Kind), map[string]interface{}{
		"error":   true,
		"code":    appErr.Code,
		"message": appErr.Error(),
	})
}

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbOK := true
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			dbOK = false
			status = http.StatusServiceUnavailable
		}
	}

	activeProxies := 0
	for _, ep := range s.Proxies.List() {
		if ep.Status == domain.ProxyActive {
			activeProxies++
		}
	}
	connected := 0
	if sessions, err := s.Sessions.List(r.Context()); err == nil {
		for _, sess := range sessions {
			if s.Sessions.IsConnected(sess.ID) {
				connected++
			}
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"healthy":            dbOK,
		"database":           dbOK,
		"connected_sessions": connected,
		"active_proxies":     activeProxies,
	})
}

// WebhookRequest for POST /webhook
type WebhookRequest struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	Text      string `json:"text"`
}

func (r WebhookRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SessionID, validation.Required),
		validation.Field(&r.From, validation.Required),
		validation.Field(&r.Text, validation.Required),
	)
}

// POST /webhook - inject an inbound message
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, apperr.Validation("invalid webhook: %v", err))
		return
	}
	err := s.Sessions.Inject(r.Context(), domain.InboundMessage{
		SessionID: req.SessionID,
		Contact:   req.From,
		Text:      req.Text,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}
