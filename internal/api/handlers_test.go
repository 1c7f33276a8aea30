package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/salesflow"
	"github.com/whatsapp-automation/orchestrator/internal/session"
)

type fakeSessions struct {
	Sessions
	sessions map[string]*domain.Session
	sent     []string
	sendErr  error
	injected []domain.InboundMessage
}

func (f *fakeSessions) Get(_ context.Context, id string) (*domain.Session, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, apperr.SessionNotFound.New()
}

func (f *fakeSessions) List(context.Context) ([]domain.Session, error) {
	out := make([]domain.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSessions) Create(_ context.Context, in session.CreateInput) (*domain.Session, error) {
	if in.Name == "" {
		return nil, apperr.Validation("invalid session: name: cannot be blank")
	}
	s := &domain.Session{ID: "s-new", Name: in.Name, Status: domain.SessionDisconnected}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeSessions) IsConnected(id string) bool {
	s, ok := f.sessions[id]
	return ok && s.Status == domain.SessionConnected
}

func (f *fakeSessions) Send(_ context.Context, id, to, body string, _ *domain.Media) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, id+"|"+to+"|"+body)
	return nil
}

func (f *fakeSessions) Inject(ctx context.Context, msg domain.InboundMessage) error {
	if _, err := f.Get(ctx, msg.SessionID); err != nil {
		return err
	}
	f.injected = append(f.injected, msg)
	return nil
}

type fakeProxies struct {
	Proxies
	list []domain.ProxyEndpoint
}

func (f *fakeProxies) List() []domain.ProxyEndpoint { return f.list }

func (f *fakeProxies) Get(id string) (domain.ProxyEndpoint, bool) {
	for _, ep := range f.list {
		if ep.ID == id {
			return ep, true
		}
	}
	return domain.ProxyEndpoint{}, false
}

func (f *fakeProxies) CheckHealth(context.Context, string) bool { return true }

type fakeCampaigns struct {
	Campaigns
	actions []string
}

func (f *fakeCampaigns) Get(_ context.Context, id string) (*domain.Campaign, error) {
	if id != "c1" {
		return nil, apperr.CampaignNotFound.New()
	}
	return &domain.Campaign{ID: id, Status: domain.CampaignRunning}, nil
}

func (f *fakeCampaigns) Start(_ context.Context, id string) error {
	f.actions = append(f.actions, "start:"+id)
	return nil
}

func (f *fakeCampaigns) Pause(_ context.Context, id string) error {
	return apperr.CampaignBadState.New()
}

type fakeLeads struct {
	Leads
}

func (fakeLeads) Start(_ context.Context, sessionID, contact string) (*salesflow.Step, error) {
	return &salesflow.Step{
		Lead:  domain.SalesLead{ID: "l1", SessionID: sessionID, Contact: domain.NormalizePhone(contact), Stage: domain.StageAwaitingCEP},
		Reply: "Olá! Informe seu CEP.",
	}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

var pairingPayload = "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nqr"))

type fixture struct {
	srv      *Server
	sessions *fakeSessions
	camps    *fakeCampaigns
}

func newFixture() *fixture {
	sessions := &fakeSessions{sessions: map[string]*domain.Session{
		"s1": {ID: "s1", Name: "vendas", Status: domain.SessionConnected, PairingPayload: pairingPayload},
		"s2": {ID: "s2", Name: "idle", Status: domain.SessionDisconnected},
	}}
	camps := &fakeCampaigns{}
	srv := NewServer(Deps{
		Sessions:  sessions,
		Proxies:   &fakeProxies{list: []domain.ProxyEndpoint{{ID: "p1", Status: domain.ProxyActive}, {ID: "p2", Status: domain.ProxyInactive}}},
		Campaigns: camps,
		Leads:     fakeLeads{},
		DB:        fakePinger{},
	}, logging.Discard())
	return &fixture{srv: srv, sessions: sessions, camps: camps}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatusForKinds(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation: http.StatusBadRequest,
		apperr.KindNotFound:   http.StatusNotFound,
		apperr.KindConflict:   http.StatusConflict,
		apperr.KindTransport:  http.StatusBadGateway,
		apperr.KindExhaustion: http.StatusServiceUnavailable,
		apperr.KindUnknown:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind.String())
	}
}

func TestHealthReportsCounts(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["healthy"])
	assert.EqualValues(t, 1, body["connected_sessions"])
	assert.EqualValues(t, 1, body["active_proxies"])
}

func TestHealthFailsWhenDatabaseDown(t *testing.T) {
	f := newFixture()
	f.srv.DB = fakePinger{err: errors.New("connection refused")}

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["database"])
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/sessions", map[string]string{"name": "nova"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "nova", decodeBody(t, rec)["name"])

	rec = f.do(t, http.MethodPost, "/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decodeBody(t, rec)["code"])

	rec = f.do(t, http.MethodGet, "/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestInvalidJSONRejected(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON", decodeBody(t, rec)["message"])
}

func TestPairingServesPNG(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/sessions/s1/pairing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = f.do(t, http.MethodGet, "/sessions/s1/pairing?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pairingPayload, decodeBody(t, rec)["qr_code"])

	rec = f.do(t, http.MethodGet, "/sessions/s2/pairing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendRequiresRecipientAndBody(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/sessions/s1/send", SendRequest{To: "5511999990000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/sessions/s1/send", SendRequest{To: "5511999990000", Body: "oi"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"s1|5511999990000|oi"}, f.sessions.sent)
}

func TestSendSurfacesSessionErrors(t *testing.T) {
	f := newFixture()
	f.sessions.sendErr = apperr.SessionNotConnected.New()

	rec := f.do(t, http.MethodPost, "/sessions/s2/send", SendRequest{To: "5511999990000", Body: "oi"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.sessions.sendErr = errors.New("socket closed")
	rec = f.do(t, http.MethodPost, "/sessions/s1/send", SendRequest{To: "5511999990000", Body: "oi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody(t, rec)["message"])
}

func TestProxyTestUnknown(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/proxies/nope/test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/proxies/p1/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["healthy"])
}

func TestCampaignActions(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/campaigns/c1/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"start:c1"}, f.camps.actions)

	rec = f.do(t, http.MethodPost, "/campaigns/c1/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CAMPAIGN_BAD_STATE", decodeBody(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/campaigns/c1/explode", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeadStartSendsPrompt(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/leads", StartLeadRequest{SessionID: "s1", Contact: "(11) 99999-0000"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["sent"])
	assert.Equal(t, []string{"s1|5511999990000|Olá! Informe seu CEP."}, f.sessions.sent)

	f.sessions.sendErr = apperr.SessionNotConnected.New()
	rec = f.do(t, http.MethodPost, "/leads", StartLeadRequest{SessionID: "s1", Contact: "11999990000"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["sent"])

	rec = f.do(t, http.MethodPost, "/leads", StartLeadRequest{SessionID: "ghost", Contact: "11999990000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookInjects(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/webhook", WebhookRequest{SessionID: "s1", From: "5511988887777", Text: "oi"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sessions.injected, 1)
	assert.Equal(t, "oi", f.sessions.injected[0].Text)

	rec = f.do(t, http.MethodPost, "/webhook", WebhookRequest{SessionID: "ghost", From: "5511988887777", Text: "oi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
