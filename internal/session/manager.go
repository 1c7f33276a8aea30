// Package session owns the lifecycle of messaging sessions: connection,
// reconnection, send rotation and inbound dispatch.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/transport"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	// stormThreshold consecutive recoverable closes raise one operator alert.
	stormThreshold = 5
)

// Repository persists sessions and the message log.
type Repository interface {
	CreateSession(ctx context.Context, sess *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]domain.Session, error)
	PatchSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error)
	UpdateSessionState(ctx context.Context, id string, cols map[string]any) error
	DeleteSession(ctx context.Context, id string) error
	AppendMessageLog(ctx context.Context, entry *domain.MessageLog) error
}

// ProxySource selects and scores egress proxies.
type ProxySource interface {
	Get(id string) (domain.ProxyEndpoint, bool)
	SelectBest(exclude ...string) (domain.ProxyEndpoint, bool)
	RecordOutcome(ctx context.Context, id string, success bool)
}

// ProxySwitcher is implemented by transports that can change the proxy of
// a live session for its next connection.
type ProxySwitcher interface {
	UseProxy(sessionID, proxyURL string) error
}

// Alerter notifies an operator about sessions that need attention.
type Alerter interface {
	SessionLoggedOut(name, reason string)
	SessionFault(name, reason string)
}

// InboundHandler receives inbound messages after they are logged. Calls for
// one session are sequential and in arrival order.
type InboundHandler func(ctx context.Context, msg domain.InboundMessage)

type Options struct {
	BatchLimit     int
	ReconnectDelay time.Duration
}

type Manager struct {
	repo      Repository
	transport transport.Adapter
	proxies   ProxySource
	alerts    Alerter
	log       *logrus.Entry
	opts      Options
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	actors  map[string]*actor
	handler InboundHandler
	stopped bool
}

func NewManager(repo Repository, tr transport.Adapter, proxies ProxySource, alerts Alerter, log *logrus.Entry, opts Options) *Manager {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = domain.DefaultBatchLimit
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if alerts == nil {
		alerts = noopAlerter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:      repo,
		transport: tr,
		proxies:   proxies,
		alerts:    alerts,
		log:       log,
		opts:      opts,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		actors:    make(map[string]*actor),
	}
}

// OnInbound installs the handler for inbound messages.
func (m *Manager) OnInbound(h InboundHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Manager) inboundHandler() InboundHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// CreateInput describes a new session.
type CreateInput struct {
	Name         string  `json:"name"`
	BatchLimit   int     `json:"batch_limit"`
	ProxyID      *string `json:"proxy_id"`
	AutoReply    *bool   `json:"auto_reply"`
	SystemPrompt string  `json:"system_prompt"`
}

func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&in.BatchLimit, validation.Min(0)),
	)
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (*domain.Session, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("invalid session: %v", err)
	}
	if in.ProxyID != nil {
		if _, ok := m.proxies.Get(*in.ProxyID); !ok {
			return nil, apperr.ProxyNotFound.Withf("proxy %s not found", *in.ProxyID)
		}
	}

	sess := &domain.Session{
		Name:         in.Name,
		Status:       domain.SessionDisconnected,
		BatchLimit:   in.BatchLimit,
		ProxyID:      in.ProxyID,
		AutoReply:    true,
		SystemPrompt: in.SystemPrompt,
	}
	if sess.BatchLimit == 0 {
		sess.BatchLimit = m.opts.BatchLimit
	}
	if in.AutoReply != nil {
		sess.AutoReply = *in.AutoReply
	}
	if err := m.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.log.WithField("session", sess.ID).Infof("[%s] Session created", sess.Name)
	return sess, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.repo.GetSession(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]domain.Session, error) {
	return m.repo.ListSessions(ctx)
}

// Update applies operator settings. A live session picks them up at once.
func (m *Manager) Update(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error) {
	if patch.Name.Set {
		if err := validation.Validate(patch.Name.Value, validation.Required, validation.Length(1, 120)); err != nil {
			return nil, apperr.Validation("invalid name: %v", err)
		}
	}
	if patch.BatchLimit.Set && patch.BatchLimit.Value <= 0 {
		return nil, apperr.Validation("batch_limit must be positive")
	}
	if patch.ProxyID.Set && patch.ProxyID.Value != nil {
		if _, ok := m.proxies.Get(*patch.ProxyID.Value); !ok {
			return nil, apperr.ProxyNotFound.Withf("proxy %s not found", *patch.ProxyID.Value)
		}
	}

	sess, err := m.repo.PatchSession(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if a := m.actor(id); a != nil {
		updated := *sess
		a.post(ctx, func() { a.applySettings(updated) })
	}
	return sess, nil
}

// Connect starts connecting a session. It fails with a conflict when the
// session is already connecting or connected.
func (m *Manager) Connect(ctx context.Context, id string) error {
	sess, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	a, err := m.ensureActor(*sess)
	if err != nil {
		return err
	}

	reply := make(chan error, 1)
	if !a.post(ctx, func() { reply <- a.connect() }) {
		return apperr.SessionNotConnected.Withf("session %s is shutting down", id)
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect logs the session out, discards pairing material and stops its
// actor.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	if _, err := m.repo.GetSession(ctx, id); err != nil {
		return err
	}

	a := m.actor(id)
	if a == nil {
		if err := m.transport.Disconnect(ctx, id, true); err != nil {
			m.log.WithError(err).WithField("session", id).Debug("Transport disconnect without live connection")
		}
		return m.repo.UpdateSessionState(ctx, id, map[string]any{
			"status":          domain.SessionDisconnected,
			"identity":        "",
			"pairing_payload": "",
		})
	}

	reply := make(chan error, 1)
	if !a.post(ctx, func() { reply <- a.logout() }) {
		return nil
	}
	select {
	case err := <-reply:
		<-a.done
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delete disconnects and removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.Disconnect(ctx, id); err != nil {
		return err
	}
	return m.repo.DeleteSession(ctx, id)
}

// IsConnected reports whether the session currently has a live connection.
func (m *Manager) IsConnected(id string) bool {
	a := m.actor(id)
	return a != nil && a.status() == domain.SessionConnected
}

// Send delivers one message through the session. A nil error means the
// network accepted it; failures are never retried here.
func (m *Manager) Send(ctx context.Context, id, to, body string, media *domain.Media) error {
	a := m.actor(id)
	if a == nil {
		return apperr.SessionNotConnected.Withf("session %s not connected", id)
	}

	out := transport.Outbound{To: domain.NormalizePhone(to), Body: body, Media: media}
	if out.To == "" {
		return apperr.Validation("invalid recipient %q", to)
	}

	reply := make(chan error, 1)
	if !a.post(ctx, func() { reply <- a.send(ctx, out) }) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.SessionNotConnected.Withf("session %s not connected", id)
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inject delivers a message received outside the transport, such as
// through the webhook, as if the session had received it.
func (m *Manager) Inject(ctx context.Context, msg domain.InboundMessage) error {
	sess, err := m.repo.GetSession(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	msg.Contact = domain.NormalizePhone(msg.Contact)
	if msg.Contact == "" || strings.TrimSpace(msg.Text) == "" {
		return apperr.Validation("contact and text are required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}

	if a := m.actor(sess.ID); a != nil && a.post(ctx, func() { a.receive(msg) }) {
		return nil
	}

	// No live actor: log and hand over on the caller's goroutine.
	entry := &domain.MessageLog{SessionID: sess.ID, Contact: msg.Contact, Body: msg.Text, Status: "received"}
	if err := m.repo.AppendMessageLog(ctx, entry); err != nil {
		return err
	}
	if h := m.inboundHandler(); h != nil {
		h(ctx, msg)
	}
	return nil
}

// Start reconnects every session persisted as connected or connecting.
func (m *Manager) Start(ctx context.Context) error {
	sessions, err := m.repo.ListSessionsByStatus(ctx, domain.SessionConnected, domain.SessionConnecting)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		a, err := m.ensureActor(sess)
		if err != nil {
			return err
		}
		a.post(ctx, func() {
			if err := a.connect(); err != nil {
				a.log.WithError(err).Warn("Restore connection failed")
			}
		})
	}
	if len(sessions) > 0 {
		m.log.Infof("[STARTUP] Restoring %d sessions", len(sessions))
	}
	return nil
}

// Stop closes every connection without logging out and waits for the
// actors to exit. Persisted statuses are kept so Start can restore them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.log.Info("Session manager stopped")
}

func (m *Manager) actor(id string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actors[id]
}

func (m *Manager) ensureActor(sess domain.Session) (*actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, apperr.Conflict("session manager stopped")
	}
	if a, ok := m.actors[sess.ID]; ok {
		return a, nil
	}
	a := newActor(m, sess)
	m.actors[sess.ID] = a
	m.wg.Add(2)
	go a.run()
	go a.dispatchInbound()
	return a, nil
}

func (m *Manager) removeActor(a *actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.actors[a.id] == a {
		delete(m.actors, a.id)
	}
}

type noopAlerter struct{}

func (noopAlerter) SessionLoggedOut(string, string) {}
func (noopAlerter) SessionFault(string, string)     {}
