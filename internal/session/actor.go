package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/proxy"
	"github.com/whatsapp-automation/orchestrator/internal/transport"
)

// actor serializes everything that touches one session: connection events,
// sends and settings changes all run on its goroutine.
type actor struct {
	m   *Manager
	id  string
	log *logrus.Entry

	cmds    chan func()
	done    chan struct{}
	inbound *queue[domain.InboundMessage]

	// Owned by the run goroutine.
	sess      domain.Session
	events    <-chan transport.Event
	retry     *time.Timer
	closes    int
	finishing bool

	mu    sync.RWMutex
	state domain.SessionStatus
}

func newActor(m *Manager, sess domain.Session) *actor {
	// No connection exists yet, whatever was persisted.
	sess.Status = domain.SessionDisconnected
	return &actor{
		m:       m,
		id:      sess.ID,
		log:     m.log.WithField("session", sess.ID),
		cmds:    make(chan func()),
		done:    make(chan struct{}),
		inbound: newQueue[domain.InboundMessage](),
		sess:    sess,
		state:   domain.SessionDisconnected,
	}
}

// post runs fn on the actor goroutine. It returns false when the actor has
// exited or ctx ended first.
func (a *actor) post(ctx context.Context, fn func()) bool {
	select {
	case a.cmds <- fn:
		return true
	case <-a.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *actor) status() domain.SessionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *actor) run() {
	defer a.m.wg.Done()
	defer close(a.done)
	defer a.m.removeActor(a)
	defer a.inbound.close()

	ctx := a.m.ctx
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case fn := <-a.cmds:
			fn()
			if a.finishing {
				a.stopRetry()
				return
			}
		case ev, ok := <-a.events:
			if !ok {
				a.events = nil
				a.connectionLost()
				continue
			}
			a.handleEvent(ev)
		}
	}
}

func (a *actor) dispatchInbound() {
	defer a.m.wg.Done()
	for {
		msg, ok := a.inbound.pop(a.m.ctx)
		if !ok {
			return
		}
		if h := a.m.inboundHandler(); h != nil {
			h(a.m.ctx, msg)
		}
	}
}

// setState records status and extra columns in memory and in the store.
func (a *actor) setState(status domain.SessionStatus, cols map[string]any) {
	a.mu.Lock()
	a.state = status
	a.mu.Unlock()
	a.sess.Status = status

	if cols == nil {
		cols = map[string]any{}
	}
	cols["status"] = status
	if err := a.m.repo.UpdateSessionState(a.m.ctx, a.id, cols); err != nil {
		a.log.WithError(err).Warn("Failed to persist session state")
	}
}

func (a *actor) applySettings(s domain.Session) {
	a.sess.Name = s.Name
	a.sess.BatchLimit = s.BatchLimit
	a.sess.ProxyID = s.ProxyID
	a.sess.AutoReply = s.AutoReply
	a.sess.SystemPrompt = s.SystemPrompt
}

// connect opens a transport connection through the session's proxy.
func (a *actor) connect() error {
	switch a.sess.Status {
	case domain.SessionConnecting, domain.SessionConnected:
		return apperr.SessionBusy.Withf("session %s is %s", a.id, a.sess.Status)
	}
	a.stopRetry()

	proxyURL, err := a.resolveProxy()
	if err != nil {
		a.setState(domain.SessionError, map[string]any{"last_error": err.Error()})
		return err
	}

	a.setState(domain.SessionConnecting, map[string]any{"last_error": ""})
	events, err := a.m.transport.Connect(a.m.ctx, a.id, proxyURL)
	if err != nil {
		a.log.WithError(err).Errorf("[%s] Connect failed", a.sess.Name)
		a.setState(domain.SessionError, map[string]any{"last_error": err.Error()})
		a.m.alerts.SessionFault(a.sess.Name, err.Error())
		return apperr.Transport(err, "connect session %s", a.id)
	}
	a.events = events
	a.log.Infof("[%s] Connecting...", a.sess.Name)
	return nil
}

// resolveProxy returns the URL of the bound proxy, rebinding to the best
// active endpoint when the bound one is unusable. Sessions without a bound
// proxy connect directly.
func (a *actor) resolveProxy() (string, error) {
	if a.sess.ProxyID == nil {
		return "", nil
	}
	if ep, ok := a.m.proxies.Get(*a.sess.ProxyID); ok && ep.Status == domain.ProxyActive {
		return proxy.URL(ep), nil
	}
	ep, ok := a.m.proxies.SelectBest(*a.sess.ProxyID)
	if !ok {
		return "", apperr.ProxyPoolExhausted.Withf("no active proxy for session %s", a.id)
	}
	a.bindProxy(ep)
	return proxy.URL(ep), nil
}

func (a *actor) bindProxy(ep domain.ProxyEndpoint) {
	id := ep.ID
	a.sess.ProxyID = &id
	if err := a.m.repo.UpdateSessionState(a.m.ctx, a.id, map[string]any{"proxy_id": id}); err != nil {
		a.log.WithError(err).Warn("Failed to persist proxy binding")
	}
	if sw, ok := a.m.transport.(ProxySwitcher); ok {
		if err := sw.UseProxy(a.id, proxy.URL(ep)); err != nil {
			a.log.WithError(err).Warn("Transport rejected proxy switch")
		}
	}
	a.log.Infof("[%s] Bound to proxy %s", a.sess.Name, proxy.Redacted(ep))
}

func (a *actor) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPairing:
		payload, err := renderPairing(ev.Pairing)
		if err != nil {
			a.log.WithError(err).Warn("Failed to render pairing payload")
			payload = ev.Pairing
		}
		a.sess.PairingPayload = payload
		a.setState(domain.SessionConnecting, map[string]any{"pairing_payload": payload})
		a.log.Infof("[%s] Pairing code ready", a.sess.Name)

	case transport.EventOpened:
		now := a.m.now()
		a.stopRetry()
		a.closes = 0
		a.sess.Identity = ev.Identity
		a.sess.PairingPayload = ""
		a.sess.LastConnectedAt = &now
		a.setState(domain.SessionConnected, map[string]any{
			"identity":          ev.Identity,
			"pairing_payload":   "",
			"last_connected_at": now,
			"last_error":        "",
		})
		a.log.Infof("[%s] ✅ Connected as %s", a.sess.Name, ev.Identity)

	case transport.EventClosed:
		if ev.Recoverable {
			a.recoverableClose(ev.Reason)
			return
		}
		a.loggedOut(ev.Reason)

	case transport.EventFault:
		a.stopRetry()
		a.setState(domain.SessionError, map[string]any{"last_error": ev.Reason})
		a.log.Errorf("[%s] ⛔ Fault: %s", a.sess.Name, ev.Reason)
		a.m.alerts.SessionFault(a.sess.Name, ev.Reason)

	case transport.EventMessage:
		if ev.Message == nil {
			return
		}
		a.receive(*ev.Message)
	}
}

// recoverableClose marks the session disconnected and schedules exactly one
// retry after the fixed delay.
func (a *actor) recoverableClose(reason string) {
	a.setState(domain.SessionDisconnected, map[string]any{"last_error": reason})
	a.closes++
	a.log.Warnf("[%s] ❌ Disconnected (%s), retrying in %v", a.sess.Name, reason, a.m.opts.ReconnectDelay)
	if a.closes == stormThreshold {
		a.m.alerts.SessionFault(a.sess.Name, "connection keeps dropping: "+reason)
	}
	if a.retry != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(a.m.opts.ReconnectDelay, func() {
		a.post(a.m.ctx, func() { a.retryConnect(t) })
	})
	a.retry = t
}

// retryConnect runs when timer t fires; stale timers are ignored.
func (a *actor) retryConnect(t *time.Timer) {
	if a.retry != t {
		return
	}
	a.retry = nil
	if a.sess.Status != domain.SessionDisconnected {
		return
	}
	if err := a.connect(); err != nil {
		a.log.WithError(err).Warnf("[%s] Reconnect failed", a.sess.Name)
	}
}

// loggedOut handles a permanent close: credentials and pairing are gone.
func (a *actor) loggedOut(reason string) {
	a.stopRetry()
	a.sess.Identity = ""
	a.sess.PairingPayload = ""
	a.setState(domain.SessionDisconnected, map[string]any{
		"identity":        "",
		"pairing_payload": "",
		"last_error":      reason,
	})
	if err := a.m.transport.Disconnect(a.m.ctx, a.id, true); err != nil {
		a.log.WithError(err).Warn("Failed to discard credentials")
	}
	a.log.Warnf("[%s] ⚠️ Logged out: %s", a.sess.Name, reason)
	a.m.alerts.SessionLoggedOut(a.sess.Name, reason)
}

// connectionLost handles an event stream that ended without a close event.
func (a *actor) connectionLost() {
	switch a.sess.Status {
	case domain.SessionConnected, domain.SessionConnecting:
		a.recoverableClose("event stream closed")
	}
}

// logout is the operator disconnect: log out, discard pairing, stop.
func (a *actor) logout() error {
	a.stopRetry()
	a.finishing = true
	err := a.m.transport.Disconnect(a.m.ctx, a.id, true)
	a.events = nil
	a.sess.Identity = ""
	a.sess.PairingPayload = ""
	a.setState(domain.SessionDisconnected, map[string]any{
		"identity":        "",
		"pairing_payload": "",
	})
	a.log.Infof("[%s] Disconnected by operator", a.sess.Name)
	if err != nil {
		return apperr.Transport(err, "disconnect session %s", a.id)
	}
	return nil
}

// shutdown closes the connection on process stop, keeping credentials and
// the persisted status.
func (a *actor) shutdown() {
	a.stopRetry()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.m.transport.Disconnect(ctx, a.id, false); err != nil {
		a.log.WithError(err).Debug("Transport disconnect on shutdown")
	}
}

func (a *actor) stopRetry() {
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
}

// receive logs an inbound message durably, then queues it for the handler.
func (a *actor) receive(msg domain.InboundMessage) {
	msg.SessionID = a.id
	entry := &domain.MessageLog{
		SessionID: a.id,
		Contact:   msg.Contact,
		FromMe:    false,
		Body:      msg.Text,
		Status:    "received",
	}
	if err := a.m.repo.AppendMessageLog(a.m.ctx, entry); err != nil {
		a.log.WithError(err).Error("Failed to log inbound message")
	}
	a.log.Debugf("[Receiver] 📥 %s from %s", a.sess.Name, msg.Contact)
	a.inbound.push(msg)
}

// send delivers one message, rotating the send counter (and proxy) first
// when the batch limit was reached.
func (a *actor) send(ctx context.Context, out transport.Outbound) error {
	if a.sess.Status != domain.SessionConnected {
		return apperr.SessionNotConnected.Withf("session %s is %s", a.id, a.sess.Status)
	}

	if a.sess.SendCount >= a.sess.BatchLimit {
		if err := a.rotate(); err != nil {
			return err
		}
	}

	_, sendErr := a.m.transport.Send(ctx, a.id, out)

	entry := &domain.MessageLog{
		SessionID: a.id,
		Contact:   out.To,
		FromMe:    true,
		Body:      out.Body,
		Status:    "sent",
	}
	if out.Media != nil {
		entry.MediaType = out.Media.MimeType
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sendErr.Error()
	}
	if err := a.m.repo.AppendMessageLog(a.m.ctx, entry); err != nil {
		a.log.WithError(err).Error("Failed to log outbound message")
	}

	if a.sess.ProxyID != nil {
		a.m.proxies.RecordOutcome(a.m.ctx, *a.sess.ProxyID, sendErr == nil)
	}

	if sendErr != nil {
		a.log.WithError(sendErr).Warnf("[%s] Send to %s failed", a.sess.Name, out.To)
		return apperr.Transport(sendErr, "send to %s", out.To)
	}

	a.sess.SendCount++
	if err := a.m.repo.UpdateSessionState(a.m.ctx, a.id, map[string]any{"send_count": a.sess.SendCount}); err != nil {
		a.log.WithError(err).Warn("Failed to persist send counter")
	}
	return nil
}

// rotate moves proxied sessions to the best other active proxy (or keeps
// the current one if it is still the only option), then resets the batch
// counter. An exhausted pool leaves the counter untouched so the next send
// tries again.
func (a *actor) rotate() error {
	var next domain.ProxyEndpoint
	if a.sess.ProxyID != nil {
		current := *a.sess.ProxyID
		ep, ok := a.m.proxies.SelectBest(current)
		if !ok {
			ep, ok = a.m.proxies.SelectBest()
		}
		if !ok {
			return apperr.ProxyPoolExhausted.Withf("no active proxy to rotate session %s", a.id)
		}
		if ep.ID != current {
			a.bindProxy(ep)
		}
		next = ep
	}

	now := a.m.now()
	a.sess.SendCount = 0
	a.sess.LastRotationAt = &now
	if err := a.m.repo.UpdateSessionState(a.m.ctx, a.id, map[string]any{
		"send_count":       0,
		"last_rotation_at": now,
	}); err != nil {
		a.log.WithError(err).Warn("Failed to persist rotation")
	}

	if a.sess.ProxyID == nil {
		a.log.Infof("[%s] 🔄 Batch rotation", a.sess.Name)
		return nil
	}
	a.log.Infof("[%s] 🔄 Batch rotation via %s", a.sess.Name, proxy.Redacted(next))
	return nil
}
