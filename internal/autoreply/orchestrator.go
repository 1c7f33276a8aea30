// Package autoreply answers inbound messages, either through an active
// sales flow or through the completion service.
package autoreply

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/salesflow"
)

const (
	DefaultDedupTTL     = 5 * time.Hour
	DefaultContextTurns = 10
)

type Sessions interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Send(ctx context.Context, id, to, body string, media *domain.Media) error
}

// Flow is the sales conversation engine.
type Flow interface {
	ActiveLead(ctx context.Context, sessionID, contact string) (*domain.SalesLead, error)
	Advance(ctx context.Context, sessionID, contact, text string) (*salesflow.Step, error)
}

type Conversations interface {
	Append(ctx context.Context, sessionID, contact string, role domain.Role, text string) error
	RenderContext(ctx context.Context, sessionID, contact string, limit int) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, system, history, user string) (string, error)
}

type Options struct {
	DedupTTL     time.Duration
	ContextTurns int
	// SystemPrompt applies to sessions without their own prompt.
	SystemPrompt string
}

type Orchestrator struct {
	sessions Sessions
	flow     Flow
	turns    Conversations
	llm      Completer
	dedup    cache.Store
	log      *logrus.Entry
	opts     Options
}

func New(sessions Sessions, flow Flow, turns Conversations, llm Completer, dedup cache.Store, log *logrus.Entry, opts Options) *Orchestrator {
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = DefaultDedupTTL
	}
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = DefaultContextTurns
	}
	return &Orchestrator{
		sessions: sessions,
		flow:     flow,
		turns:    turns,
		llm:      llm,
		dedup:    dedup,
		log:      log,
		opts:     opts,
	}
}

// Receive is the inbound handler installed on the session manager.
func (o *Orchestrator) Receive(ctx context.Context, msg domain.InboundMessage) {
	if err := o.Handle(ctx, msg); err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"session": msg.SessionID,
			"contact": msg.Contact,
		}).Warn("[AutoReply] Reply failed")
	}
}

// Handle answers one inbound message. Nothing is sent when the session has
// auto-reply disabled or when no reply could be produced.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	sess, err := o.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	if !sess.AutoReply {
		return nil
	}
	entry := o.log.WithFields(logrus.Fields{"session": sess.ID, "contact": msg.Contact})

	history, err := o.turns.RenderContext(ctx, sess.ID, msg.Contact, o.opts.ContextTurns)
	if err != nil {
		entry.WithError(err).Warn("[AutoReply] Conversation context unavailable")
		history = ""
	}
	if err := o.turns.Append(ctx, sess.ID, msg.Contact, domain.RoleUser, msg.Text); err != nil {
		entry.WithError(err).Warn("[AutoReply] Failed to record inbound turn")
	}

	reply, ok, err := o.reply(ctx, entry, sess, msg, history)
	if err != nil || !ok {
		return err
	}

	if err := o.turns.Append(ctx, sess.ID, msg.Contact, domain.RoleAssistant, reply); err != nil {
		entry.WithError(err).Warn("[AutoReply] Failed to record reply turn")
	}
	if err := o.sessions.Send(ctx, sess.ID, msg.Contact, reply, nil); err != nil {
		return err
	}
	entry.Infof("[%s] Auto-reply sent to %s", sess.Name, msg.Contact)
	return nil
}

// reply picks the answer: the sales flow for contacts with an open lead,
// otherwise a cached or freshly generated completion.
func (o *Orchestrator) reply(ctx context.Context, entry *logrus.Entry, sess *domain.Session, msg domain.InboundMessage, history string) (string, bool, error) {
	lead, err := o.flow.ActiveLead(ctx, sess.ID, msg.Contact)
	if err != nil {
		entry.WithError(err).Warn("[AutoReply] Lead lookup failed")
	}
	if lead != nil {
		step, err := o.flow.Advance(ctx, sess.ID, msg.Contact, msg.Text)
		if err != nil {
			return "", false, err
		}
		return step.Reply, true, nil
	}

	key := DedupKey(sess.ID, msg.Text)
	if cached, found, err := o.dedup.Get(ctx, key); err != nil {
		entry.WithError(err).Warn("[AutoReply] Dedup cache read failed")
	} else if found {
		entry.Debug("[AutoReply] Reusing cached reply")
		return string(cached), true, nil
	}

	system := sess.SystemPrompt
	if system == "" {
		system = o.opts.SystemPrompt
	}
	reply, err := o.llm.Complete(ctx, system, history, msg.Text)
	if err != nil {
		entry.WithError(err).Warn("[AutoReply] Completion failed, not replying")
		return "", false, nil
	}
	if err := o.dedup.Set(ctx, key, []byte(reply), o.opts.DedupTTL); err != nil {
		entry.WithError(err).Warn("[AutoReply] Dedup cache write failed")
	}
	return reply, true, nil
}

// DedupKey hashes the case-folded, trimmed text of a message.
func DedupKey(sessionID, text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return cache.Key("autoreply", sessionID, hex.EncodeToString(sum[:]))
}
