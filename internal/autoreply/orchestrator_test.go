package autoreply

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/conversation"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
	"github.com/whatsapp-automation/orchestrator/internal/logging"
	"github.com/whatsapp-automation/orchestrator/internal/salesflow"
)

type sent struct {
	session, to, body string
}

type fakeSessions struct {
	mu      sync.Mutex
	session domain.Session
	sent    []sent
	sendErr error
}

func (f *fakeSessions) Get(_ context.Context, id string) (*domain.Session, error) {
	if id != f.session.ID {
		return nil, apperr.SessionNotFound.New()
	}
	s := f.session
	return &s, nil
}

func (f *fakeSessions) Send(_ context.Context, id, to, body string, _ *domain.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{id, to, body})
	return nil
}

type fakeFlow struct {
	lead     *domain.SalesLead
	advanced []string
}

func (f *fakeFlow) ActiveLead(context.Context, string, string) (*domain.SalesLead, error) {
	return f.lead, nil
}

func (f *fakeFlow) Advance(_ context.Context, _, _, text string) (*salesflow.Step, error) {
	f.advanced = append(f.advanced, text)
	return &salesflow.Step{Lead: *f.lead, Reply: "flow: " + text}, nil
}

type call struct {
	system, history, user string
}

type fakeCompleter struct {
	calls []call
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, system, history, user string) (string, error) {
	f.calls = append(f.calls, call{system, history, user})
	if f.err != nil {
		return "", f.err
	}
	return "resposta para " + user, nil
}

type fixture struct {
	sessions *fakeSessions
	flow     *fakeFlow
	llm      *fakeCompleter
	turns    *conversation.Cache
	dedup    *cache.MemoryStore
	o        *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		sessions: &fakeSessions{session: domain.Session{ID: "s1", Name: "vendas", AutoReply: true}},
		flow:     &fakeFlow{},
		llm:      &fakeCompleter{},
		turns:    conversation.New(cache.NewMemoryStore()),
		dedup:    cache.NewMemoryStore(),
	}
	f.o = New(f.sessions, f.flow, f.turns, f.llm, f.dedup, logging.Discard(), Options{SystemPrompt: "padrão"})
	return f
}

func inbound(text string) domain.InboundMessage {
	return domain.InboundMessage{ID: "m", SessionID: "s1", Contact: "5511999990000", Text: text, Timestamp: time.Now()}
}

func TestIdenticalQuestionsShareOneCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.o.Handle(ctx, inbound("Quanto custa a fibra?")))
	require.NoError(t, f.o.Handle(ctx, inbound("  quanto CUSTA a fibra?  ")))

	require.Len(t, f.llm.calls, 1)
	require.Len(t, f.sessions.sent, 2)
	assert.Equal(t, f.sessions.sent[0].body, f.sessions.sent[1].body)
	assert.Equal(t, "5511999990000", f.sessions.sent[0].to)
	assert.Equal(t, "padrão", f.llm.calls[0].system)

	require.NoError(t, f.o.Handle(ctx, inbound("outra pergunta")))
	assert.Len(t, f.llm.calls, 2)
}

func TestContextIsRenderedBeforeTheInboundTurn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.o.Handle(ctx, inbound("oi")))
	require.NoError(t, f.o.Handle(ctx, inbound("tem internet?")))

	require.Len(t, f.llm.calls, 2)
	assert.Empty(t, f.llm.calls[0].history)
	assert.Equal(t, "Cliente: oi\nAssistente: resposta para oi", f.llm.calls[1].history)

	turns, err := f.turns.RecentTurns(ctx, "s1", "5511999990000", 10)
	require.NoError(t, err)
	want := []domain.Turn{
		{Role: domain.RoleUser, Content: "oi"},
		{Role: domain.RoleAssistant, Content: "resposta para oi"},
		{Role: domain.RoleUser, Content: "tem internet?"},
		{Role: domain.RoleAssistant, Content: "resposta para tem internet?"},
	}
	if diff := cmp.Diff(want, turns, cmpopts.IgnoreFields(domain.Turn{}, "Timestamp")); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestActiveLeadRoutesToFlow(t *testing.T) {
	f := newFixture()
	f.flow.lead = &domain.SalesLead{ID: "l1", Stage: domain.StageAwaitingCEP}

	require.NoError(t, f.o.Handle(context.Background(), inbound("01310100")))
	assert.Empty(t, f.llm.calls)
	assert.Equal(t, []string{"01310100"}, f.flow.advanced)
	require.Len(t, f.sessions.sent, 1)
	assert.Equal(t, "flow: 01310100", f.sessions.sent[0].body)

	// Flow replies bypass the dedup cache.
	_, found, err := f.dedup.Get(context.Background(), DedupKey("s1", "01310100"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDisabledSessionIsIgnored(t *testing.T) {
	f := newFixture()
	f.sessions.session.AutoReply = false

	require.NoError(t, f.o.Handle(context.Background(), inbound("oi")))
	assert.Empty(t, f.llm.calls)
	assert.Empty(t, f.sessions.sent)
	turns, err := f.turns.RecentTurns(context.Background(), "s1", "5511999990000", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestCompletionFailureSendsNothing(t *testing.T) {
	f := newFixture()
	f.llm.err = apperr.CompletionUnavailable.New()

	require.NoError(t, f.o.Handle(context.Background(), inbound("oi")))
	assert.Empty(t, f.sessions.sent)

	turns, err := f.turns.RecentTurns(context.Background(), "s1", "5511999990000", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
}

func TestSessionPromptOverridesDefault(t *testing.T) {
	f := newFixture()
	f.sessions.session.SystemPrompt = "Você vende planos TIM."

	require.NoError(t, f.o.Handle(context.Background(), inbound("oi")))
	require.Len(t, f.llm.calls, 1)
	assert.Equal(t, "Você vende planos TIM.", f.llm.calls[0].system)
}

func TestSendFailureIsReported(t *testing.T) {
	f := newFixture()
	f.sessions.sendErr = apperr.SessionNotConnected.New()

	err := f.o.Handle(context.Background(), inbound("oi"))
	assert.ErrorIs(t, err, apperr.SessionNotConnected.New())

	msg := inbound("oi")
	msg.SessionID = "missing"
	assert.ErrorIs(t, f.o.Handle(context.Background(), msg), apperr.SessionNotFound.New())
}

func TestDedupKeyNormalizes(t *testing.T) {
	assert.Equal(t, DedupKey("s1", " Olá "), DedupKey("s1", "olá"))
	assert.NotEqual(t, DedupKey("s1", "olá"), DedupKey("s2", "olá"))
	assert.Regexp(t, `^autoreply:s1:[0-9a-f]{64}$`, DedupKey("s1", "olá"))
}
