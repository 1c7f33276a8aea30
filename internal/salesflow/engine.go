// Package salesflow runs the guided TIM sales conversation: one lead per
// (session, contact), advanced one inbound message at a time.
package salesflow

import (
	"context"
	"hash/fnv"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

// Repository persists leads.
type Repository interface {
	ActiveLead(ctx context.Context, sessionID, contact string) (*domain.SalesLead, error)
	OpenLead(ctx context.Context, sessionID, contact string) (*domain.SalesLead, bool, error)
	SaveLead(ctx context.Context, lead *domain.SalesLead) error
	GetLead(ctx context.Context, id string) (*domain.SalesLead, error)
	ListLeads(ctx context.Context, sessionID string, stage domain.LeadStage) ([]domain.SalesLead, error)
	PatchLead(ctx context.Context, id string, patch domain.LeadPatch) (*domain.SalesLead, error)
}

// Recorder keeps the conversation transcript.
type Recorder interface {
	Append(ctx context.Context, sessionID, contact string, role domain.Role, text string) error
}

// Step is the outcome of feeding one message to a lead.
type Step struct {
	Lead  domain.SalesLead
	Reply string
}

// handler advances lead in place for one input and returns the reply.
// changed=false means the lead was left untouched.
type handler func(ctx context.Context, lead *domain.SalesLead, input string) (reply string, changed bool, err error)

const lockStripes = 64

type Engine struct {
	repo      Repository
	checker   Checker
	addresses AddressLookup
	turns     Recorder
	log       *logrus.Entry
	now       func() time.Time

	handlers map[domain.LeadStage]handler
	locks    [lockStripes]sync.Mutex
}

// NewEngine wires the flow. addresses and turns may be nil.
func NewEngine(repo Repository, checker Checker, addresses AddressLookup, turns Recorder, log *logrus.Entry) *Engine {
	e := &Engine{
		repo:      repo,
		checker:   checker,
		addresses: addresses,
		turns:     turns,
		log:       log,
		now:       time.Now,
	}
	e.handlers = map[domain.LeadStage]handler{
		domain.StageInitial:                e.greet,
		domain.StageAwaitingCEP:            e.takeCEP,
		domain.StageAwaitingNumber:         e.takeNumber,
		domain.StageCheckingViability:      e.recheckViability,
		domain.StageSelectingPlan:          e.takePlan,
		domain.StageCollectingAddress:      e.takeComplement,
		domain.StageCollectingPersonalData: e.takePersonalData,
		domain.StageRequestingGeolocation:  e.takeLocation,
		domain.StageReviewingData:          e.takeReview,
		domain.StageAwaitingAuthorization:  e.takeAuthorization,
	}
	return e
}

// lock serializes work on one (session, contact) pair.
func (e *Engine) lock(sessionID, contact string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(contact))
	mu := &e.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Start opens a lead for the contact, or resumes the open one, and returns
// the prompt for its current stage. The prompt is recorded as an assistant
// turn; sending it is up to the caller.
func (e *Engine) Start(ctx context.Context, sessionID, contact string) (*Step, error) {
	contact = domain.NormalizePhone(contact)
	if contact == "" {
		return nil, apperr.Validation("invalid contact")
	}
	unlock := e.lock(sessionID, contact)
	defer unlock()

	lead, created, err := e.repo.OpenLead(ctx, sessionID, contact)
	if err != nil {
		return nil, err
	}
	if created {
		e.log.WithField("lead", lead.ID).Infof("[SalesFlow] Lead opened for %s", contact)
	}

	var step *Step
	switch lead.Stage {
	case domain.StageInitial, domain.StageCheckingViability:
		step, err = e.run(ctx, lead, "")
		if err != nil {
			return nil, err
		}
	default:
		step = &Step{Lead: *lead, Reply: e.prompt(lead)}
	}
	e.record(ctx, sessionID, contact, domain.RoleAssistant, step.Reply)
	return step, nil
}

// Handle records an inbound message, advances the contact's lead (opening
// one when none is active) and records the reply.
func (e *Engine) Handle(ctx context.Context, sessionID, contact, text string) (*Step, error) {
	contact = domain.NormalizePhone(contact)
	e.record(ctx, sessionID, contact, domain.RoleUser, text)
	step, err := e.Advance(ctx, sessionID, contact, text)
	if err != nil {
		return nil, err
	}
	e.record(ctx, sessionID, contact, domain.RoleAssistant, step.Reply)
	return step, nil
}

// Advance feeds text to the contact's lead without touching the transcript.
func (e *Engine) Advance(ctx context.Context, sessionID, contact, text string) (*Step, error) {
	contact = domain.NormalizePhone(contact)
	if contact == "" {
		return nil, apperr.Validation("invalid contact")
	}
	unlock := e.lock(sessionID, contact)
	defer unlock()

	lead, _, err := e.repo.OpenLead(ctx, sessionID, contact)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, lead, text)
}

func (e *Engine) run(ctx context.Context, lead *domain.SalesLead, input string) (*Step, error) {
	h, ok := e.handlers[lead.Stage]
	if !ok {
		e.log.WithField("lead", lead.ID).Warnf("[SalesFlow] Unknown stage %q, restarting", lead.Stage)
		lead.Stage = domain.StageInitial
		h = e.greet
	}

	before := lead.Stage
	reply, changed, err := h(ctx, lead, trim(input))
	if err != nil {
		return nil, err
	}
	if changed {
		if err := e.repo.SaveLead(ctx, lead); err != nil {
			return nil, err
		}
	}
	if lead.Stage != before {
		e.log.WithField("lead", lead.ID).Infof("[SalesFlow] Lead %s: %s -> %s", lead.Contact, before, lead.Stage)
	}
	return &Step{Lead: *lead, Reply: reply}, nil
}

func (e *Engine) record(ctx context.Context, sessionID, contact string, role domain.Role, text string) {
	if e.turns == nil || text == "" {
		return
	}
	if err := e.turns.Append(ctx, sessionID, contact, role, text); err != nil {
		e.log.WithError(err).Warn("[SalesFlow] Failed to record turn")
	}
}

// ActiveLead returns the open lead of the pair, or nil.
func (e *Engine) ActiveLead(ctx context.Context, sessionID, contact string) (*domain.SalesLead, error) {
	return e.repo.ActiveLead(ctx, sessionID, domain.NormalizePhone(contact))
}

func (e *Engine) Get(ctx context.Context, id string) (*domain.SalesLead, error) {
	return e.repo.GetLead(ctx, id)
}

func (e *Engine) List(ctx context.Context, sessionID string, stage domain.LeadStage) ([]domain.SalesLead, error) {
	return e.repo.ListLeads(ctx, sessionID, stage)
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Update corrects collected data. Stages only move through conversation.
func (e *Engine) Update(ctx context.Context, id string, patch domain.LeadPatch) (*domain.SalesLead, error) {
	if patch.FullName.Set && trim(patch.FullName.Value) == "" {
		return nil, apperr.Validation("full_name cannot be empty")
	}
	if patch.Email.Set && !emailPattern.MatchString(patch.Email.Value) {
		return nil, apperr.Validation("invalid email %q", patch.Email.Value)
	}
	if patch.CPF.Set {
		cpf := domain.Digits(patch.CPF.Value)
		if len(cpf) != 11 {
			return nil, apperr.Validation("cpf must have 11 digits")
		}
		patch.CPF.Value = cpf
	}
	if patch.Number.Set && domain.Digits(patch.Number.Value) == "" {
		return nil, apperr.Validation("invalid address number")
	}
	lead, err := e.repo.PatchLead(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	e.log.WithField("lead", id).Info("[SalesFlow] Lead updated by operator")
	return lead, nil
}
