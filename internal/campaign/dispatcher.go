// Package campaign drains bulk-send queues through a session with
// randomized pacing, pause, resume and cancel.
package campaign

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/antiban"
	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const DefaultSchedulerInterval = 30 * time.Second

type Repository interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign, msgs []domain.CampaignMessage) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	DueScheduled(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, extra map[string]any) (bool, error)
	PatchCampaign(ctx context.Context, id string, patch domain.CampaignPatch) (*domain.Campaign, error)
	NextPendingMessage(ctx context.Context, campaignID string) (*domain.CampaignMessage, error)
	RecordMessageResult(ctx context.Context, msgID, campaignID string, sendErr error) (bool, error)
	ListCampaignMessages(ctx context.Context, campaignID string) ([]domain.CampaignMessage, error)
	CreateTemplate(ctx context.Context, t *domain.Template) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// Sessions is the part of the session manager campaigns send through.
type Sessions interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	IsConnected(id string) bool
	Send(ctx context.Context, id, to, body string, media *domain.Media) error
}

type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.Media, error)
}

type Notifier interface {
	CampaignDone(name string, sent, failed int, duration time.Duration)
}

// Sleeper waits d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Options struct {
	SchedulerInterval time.Duration
	Rand              antiban.Randomizer
	Sleep             Sleeper
}

type Dispatcher struct {
	repo     Repository
	sessions Sessions
	media    MediaResolver
	notify   Notifier
	log      *logrus.Entry
	opts     Options
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders status transitions against the loops' exit decisions.
	mu        sync.Mutex
	running   map[string]uint64
	nextToken uint64
	started   bool
	stopped   bool
}

func NewDispatcher(repo Repository, sessions Sessions, media MediaResolver, notify Notifier, log *logrus.Entry, opts Options) *Dispatcher {
	if opts.SchedulerInterval <= 0 {
		opts.SchedulerInterval = DefaultSchedulerInterval
	}
	if opts.Rand == nil {
		opts.Rand = antiban.NewRandomizer()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		repo:     repo,
		sessions: sessions,
		media:    media,
		notify:   notify,
		log:      log,
		opts:     opts,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]uint64),
	}
}

func (d *Dispatcher) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return d.repo.GetCampaign(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context) ([]domain.Campaign, error) {
	return d.repo.ListCampaigns(ctx)
}

func (d *Dispatcher) Messages(ctx context.Context, id string) ([]domain.CampaignMessage, error) {
	if _, err := d.repo.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return d.repo.ListCampaignMessages(ctx, id)
}

// IsRunning reports whether a drain loop owns the campaign.
func (d *Dispatcher) IsRunning(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[id]
	return ok
}

// Start marks a draft or scheduled campaign running and launches its drain
// loop. It returns without waiting for any send.
func (d *Dispatcher) Start(ctx context.Context, id string) error {
	c, err := d.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return apperr.Conflict("campaign dispatcher stopped")
	}
	if _, ok := d.running[id]; ok {
		return apperr.CampaignRunning.Withf("campaign %s already running", id)
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return apperr.CampaignBadState.Withf("campaign %s is %s", id, c.Status)
	}
	if !d.sessions.IsConnected(c.SessionID) {
		return apperr.SessionNotConnected.Withf("session %s not connected", c.SessionID)
	}

	ok, err := d.repo.TransitionCampaign(ctx, id,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled},
		domain.CampaignRunning, map[string]any{"started_at": d.now()})
	if err != nil {
		return err
	}
	if !ok {
		return apperr.CampaignBadState.Withf("campaign %s changed status", id)
	}
	d.launch(id)
	d.log.WithField("campaign", id).Infof("[Campaign] 🚀 %s started (%d messages)", c.Name, c.Total)
	return nil
}

// Pause stops the campaign at the next loop boundary.
func (d *Dispatcher) Pause(ctx context.Context, id string) error {
	return d.transition(ctx, id, []domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignPaused, nil)
}

// Resume continues a paused campaign, relaunching its loop if the previous
// one already exited.
func (d *Dispatcher) Resume(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return apperr.Conflict("campaign dispatcher stopped")
	}
	ok, err := d.repo.TransitionCampaign(ctx, id, []domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignRunning, nil)
	if err != nil {
		return err
	}
	if !ok {
		return d.badState(ctx, id)
	}
	if _, running := d.running[id]; !running {
		d.launch(id)
	}
	d.log.WithField("campaign", id).Info("[Campaign] ▶️ Resumed")
	return nil
}

// Cancel ends a campaign for good. The running loop, if any, is released at
// once and sends nothing after its current step.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	from := []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignRunning, domain.CampaignPaused}
	return d.transition(ctx, id, from, domain.CampaignCancelled, func() { delete(d.running, id) })
}

func (d *Dispatcher) transition(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, locked func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ok, err := d.repo.TransitionCampaign(ctx, id, from, to, nil)
	if err != nil {
		return err
	}
	if !ok {
		return d.badState(ctx, id)
	}
	if locked != nil {
		locked()
	}
	d.log.WithField("campaign", id).Infof("[Campaign] Status -> %s", to)
	return nil
}

func (d *Dispatcher) badState(ctx context.Context, id string) error {
	c, err := d.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	return apperr.CampaignBadState.Withf("campaign %s is %s", id, c.Status)
}

// Update edits a campaign that has not started yet.
func (d *Dispatcher) Update(ctx context.Context, id string, patch domain.CampaignPatch) (*domain.Campaign, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	return d.repo.PatchCampaign(ctx, id, patch)
}

// launch must be called with mu held.
func (d *Dispatcher) launch(id string) {
	d.nextToken++
	token := d.nextToken
	d.running[id] = token
	d.wg.Add(1)
	go d.drain(id, token)
}

// StartWorkers resumes campaigns a previous process left running and starts
// the scheduler for scheduled campaigns.
func (d *Dispatcher) StartWorkers(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return nil
	}
	d.started = true

	running, err := d.repo.ListCampaignsByStatus(ctx, domain.CampaignRunning)
	if err != nil {
		return err
	}
	for _, c := range running {
		if _, ok := d.running[c.ID]; ok {
			continue
		}
		d.launch(c.ID)
	}
	if len(running) > 0 {
		d.log.Infof("[Campaign] Recovered %d running campaigns", len(running))
	}

	d.wg.Add(1)
	go d.scheduler()
	return nil
}

// Stop ends every drain loop and the scheduler and waits for them. A send
// in flight finishes; its message stays pending only if the send itself was
// interrupted.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.log.Info("[Campaign] Dispatcher stopped")
}

func (d *Dispatcher) scheduler() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.SchedulerInterval)
	defer ticker.Stop()

	d.startDue()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.startDue()
		}
	}
}

func (d *Dispatcher) startDue() {
	due, err := d.repo.DueScheduled(d.ctx, d.now())
	if err != nil {
		if d.ctx.Err() == nil {
			d.log.WithError(err).Error("[Campaign] Failed to list scheduled campaigns")
		}
		return
	}
	for _, c := range due {
		if err := d.Start(d.ctx, c.ID); err != nil {
			d.log.WithError(err).WithField("campaign", c.ID).Warn("[Campaign] Scheduled start deferred")
		}
	}
}
