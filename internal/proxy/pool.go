// Package proxy manages the egress proxy pool: validation, scoring,
// selection and periodic health checks.
package proxy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const (
	initialSuccessRate = 50
	inactiveBelow      = 20

	healthSuccessDelta = 10
	healthFailureDelta = -20
	sendSuccessDelta   = 10
	sendFailureDelta   = -30

	DefaultHealthInterval = 5 * time.Minute
	DefaultCheckDelay     = 2 * time.Second
	DefaultCheckTimeout   = 15 * time.Second
	DefaultHealthTarget   = "https://www.google.com"
)

// Repository persists endpoints.
type Repository interface {
	CreateProxy(ctx context.Context, p *domain.ProxyEndpoint) error
	ListProxies(ctx context.Context) ([]domain.ProxyEndpoint, error)
	SaveProxyHealth(ctx context.Context, p domain.ProxyEndpoint) error
	DeleteProxy(ctx context.Context, id string) error
}

type Options struct {
	HealthInterval time.Duration
	CheckDelay     time.Duration
	CheckTimeout   time.Duration
	HealthTarget   string
}

func (o *Options) applyDefaults() {
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.CheckDelay < 0 {
		o.CheckDelay = DefaultCheckDelay
	}
	if o.CheckTimeout <= 0 {
		o.CheckTimeout = DefaultCheckTimeout
	}
	if o.HealthTarget == "" {
		o.HealthTarget = DefaultHealthTarget
	}
}

// Pool is the set of known endpoints, kept in insertion order.
type Pool struct {
	repo Repository
	log  *logrus.Entry
	opts Options
	now  func() time.Time

	mu        sync.RWMutex
	endpoints []*domain.ProxyEndpoint
	nextPos   int64

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	checkWG sync.WaitGroup
}

func NewPool(repo Repository, log *logrus.Entry, opts Options) *Pool {
	opts.applyDefaults()
	return &Pool{
		repo: repo,
		log:  log,
		opts: opts,
		now:  time.Now,
	}
}

// Load restores persisted endpoints.
func (p *Pool) Load(ctx context.Context) error {
	list, err := p.repo.ListProxies(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })

	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = p.endpoints[:0]
	for i := range list {
		ep := list[i]
		p.endpoints = append(p.endpoints, &ep)
		if ep.Position >= p.nextPos {
			p.nextPos = ep.Position + 1
		}
	}
	p.log.Infof("[ProxyPool] Loaded %d proxies", len(list))
	return nil
}

// Bootstrap adds configured proxy URLs that are not already in the pool.
// Invalid entries are logged and skipped.
func (p *Pool) Bootstrap(ctx context.Context, urls []string) int {
	added := 0
	for _, raw := range urls {
		ep, err := ParseURL(raw)
		if err != nil {
			p.log.WithError(err).Warn("[ProxyPool] Skipping configured proxy")
			continue
		}
		if p.contains(ep) {
			continue
		}
		if _, err := p.Add(ctx, raw, "bootstrap"); err != nil {
			p.log.WithError(err).Warnf("[ProxyPool] Failed to add %s", Redacted(ep))
			continue
		}
		added++
	}
	if added > 0 {
		p.log.Infof("[ProxyPool] Bootstrapped %d proxies from config", added)
	}
	return added
}

// Add validates and stores a new endpoint in the testing state.
func (p *Pool) Add(ctx context.Context, rawURL, label string) (domain.ProxyEndpoint, error) {
	ep, err := ParseURL(rawURL)
	if err != nil {
		return domain.ProxyEndpoint{}, err
	}
	if p.contains(ep) {
		return domain.ProxyEndpoint{}, apperr.Conflict("proxy %s already in pool", Redacted(ep))
	}
	ep.Label = label

	p.mu.Lock()
	ep.Position = p.nextPos
	p.nextPos++
	p.mu.Unlock()

	if err := p.repo.CreateProxy(ctx, &ep); err != nil {
		return domain.ProxyEndpoint{}, err
	}

	p.mu.Lock()
	stored := ep
	p.endpoints = append(p.endpoints, &stored)
	p.mu.Unlock()

	p.log.Infof("[ProxyPool] Added %s (%s)", Redacted(ep), ep.ID)
	return ep, nil
}

func (p *Pool) Remove(ctx context.Context, id string) error {
	if err := p.repo.DeleteProxy(ctx, id); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ep := range p.endpoints {
		if ep.ID == id {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			break
		}
	}
	return nil
}

func (p *Pool) Get(id string) (domain.ProxyEndpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ep := range p.endpoints {
		if ep.ID == id {
			return *ep, true
		}
	}
	return domain.ProxyEndpoint{}, false
}

// List returns a snapshot in insertion order.
func (p *Pool) List() []domain.ProxyEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.ProxyEndpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

func (p *Pool) contains(candidate domain.ProxyEndpoint) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ep := range p.endpoints {
		if sameAddress(*ep, candidate) {
			return true
		}
	}
	return false
}

// Score ranks active endpoints: success rate dominates, latency breaks
// near-ties.
func Score(ep domain.ProxyEndpoint) float64 {
	return ep.SuccessRate*100 - float64(ep.LatencyMs)
}

// SelectBest returns the highest scoring active endpoint not in exclude.
// Ties go to the earliest inserted endpoint. ok=false means nothing is
// usable and the caller must not fall back to a direct connection.
func (p *Pool) SelectBest(exclude ...string) (domain.ProxyEndpoint, bool) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var (
		best  domain.ProxyEndpoint
		score float64
		found bool
	)
	for _, ep := range p.List() {
		if ep.Status != domain.ProxyActive {
			continue
		}
		if _, excluded := skip[ep.ID]; excluded {
			continue
		}
		if s := Score(ep); !found || s > score {
			best, score, found = ep, s, true
		}
	}
	return best, found
}

// RecordOutcome scores the result of a send that went through endpoint id.
func (p *Pool) RecordOutcome(ctx context.Context, id string, success bool) {
	delta := sendSuccessDelta
	if !success {
		delta = sendFailureDelta
	}
	p.apply(ctx, id, success, delta, nil, true)
}

// apply adjusts the success rate and status of an endpoint and persists it.
// Persistence failures are logged; the in-memory score stays authoritative.
func (p *Pool) apply(ctx context.Context, id string, success bool, delta int, latencyMs *int64, isSend bool) {
	p.mu.Lock()
	var ep *domain.ProxyEndpoint
	for _, e := range p.endpoints {
		if e.ID == id {
			ep = e
			break
		}
	}
	if ep == nil {
		p.mu.Unlock()
		return
	}

	before := ep.Status
	ep.SuccessRate = clamp(ep.SuccessRate+float64(delta), 0, 100)
	if latencyMs != nil {
		ep.LatencyMs = *latencyMs
	}
	if isSend {
		ep.UsageCount++
	}
	if !success {
		if isSend {
			ep.FailureCount++
		}
		if ep.SuccessRate < inactiveBelow {
			ep.Status = domain.ProxyInactive
		}
	} else {
		ep.Status = domain.ProxyActive
	}
	if !isSend {
		now := p.now()
		ep.LastCheckedAt = &now
	}
	snapshot := *ep
	p.mu.Unlock()

	if before != snapshot.Status {
		p.log.WithFields(logrus.Fields{
			"proxy":        Redacted(snapshot),
			"success_rate": snapshot.SuccessRate,
		}).Infof("[ProxyPool] Proxy %s: %s -> %s", snapshot.ID, before, snapshot.Status)
	}

	if err := p.repo.SaveProxyHealth(ctx, snapshot); err != nil {
		p.log.WithError(err).Warnf("[ProxyPool] Failed to persist health of %s", snapshot.ID)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
