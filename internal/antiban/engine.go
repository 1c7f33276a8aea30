// Package antiban computes the randomized pauses between campaign sends.
package antiban

import (
	"math/rand"
	"sync"
	"time"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

// ============================================
// RISK TIERS
// ============================================

// Floor is the minimum interval bounds (seconds) enforced for a risk tier.
type Floor struct {
	Min int
	Max int
}

// Floors raise configured campaign bounds to at least these values.
var Floors = map[domain.RiskLevel]Floor{
	domain.RiskLow:    {Min: 10, Max: 30},
	domain.RiskMedium: {Min: 5, Max: 15},
	domain.RiskHigh:   {Min: 2, Max: 8},
}

// Bounds returns the effective [min, max] seconds for a campaign.
// Unknown tiers use the medium floor.
func Bounds(intervalMin, intervalMax int, risk domain.RiskLevel) (int, int) {
	floor, ok := Floors[risk]
	if !ok {
		floor = Floors[domain.RiskMedium]
	}
	lo := max(intervalMin, floor.Min)
	hi := max(intervalMax, floor.Max)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// ============================================
// TIMING RANDOMIZATION
// ============================================

// Randomizer draws uniformly distributed integers. *rand.Rand satisfies it.
type Randomizer interface {
	Intn(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent drain loops.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// NewRandomizer returns a concurrency-safe source seeded from the clock.
func NewRandomizer() Randomizer {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// CampaignDelay picks the pause after a send: a whole number of seconds,
// uniform in the campaign's effective bounds.
func CampaignDelay(r Randomizer, intervalMin, intervalMax int, risk domain.RiskLevel) time.Duration {
	lo, hi := Bounds(intervalMin, intervalMax, risk)
	secs := lo + r.Intn(hi-lo+1)
	return time.Duration(secs) * time.Second
}
