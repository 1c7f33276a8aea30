package antiban

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

func TestBoundsRaiseToFloor(t *testing.T) {
	tests := []struct {
		name   string
		min    int
		max    int
		risk   domain.RiskLevel
		wantLo int
		wantHi int
	}{
		{"low raises both", 3, 10, domain.RiskLow, 10, 30},
		{"medium raises both", 3, 10, domain.RiskMedium, 5, 15},
		{"high keeps larger config", 3, 10, domain.RiskHigh, 3, 10},
		{"high floors tiny config", 0, 1, domain.RiskHigh, 2, 8},
		{"unknown behaves as medium", 1, 1, "extreme", 5, 15},
		{"config above floor", 40, 60, domain.RiskLow, 40, 60},
		{"inverted min above max", 20, 12, domain.RiskHigh, 20, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := Bounds(tt.min, tt.max, tt.risk)
			assert.Equal(t, tt.wantLo, lo)
			assert.Equal(t, tt.wantHi, hi)
		})
	}
}

func TestHighRiskDelaysStayInRange(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	seen := map[time.Duration]bool{}
	for i := 0; i < 2000; i++ {
		d := CampaignDelay(r, 3, 10, domain.RiskHigh)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
		seen[d] = true
	}
	// Both ends of [3,10] are reachable.
	assert.True(t, seen[3*time.Second])
	assert.True(t, seen[10*time.Second])
}

func TestNewRandomizerConcurrentUse(t *testing.T) {
	r := NewRandomizer()
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				CampaignDelay(r, 1, 2, domain.RiskMedium)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
