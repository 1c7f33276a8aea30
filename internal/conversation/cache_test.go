package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache() (*Cache, *clock) {
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := cache.NewMemoryStore().WithClock(c.now)
	return New(store).WithClock(c.now), c
}

func TestAppendKeepsNewestTwenty(t *testing.T) {
	ctx := context.Background()
	cc, _ := newTestCache()

	for i := 0; i < 25; i++ {
		require.NoError(t, cc.Append(ctx, "s1", "5511", domain.RoleUser, fmt.Sprintf("m%d", i)))
	}

	turns, err := cc.RecentTurns(ctx, "s1", "5511", 100)
	require.NoError(t, err)
	require.Len(t, turns, MaxTurns)
	assert.Equal(t, "m5", turns[0].Content)
	assert.Equal(t, "m24", turns[19].Content)
}

func TestRecentTurnsNonPositiveLimit(t *testing.T) {
	ctx := context.Background()
	cc, _ := newTestCache()

	for i := 0; i < 15; i++ {
		require.NoError(t, cc.Append(ctx, "s1", "5511", domain.RoleUser, fmt.Sprintf("m%d", i)))
	}
	turns, err := cc.RecentTurns(ctx, "s1", "5511", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = cc.RecentTurns(ctx, "s1", "5511", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "m12", turns[0].Content)
}

func TestConcurrentAppendsKeepEveryTurn(t *testing.T) {
	ctx := context.Background()
	cc, _ := newTestCache()

	var wg sync.WaitGroup
	for i := 0; i < MaxTurns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role := domain.RoleUser
			if i%2 == 1 {
				role = domain.RoleAssistant
			}
			assert.NoError(t, cc.Append(ctx, "s1", "5511", role, fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	turns, err := cc.RecentTurns(ctx, "s1", "5511", MaxTurns)
	require.NoError(t, err)
	assert.Len(t, turns, MaxTurns)
}

func TestStaleContextIsEvicted(t *testing.T) {
	ctx := context.Background()
	cc, clk := newTestCache()

	require.NoError(t, cc.Append(ctx, "s1", "5511", domain.RoleUser, "oi"))
	clk.t = clk.t.Add(TTL)

	turns, err := cc.RecentTurns(ctx, "s1", "5511", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	// Appending after expiry starts a fresh context.
	require.NoError(t, cc.Append(ctx, "s1", "5511", domain.RoleUser, "voltei"))
	turns, err = cc.RecentTurns(ctx, "s1", "5511", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "voltei", turns[0].Content)
}

func TestRenderContext(t *testing.T) {
	ctx := context.Background()
	cc, clk := newTestCache()

	require.NoError(t, cc.Append(ctx, "s1", "5511", domain.RoleUser, "Qual o preço?"))
	require.NoError(t, cc.Append(ctx, "s1", "5511", domain.RoleAssistant, "A partir de R$ 99,90."))

	text, err := cc.RenderContext(ctx, "s1", "5511", 10)
	require.NoError(t, err)
	assert.Equal(t, "Cliente: Qual o preço?\nAssistente: A partir de R$ 99,90.", text)

	turns, err := cc.RecentTurns(ctx, "s1", "5511", 10)
	require.NoError(t, err)
	want := []domain.Turn{
		{Role: domain.RoleUser, Content: "Qual o preço?", Timestamp: clk.t},
		{Role: domain.RoleAssistant, Content: "A partir de R$ 99,90.", Timestamp: clk.t},
	}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestClearAndIsolation(t *testing.T) {
	ctx := context.Background()
	cc, _ := newTestCache()

	require.NoError(t, cc.Append(ctx, "s1", "a", domain.RoleUser, "x"))
	require.NoError(t, cc.Append(ctx, "s2", "a", domain.RoleUser, "y"))
	require.NoError(t, cc.Clear(ctx, "s1", "a"))

	turns, err := cc.RecentTurns(ctx, "s1", "a", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, err = cc.RecentTurns(ctx, "s2", "a", 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}
