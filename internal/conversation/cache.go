// Package conversation keeps the recent turns of each (session, contact)
// pair for flows and completion prompts.
package conversation

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/whatsapp-automation/orchestrator/internal/cache"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const (
	MaxTurns = 20
	TTL      = 6 * time.Hour

	lockStripes = 64
)

// Context is the stored conversation of one pair.
type Context struct {
	SessionID   string        `json:"session_id"`
	Contact     string        `json:"contact"`
	Turns       []domain.Turn `json:"turns"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Cache is a bounded, expiring window of turns per (session, contact).
// Callers treat its errors as degraded context, never as fatal.
type Cache struct {
	store cache.Store
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

func New(store cache.Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func key(sessionID, contact string) string {
	return cache.Key("conversation", sessionID, contact)
}

// lock serializes read-modify-write of one pair within this process.
func (c *Cache) lock(sessionID, contact string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(contact))
	mu := &c.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// load returns the stored context, evicting it when older than TTL.
func (c *Cache) load(ctx context.Context, sessionID, contact string) (*Context, error) {
	var conv Context
	ok, err := cache.GetJSON(ctx, c.store, key(sessionID, contact), &conv)
	if err != nil || !ok {
		return nil, err
	}
	if c.now().Sub(conv.LastUpdated) >= TTL {
		if err := c.store.Del(ctx, key(sessionID, contact)); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &conv, nil
}

// Append adds a turn, keeping only the newest MaxTurns.
func (c *Cache) Append(ctx context.Context, sessionID, contact string, role domain.Role, text string) error {
	defer c.lock(sessionID, contact)()

	conv, err := c.load(ctx, sessionID, contact)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		conv = &Context{SessionID: sessionID, Contact: contact}
	}

	now := c.now()
	conv.Turns = append(conv.Turns, domain.Turn{Role: role, Content: text, Timestamp: now})
	if len(conv.Turns) > MaxTurns {
		conv.Turns = conv.Turns[len(conv.Turns)-MaxTurns:]
	}
	conv.LastUpdated = now

	if err := cache.SetJSON(ctx, c.store, key(sessionID, contact), conv, TTL); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first. A
// non-positive limit yields no turns.
func (c *Cache) RecentTurns(ctx context.Context, sessionID, contact string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	conv, err := c.load(ctx, sessionID, contact)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, nil
	}
	turns := conv.Turns
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// RenderContext formats recent turns as "Cliente: ..." / "Assistente: ..."
// lines for a completion prompt.
func (c *Cache) RenderContext(ctx context.Context, sessionID, contact string, limit int) (string, error) {
	turns, err := c.RecentTurns(ctx, sessionID, contact, limit)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "Assistente"
		if t.Role == domain.RoleUser {
			label = "Cliente"
		}
		lines = append(lines, label+": "+t.Content)
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Cache) Clear(ctx context.Context, sessionID, contact string) error {
	defer c.lock(sessionID, contact)()
	if err := c.store.Del(ctx, key(sessionID, contact)); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}
