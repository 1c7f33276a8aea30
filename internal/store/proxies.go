package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

func (s *Store) CreateProxy(ctx context.Context, p *domain.ProxyEndpoint) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create proxy: %w", err)
	}
	return nil
}

// ListProxies returns endpoints in insertion order.
func (s *Store) ListProxies(ctx context.Context) ([]domain.ProxyEndpoint, error) {
	var out []domain.ProxyEndpoint
	if err := s.db.WithContext(ctx).Order("position asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return out, nil
}

// SaveProxyHealth persists the scoring fields of an endpoint.
func (s *Store) SaveProxyHealth(ctx context.Context, p domain.ProxyEndpoint) error {
	res := s.db.WithContext(ctx).Model(&domain.ProxyEndpoint{}).Where("id = ?", p.ID).Updates(map[string]any{
		"status":          p.Status,
		"success_rate":    p.SuccessRate,
		"latency_ms":      p.LatencyMs,
		"usage_count":     p.UsageCount,
		"failure_count":   p.FailureCount,
		"last_checked_at": p.LastCheckedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("save proxy %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ProxyNotFound.Withf("proxy %s not found", p.ID)
	}
	return nil
}

func (s *Store) DeleteProxy(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.ProxyEndpoint{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete proxy: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ProxyNotFound.Withf("proxy %s not found", id)
	}
	return nil
}
