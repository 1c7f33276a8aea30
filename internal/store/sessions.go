package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = domain.SessionDisconnected
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if isNotFound(err) {
		return nil, apperr.SessionNotFound.Withf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var out []domain.Session
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *Store) ListSessionsByStatus(ctx context.Context, statuses ...domain.SessionStatus) ([]domain.Session, error) {
	var out []domain.Session
	err := s.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list sessions by status: %w", err)
	}
	return out, nil
}

// PatchSession applies the fields present in patch.
func (s *Store) PatchSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error) {
	if cols := patch.Columns(); len(cols) > 0 {
		if err := s.UpdateSessionState(ctx, id, cols); err != nil {
			return nil, err
		}
	}
	return s.GetSession(ctx, id)
}

// UpdateSessionState writes runtime columns (status, identity, counters...).
func (s *Store) UpdateSessionState(ctx context.Context, id string, cols map[string]any) error {
	res := s.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update session %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.SessionNotFound.Withf("session %s not found", id)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.Session{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.SessionNotFound.Withf("session %s not found", id)
	}
	return nil
}

// AppendMessageLog durably records one send or receipt.
func (s *Store) AppendMessageLog(ctx context.Context, entry *domain.MessageLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append message log: %w", err)
	}
	return nil
}

// MessageLogs returns the most recent entries of a session, newest first.
func (s *Store) MessageLogs(ctx context.Context, sessionID string, limit int) ([]domain.MessageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.MessageLog
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list message log: %w", err)
	}
	return out, nil
}
