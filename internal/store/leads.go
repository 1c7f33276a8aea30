package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

var terminalStages = []domain.LeadStage{domain.StageCompleted, domain.StageCancelled}

// ActiveLead returns the open lead of a contact on a session, or nil.
func (s *Store) ActiveLead(ctx context.Context, sessionID, contact string) (*domain.SalesLead, error) {
	var lead domain.SalesLead
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND contact = ? AND stage NOT IN ?", sessionID, contact, terminalStages).
		First(&lead).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active lead: %w", err)
	}
	return &lead, nil
}

// OpenLead returns the open lead of the pair, creating one at the initial
// stage when none exists. Concurrent callers end up with the same row.
func (s *Store) OpenLead(ctx context.Context, sessionID, contact string) (*domain.SalesLead, bool, error) {
	if lead, err := s.ActiveLead(ctx, sessionID, contact); err != nil || lead != nil {
		return lead, false, err
	}

	lead := &domain.SalesLead{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Contact:   contact,
		Stage:     domain.StageInitial,
	}
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		// Lost a race against the unique open-lead index.
		existing, lookupErr := s.ActiveLead(ctx, sessionID, contact)
		if lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create lead: %w", err)
	}
	return lead, true, nil
}

// SaveLead writes every field of lead.
func (s *Store) SaveLead(ctx context.Context, lead *domain.SalesLead) error {
	if err := s.db.WithContext(ctx).Save(lead).Error; err != nil {
		return fmt.Errorf("save lead %s: %w", lead.ID, err)
	}
	return nil
}

func (s *Store) GetLead(ctx context.Context, id string) (*domain.SalesLead, error) {
	var lead domain.SalesLead
	err := s.db.WithContext(ctx).First(&lead, "id = ?", id).Error
	if isNotFound(err) {
		return nil, apperr.LeadNotFound.Withf("lead %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &lead, nil
}

// ListLeads returns leads, optionally filtered by session and stage.
func (s *Store) ListLeads(ctx context.Context, sessionID string, stage domain.LeadStage) ([]domain.SalesLead, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if stage != "" {
		q = q.Where("stage = ?", stage)
	}
	var out []domain.SalesLead
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return out, nil
}

func (s *Store) PatchLead(ctx context.Context, id string, patch domain.LeadPatch) (*domain.SalesLead, error) {
	if cols := patch.Columns(); len(cols) > 0 {
		res := s.db.WithContext(ctx).Model(&domain.SalesLead{}).Where("id = ?", id).Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("patch lead: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperr.LeadNotFound.Withf("lead %s not found", id)
		}
	}
	return s.GetLead(ctx, id)
}
