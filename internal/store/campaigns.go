package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

var errAlreadyRecorded = errors.New("message already recorded")

// CreateCampaign stores a campaign and its queue in one transaction.
// Sequence numbers follow the order of msgs.
func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign, msgs []domain.CampaignMessage) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Total = len(msgs)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("create campaign: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		for i := range msgs {
			if msgs[i].ID == "" {
				msgs[i].ID = uuid.NewString()
			}
			msgs[i].CampaignID = c.ID
			msgs[i].Sequence = i
			msgs[i].Status = domain.MessagePending
		}
		if err := tx.CreateInBatches(msgs, 200).Error; err != nil {
			return fmt.Errorf("create campaign messages: %w", err)
		}
		return nil
	})
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if isNotFound(err) {
		return nil, apperr.CampaignNotFound.Withf("campaign %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	var out []domain.Campaign
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return out, nil
}

func (s *Store) ListCampaignsByStatus(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	var out []domain.Campaign
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	return out, nil
}

// DueScheduled returns scheduled campaigns whose start time has passed.
func (s *Store) DueScheduled(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	var out []domain.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", domain.CampaignScheduled, now).
		Order("scheduled_at asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	return out, nil
}

// TransitionCampaign moves a campaign to status `to` only if it is currently
// in one of `from`. It reports whether the row changed.
func (s *Store) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, extra map[string]any) (bool, error) {
	cols := map[string]any{"status": to}
	for k, v := range extra {
		cols[k] = v
	}
	res := s.db.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(cols)
	if res.Error != nil {
		return false, fmt.Errorf("transition campaign %s to %s: %w", id, to, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PatchCampaign edits a campaign that has not started yet.
func (s *Store) PatchCampaign(ctx context.Context, id string, patch domain.CampaignPatch) (*domain.Campaign, error) {
	cols := patch.Columns()
	if len(cols) > 0 {
		res := s.db.WithContext(ctx).
			Model(&domain.Campaign{}).
			Where("id = ? AND status IN ?", id, []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled}).
			Updates(cols)
		if res.Error != nil {
			return nil, fmt.Errorf("patch campaign: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			if _, err := s.GetCampaign(ctx, id); err != nil {
				return nil, err
			}
			return nil, apperr.CampaignBadState.Withf("campaign %s can only be edited before it starts", id)
		}
	}
	return s.GetCampaign(ctx, id)
}

// NextPendingMessage returns the oldest pending message, or nil when the
// queue is drained.
func (s *Store) NextPendingMessage(ctx context.Context, campaignID string) (*domain.CampaignMessage, error) {
	var m domain.CampaignMessage
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, domain.MessagePending).
		Order("sequence asc").
		First(&m).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending message: %w", err)
	}
	return &m, nil
}

// RecordMessageResult marks a pending message sent (sendErr == nil) or
// failed and bumps the matching campaign counter in the same transaction.
// A message that is no longer pending is left untouched and false is
// returned.
func (s *Store) RecordMessageResult(ctx context.Context, msgID, campaignID string, sendErr error) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		counter := "sent"
		cols := map[string]any{"status": domain.MessageSent, "sent_at": now}
		if sendErr != nil {
			counter = "failed"
			cols = map[string]any{"status": domain.MessageFailed, "failed_at": now, "error": sendErr.Error()}
		}

		res := tx.Model(&domain.CampaignMessage{}).
			Where("id = ? AND status = ?", msgID, domain.MessagePending).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyRecorded
		}

		return tx.Model(&domain.Campaign{}).
			Where("id = ?", campaignID).
			UpdateColumn(counter, gorm.Expr(counter+" + ?", 1)).Error
	})
	if errors.Is(err, errAlreadyRecorded) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record message %s: %w", msgID, err)
	}
	return true, nil
}

func (s *Store) ListCampaignMessages(ctx context.Context, campaignID string) ([]domain.CampaignMessage, error) {
	var out []domain.CampaignMessage
	err := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("sequence asc").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list campaign messages: %w", err)
	}
	return out, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if isNotFound(err) {
		return nil, apperr.TemplateNotFound.Withf("template %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}
