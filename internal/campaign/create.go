package campaign

import (
	"context"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const (
	DefaultIntervalMin = 3
	DefaultIntervalMax = 10
	maxRecipients      = 10000
)

type Recipient struct {
	Contact   string            `json:"contact"`
	Name      string            `json:"name,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type CreateInput struct {
	Name        string           `json:"name"`
	SessionID   string           `json:"session_id"`
	TemplateID  *string          `json:"template_id,omitempty"`
	Body        string           `json:"body"`
	MediaURL    string           `json:"media_url,omitempty"`
	Recipients  []Recipient      `json:"recipients"`
	IntervalMin int              `json:"interval_min"`
	IntervalMax int              `json:"interval_max"`
	RiskLevel   domain.RiskLevel `json:"risk_level"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty"`
}

var riskLevels = []any{domain.RiskLow, domain.RiskMedium, domain.RiskHigh}

func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.SessionID, validation.Required),
		validation.Field(&in.Body, validation.When(in.TemplateID == nil, validation.Required)),
		validation.Field(&in.Recipients, validation.Required, validation.Length(1, maxRecipients)),
		validation.Field(&in.IntervalMin, validation.Min(0)),
		validation.Field(&in.IntervalMax, validation.Min(in.IntervalMin)),
		validation.Field(&in.RiskLevel, validation.In(riskLevels...)),
	)
}

func validatePatch(p domain.CampaignPatch) error {
	if p.Name.Set {
		if err := validation.Validate(p.Name.Value, validation.Required, validation.Length(1, 200)); err != nil {
			return apperr.Validation("invalid name: %v", err)
		}
	}
	if p.IntervalMin.Set && p.IntervalMin.Value < 0 {
		return apperr.Validation("interval_min must not be negative")
	}
	if p.IntervalMin.Set && p.IntervalMax.Set && p.IntervalMax.Value < p.IntervalMin.Value {
		return apperr.Validation("interval_max must be at least interval_min")
	}
	if p.RiskLevel.Set {
		if err := validation.Validate(p.RiskLevel.Value, validation.Required, validation.In(riskLevels...)); err != nil {
			return apperr.Validation("invalid risk_level: %v", err)
		}
	}
	return nil
}

// Create builds a campaign and its queue. Bodies are rendered per recipient
// and contacts normalized; duplicate contacts are queued once.
func (d *Dispatcher) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Validation("invalid campaign: %v", err)
	}
	if _, err := d.sessions.Get(ctx, in.SessionID); err != nil {
		return nil, err
	}

	body, mediaURL := in.Body, in.MediaURL
	if in.TemplateID != nil {
		tpl, err := d.repo.GetTemplate(ctx, *in.TemplateID)
		if err != nil {
			return nil, err
		}
		if body == "" {
			body = tpl.Content
		}
		if mediaURL == "" {
			mediaURL = tpl.MediaURL
		}
	}

	seen := make(map[string]struct{}, len(in.Recipients))
	msgs := make([]domain.CampaignMessage, 0, len(in.Recipients))
	for i, r := range in.Recipients {
		contact := domain.NormalizePhone(r.Contact)
		if contact == "" {
			return nil, apperr.Validation("recipient %d: invalid contact %q", i, r.Contact)
		}
		if _, dup := seen[contact]; dup {
			continue
		}
		seen[contact] = struct{}{}
		msgs = append(msgs, domain.CampaignMessage{
			Contact:  contact,
			Name:     r.Name,
			Body:     Render(body, r),
			MediaURL: mediaURL,
		})
	}

	c := &domain.Campaign{
		Name:        in.Name,
		SessionID:   in.SessionID,
		TemplateID:  in.TemplateID,
		Status:      domain.CampaignDraft,
		IntervalMin: in.IntervalMin,
		IntervalMax: in.IntervalMax,
		RiskLevel:   in.RiskLevel,
		ScheduledAt: in.ScheduledAt,
	}
	if c.IntervalMin == 0 && c.IntervalMax == 0 {
		c.IntervalMin, c.IntervalMax = DefaultIntervalMin, DefaultIntervalMax
	}
	if c.RiskLevel == "" {
		c.RiskLevel = domain.RiskMedium
	}
	if c.ScheduledAt != nil {
		c.Status = domain.CampaignScheduled
	}

	if err := d.repo.CreateCampaign(ctx, c, msgs); err != nil {
		return nil, err
	}
	d.log.WithField("campaign", c.ID).Infof("[Campaign] Created %s with %d messages (%s)", c.Name, c.Total, c.Status)
	return c, nil
}

type TemplateInput struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	MediaURL string `json:"media_url,omitempty"`
}

func (d *Dispatcher) CreateTemplate(ctx context.Context, in TemplateInput) (*domain.Template, error) {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Content, validation.Required),
	)
	if err != nil {
		return nil, apperr.Validation("invalid template: %v", err)
	}
	t := &domain.Template{Name: in.Name, Content: in.Content, MediaURL: in.MediaURL}
	if err := d.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Dispatcher) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return d.repo.GetTemplate(ctx, id)
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render replaces {{key}} with the recipient's variables. {{name}} falls
// back to the recipient name. Unknown keys are left untouched.
func Render(body string, r Recipient) string {
	return placeholder.ReplaceAllStringFunc(body, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := r.Variables[key]; ok {
			return v
		}
		if strings.EqualFold(key, "name") && r.Name != "" {
			return r.Name
		}
		return m
	})
}
