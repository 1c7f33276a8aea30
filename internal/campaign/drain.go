package campaign

import (
	"context"
	"time"

	"github.com/whatsapp-automation/orchestrator/internal/antiban"
	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const queueRetryInterval = 5 * time.Second

// drain sends the campaign's pending messages in sequence order until the
// queue is empty or the campaign leaves the running status.
func (d *Dispatcher) drain(id string, token uint64) {
	defer d.wg.Done()
	defer d.release(id, token)

	ctx := d.ctx
	log := d.log.WithField("campaign", id)

	for {
		c, ok := d.proceed(ctx, id, token)
		if !ok {
			return
		}

		msg, err := d.repo.NextPendingMessage(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("[Campaign] Failed to read queue")
			if d.opts.Sleep(ctx, queueRetryInterval) != nil {
				return
			}
			continue
		}
		if msg == nil {
			d.complete(ctx, c, token)
			return
		}

		sendErr := d.deliver(ctx, c, msg)
		if sendErr != nil && ctx.Err() != nil {
			// Interrupted by shutdown: the message stays pending.
			return
		}
		if _, err := d.repo.RecordMessageResult(ctx, msg.ID, id, sendErr); err != nil {
			log.WithError(err).Errorf("[Campaign] Failed to record message %s", msg.ID)
		}
		if sendErr != nil {
			log.WithError(sendErr).Warnf("[Campaign] ❌ #%d to %s failed", msg.Sequence, msg.Contact)
		} else {
			log.Debugf("[Campaign] ✅ #%d sent to %s", msg.Sequence, msg.Contact)
		}

		delay := antiban.CampaignDelay(d.opts.Rand, c.IntervalMin, c.IntervalMax, c.RiskLevel)
		if err := d.opts.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// proceed re-reads the campaign and decides, under mu, whether this loop
// still owns it.
func (d *Dispatcher) proceed(ctx context.Context, id string, token uint64) (*domain.Campaign, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[id] != token {
		return nil, false
	}
	c, err := d.repo.GetCampaign(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			d.log.WithError(err).WithField("campaign", id).Error("[Campaign] Failed to reload campaign")
		}
		return nil, false
	}
	if c.Status != domain.CampaignRunning {
		d.log.WithField("campaign", id).Infof("[Campaign] Loop exits, campaign is %s", c.Status)
		return nil, false
	}
	return c, true
}

func (d *Dispatcher) release(id string, token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[id] == token {
		delete(d.running, id)
	}
}

// deliver sends one message. A disconnected session fails the message like
// any other send error; the campaign keeps running.
func (d *Dispatcher) deliver(ctx context.Context, c *domain.Campaign, msg *domain.CampaignMessage) error {
	var media *domain.Media
	if msg.MediaURL != "" && d.media != nil {
		m, err := d.media.Resolve(ctx, msg.MediaURL)
		if err != nil {
			return err
		}
		media = m
	}
	return d.sessions.Send(ctx, c.SessionID, msg.Contact, msg.Body, media)
}

// complete marks a drained campaign completed, only if it is still running.
func (d *Dispatcher) complete(ctx context.Context, c *domain.Campaign, token uint64) {
	d.mu.Lock()
	if d.running[c.ID] != token {
		d.mu.Unlock()
		return
	}
	now := d.now()
	ok, err := d.repo.TransitionCampaign(ctx, c.ID, []domain.CampaignStatus{domain.CampaignRunning}, domain.CampaignCompleted, map[string]any{"completed_at": now})
	d.mu.Unlock()
	if err != nil {
		d.log.WithError(err).WithField("campaign", c.ID).Error("[Campaign] Failed to complete")
		return
	}
	if !ok {
		return
	}

	final, err := d.repo.GetCampaign(ctx, c.ID)
	if err != nil {
		final = c
	}
	var took time.Duration
	if final.StartedAt != nil {
		took = now.Sub(*final.StartedAt)
	}
	d.log.WithField("campaign", c.ID).Infof("[Campaign] 🏁 %s completed: %d sent, %d failed", final.Name, final.Sent, final.Failed)
	if d.notify != nil {
		d.notify.CampaignDone(final.Name, final.Sent, final.Failed, took)
	}
}
