package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// TriggerJobStore is what the trigger API needs from the job queue.
type TriggerJobStore interface {
	Create(ctx context.Context, campaignID, sendRate int, visibleAt *time.Time) (int, error)
	StopCampaign(ctx context.Context, campaignID int) (int64, error)
	RetryCampaign(ctx context.Context, campaignID int) (bool, error)
}

// Nudger wakes idle workers after new jobs appear. Optional: nil degrades to
// the workers' poll interval.
type Nudger interface {
	Publish(campaignID int) error
}

// Trigger implements the thin dispatch/stop/retry surface over the job
// queue. It never touches job state after creation; that belongs to workers
// and the reconciler.
type Trigger struct {
	Jobs       TriggerJobStore
	Campaigns  CampaignStore
	MaxJobRate int
	Nudge      Nudger
	Logger     zerolog.Logger
}

// Dispatch slices the requested aggregate rate into jobs of at most
// MaxJobRate each, so no single job exceeds a provider-safe budget while the
// campaign still reaches the full rate across workers. A future scheduled_at
// on the campaign becomes the jobs' visible_at.
func (t *Trigger) Dispatch(ctx context.Context, campaignID, sendRate int) ([]int, error) {
	if sendRate <= 0 {
		return nil, appErrors.NewInvalidRate(sendRate)
	}

	campaign, err := t.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var visibleAt *time.Time
	if campaign.ScheduledAt != nil && campaign.ScheduledAt.After(time.Now()) {
		visibleAt = campaign.ScheduledAt
	}

	var jobIDs []int
	for remaining := sendRate; remaining > 0; remaining -= t.MaxJobRate {
		slice := remaining
		if slice > t.MaxJobRate {
			slice = t.MaxJobRate
		}
		id, err := t.Jobs.Create(ctx, campaignID, slice, visibleAt)
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, id)
	}

	if t.Nudge != nil {
		if err := t.Nudge.Publish(campaignID); err != nil {
			t.Logger.Warn().Err(err).Msg("nudge publish failed, workers will poll")
		}
	}

	t.Logger.Info().Int("campaign", campaignID).Int("rate", sendRate).
		Ints("jobs", jobIDs).Msg("dispatch triggered")
	return jobIDs, nil
}

// Stop halts the campaign and forces its non-LOGGED jobs to STOPPED.
func (t *Trigger) Stop(ctx context.Context, campaignID int) error {
	stopped, err := t.Jobs.StopCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	t.Logger.Info().Int("campaign", campaignID).Int64("jobs", stopped).Msg("campaign stopped")
	return nil
}

// Retry resets the campaign's jobs to READY, but only when every job is
// LOGGED. Anything still in flight makes it a silent no-op; callers wanting
// confirmation poll job status.
func (t *Trigger) Retry(ctx context.Context, campaignID int) (bool, error) {
	reset, err := t.Jobs.RetryCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if reset && t.Nudge != nil {
		if err := t.Nudge.Publish(campaignID); err != nil {
			t.Logger.Warn().Err(err).Msg("nudge publish failed, workers will poll")
		}
	}
	t.Logger.Info().Int("campaign", campaignID).Bool("reset", reset).Msg("campaign retry")
	return reset, nil
}
