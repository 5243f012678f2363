package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
)

// JobStore is what the dispatcher needs from the job queue.
type JobStore interface {
	ClaimNext(ctx context.Context, workerID string) (*model.Job, error)
	Transition(ctx context.Context, jobID int, from, to model.JobStatus) (bool, error)
	Status(ctx context.Context, jobID int) (model.JobStatus, error)
	ResumeAbandoned(ctx context.Context, workerID string) (int64, error)
}

// MessageStore is what the dispatcher needs from the working set.
type MessageStore interface {
	Materialize(ctx context.Context, ch model.Channel, campaignID int) (int64, error)
	ClaimBatch(ctx context.Context, ch model.Channel, campaignID, limit int) ([]model.Message, error)
	FinishOp(ctx context.Context, ch model.Channel, opID int64, status model.MessageStatus, providerMessageID, errorCode *string) error
}

// CampaignStore resolves a job's campaign.
type CampaignStore interface {
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
}

// Dispatcher is the worker loop: poll for a READY job, win the claim,
// materialize the working set, then drain lock-skipping batches through the
// channel's sender under the job's rate budget. All coordination with other
// worker processes goes through the store's atomic primitives.
type Dispatcher struct {
	WorkerID  string
	Jobs      JobStore
	Messages  MessageStore
	Campaigns CampaignStore
	Senders   *provider.Registry

	BatchSize    int
	PollInterval time.Duration
	Nudge        <-chan struct{}
	Logger       zerolog.Logger
}

// Run polls until the context ends. An empty poll waits out the poll
// interval unless a nudge arrives first.
func (d *Dispatcher) Run(ctx context.Context) error {
	if n, err := d.Jobs.ResumeAbandoned(ctx, d.WorkerID); err != nil {
		d.Logger.Error().Err(err).Msg("resume abandoned jobs")
	} else if n > 0 {
		d.Logger.Info().Int64("jobs", n).Msg("released abandoned jobs")
	}

	for {
		claimed, err := d.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.Logger.Error().Err(err).Msg("process job")
		}
		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.Nudge:
		case <-time.After(d.PollInterval):
		}
	}
}

// ProcessNext claims and fully drains at most one job. Returns whether a job
// was claimed, so callers know to poll again immediately.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	job, err := d.Jobs.ClaimNext(ctx, d.WorkerID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	metrics.JobsClaimed.Inc()
	log := d.Logger.With().Int("job", job.ID).Int("campaign", job.CampaignID).Logger()
	log.Info().Int("rate", job.SendRate).Msg("claimed job")

	if err := d.runJob(ctx, job, log); err != nil {
		// The job stays wherever it got to; recovery and the reconciler's
		// staleness threshold pick up whatever was left dangling.
		return true, err
	}
	return true, nil
}

func (d *Dispatcher) runJob(ctx context.Context, job *model.Job, log zerolog.Logger) error {
	campaign, err := d.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		// Release so another worker can retry once the campaign resolves.
		_, _ = d.Jobs.Transition(ctx, job.ID, model.JobEnqueued, model.JobReady)
		return err
	}
	if campaign.Halted {
		_, _ = d.Jobs.Transition(ctx, job.ID, model.JobEnqueued, model.JobStopped)
		return nil
	}

	// A stop landing between the claim and here wins: the job is already
	// STOPPED and this transition loses, before any working set exists.
	ok, err := d.Jobs.Transition(ctx, job.ID, model.JobEnqueued, model.JobSending)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Msg("lost job before sending, moving on")
		return nil
	}

	n, err := d.Messages.Materialize(ctx, campaign.Channel, job.CampaignID)
	if err != nil {
		return err
	}
	log.Info().Int64("rows", n).Msg("materialized working set")

	sender := d.Senders.For(campaign.Channel)
	limiter := rate.NewLimiter(rate.Limit(job.SendRate), job.SendRate)

	for {
		// Re-check between rounds so a stop stops new claims promptly.
		status, err := d.Jobs.Status(ctx, job.ID)
		if err != nil {
			return err
		}
		if status != model.JobSending {
			log.Info().Str("status", string(status)).Msg("job no longer sending, leaving it to the reconciler")
			return nil
		}

		batch, err := d.Messages.ClaimBatch(ctx, campaign.Channel, job.CampaignID, d.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			// Working set exhausted. Only still-SENDING jobs advance; a
			// concurrent stop keeps its STOPPED status.
			if ok, err := d.Jobs.Transition(ctx, job.ID, model.JobSending, model.JobSent); err != nil {
				return err
			} else if ok {
				log.Info().Msg("job sent")
			}
			return nil
		}

		for _, op := range batch {
			if err := d.dispatchOne(ctx, campaign, sender, limiter, op); err != nil {
				return err
			}
		}
	}
}

// dispatchOne sends a single claimed row and writes the outcome back to that
// row. Provider failures are terminal for this attempt; they become
// retryable again only through a campaign retry after reconciliation clears
// dequeued_at.
func (d *Dispatcher) dispatchOne(ctx context.Context, campaign *model.Campaign, sender provider.Sender, limiter *rate.Limiter, op model.Message) error {
	ch := campaign.Channel

	if err := ValidateRecipient(ch, op.Recipient); err != nil {
		code := "INVALID_RECIPIENT"
		metrics.MessagesDispatched.WithLabelValues(string(ch), string(model.StatusInvalid)).Inc()
		return d.Messages.FinishOp(ctx, ch, op.ID, model.StatusInvalid, nil, &code)
	}

	if sender == nil {
		code := "NO_PROVIDER"
		metrics.MessagesDispatched.WithLabelValues(string(ch), string(model.StatusError)).Inc()
		return d.Messages.FinishOp(ctx, ch, op.ID, model.StatusError, nil, &code)
	}

	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	body := RenderTemplate(campaign.BaseTemplate, op.Params)
	providerID, err := sender.Send(ctx, op.Recipient, body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		code := provider.ErrorCode(err)
		d.Logger.Warn().Err(err).Str("recipient", op.Recipient).Msg("send failed")
		metrics.MessagesDispatched.WithLabelValues(string(ch), string(model.StatusError)).Inc()
		return d.Messages.FinishOp(ctx, ch, op.ID, model.StatusError, nil, &code)
	}

	metrics.MessagesDispatched.WithLabelValues(string(ch), string(model.StatusSuccess)).Inc()
	return d.Messages.FinishOp(ctx, ch, op.ID, model.StatusSuccess, &providerID, nil)
}
