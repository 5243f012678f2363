package service

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// ReconcileStore archives one settled job per call; nil means none ready.
type ReconcileStore interface {
	ReconcileNext(ctx context.Context, staleAfter time.Duration) (*model.ReconcileOutcome, error)
}

// Reconciler periodically merges finished jobs' working sets back into the
// message store. Several reconciler instances may run; the store's
// lock-skipping candidate selection keeps them off each other's jobs.
type Reconciler struct {
	Store      ReconcileStore
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     zerolog.Logger
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.Logger.Error().Err(err).Msg("reconcile")
			}
		}
	}
}

// Drain reconciles until no settled job remains, returning how many jobs
// were archived.
func (r *Reconciler) Drain(ctx context.Context) (int, error) {
	done := 0
	for {
		outcome, err := r.Store.ReconcileNext(ctx, r.StaleAfter)
		if err != nil {
			return done, err
		}
		if outcome == nil {
			return done, nil
		}
		done++
		metrics.JobsReconciled.WithLabelValues(strconv.FormatBool(outcome.Forced)).Inc()
		r.Logger.Info().
			Int("job", outcome.JobID).
			Int("campaign", outcome.CampaignID).
			Str("channel", string(outcome.Channel)).
			Int64("merged", outcome.Merged).
			Bool("forced", outcome.Forced).
			Msg("job logged")
	}
}
