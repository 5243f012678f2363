package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// StaleDispatchCode marks rows that were force-settled because their provider
// response never arrived within the staleness threshold.
const StaleDispatchCode = "STALE_DISPATCH"

// ReconcileRepository archives finished jobs: it merges a job's working set
// back into the durable message rows, deletes the ops, refreshes statistics
// and marks the job LOGGED, all in one transaction.
type ReconcileRepository struct {
	DB *sql.DB
}

type reconcileCandidate struct {
	jobID      int
	campaignID int
	channel    model.Channel
}

// ReconcileNext picks one settled SENT or STOPPED job and archives it.
// Candidates are locked with SKIP LOCKED so concurrent reconcilers never
// double-process a job; a second run after LOGGED finds nothing to do.
// Returns nil when no job is ready.
//
// A job is settled when no op row is still SENDING with a dispatch timestamp,
// or when the newest such timestamp is older than staleAfter. In the forced
// case the stuck rows are written off as ERROR/STALE_DISPATCH so the
// recipients become retryable instead of wedging the queue.
func (r *ReconcileRepository) ReconcileNext(ctx context.Context, staleAfter time.Duration) (*model.ReconcileOutcome, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	candidates, err := r.candidates(ctx, tx)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		settled, forced, err := r.settled(ctx, tx, cand, staleAfter)
		if err != nil {
			return nil, err
		}
		if !settled {
			continue
		}

		merged, err := r.merge(ctx, tx, cand, forced)
		if err != nil {
			return nil, err
		}
		if err := r.finish(ctx, tx, cand); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &model.ReconcileOutcome{
			JobID:      cand.jobID,
			CampaignID: cand.campaignID,
			Channel:    cand.channel,
			Merged:     merged,
			Forced:     forced,
		}, nil
	}
	return nil, nil
}

func (r *ReconcileRepository) candidates(ctx context.Context, tx *sql.Tx) ([]reconcileCandidate, error) {
	rows, err := tx.QueryContext(ctx, `
        SELECT j.id, j.campaign_id, c.channel
        FROM job_queue j
        JOIN campaigns c ON c.id = j.campaign_id
        WHERE j.status IN ($1, $2)
        ORDER BY j.updated_at, j.id
        LIMIT 5
        FOR UPDATE OF j SKIP LOCKED`,
		model.JobSent, model.JobStopped)
	if err != nil {
		return nil, fmt.Errorf("select reconcile candidates: %w", err)
	}
	defer rows.Close()

	var out []reconcileCandidate
	for rows.Next() {
		var c reconcileCandidate
		if err := rows.Scan(&c.jobID, &c.campaignID, &c.channel); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ReconcileRepository) settled(ctx context.Context, tx *sql.Tx, cand reconcileCandidate, staleAfter time.Duration) (settled, forced bool, err error) {
	ops, err := opsTable(cand.channel)
	if err != nil {
		return false, false, err
	}

	var inFlight int
	var stale bool
	query := fmt.Sprintf(`
        SELECT count(*) FILTER (WHERE status=$2 AND sent_at IS NOT NULL),
               COALESCE(max(sent_at) FILTER (WHERE status=$2), 'epoch'::timestamptz)
                   < now() - make_interval(secs => $3)
        FROM %s WHERE campaign_id=$1`, ops)
	err = tx.QueryRowContext(ctx, query, cand.campaignID, model.StatusSending, staleAfter.Seconds()).
		Scan(&inFlight, &stale)
	if err != nil {
		return false, false, fmt.Errorf("settled check for campaign %d: %w", cand.campaignID, err)
	}
	if inFlight == 0 {
		return true, false, nil
	}
	return stale, stale, nil
}

// merge applies the "most authoritative field wins" rule. A delivery-receipt
// callback may have finalized the message row already, so an existing value
// on the message wins for status, message_id, error_code and received_at.
// sent_at and delivered_at always take the op's value: the working set holds
// the pipeline's own most recent write for those. dequeued_at is cleared so
// the row becomes eligible for a future retry.
func (r *ReconcileRepository) merge(ctx context.Context, tx *sql.Tx, cand reconcileCandidate, forced bool) (int64, error) {
	msgs, err := messagesTable(cand.channel)
	if err != nil {
		return 0, err
	}
	ops, err := opsTable(cand.channel)
	if err != nil {
		return 0, err
	}

	staleCode := sql.NullString{}
	if forced {
		staleCode = sql.NullString{String: StaleDispatchCode, Valid: true}
	}

	query := fmt.Sprintf(`
        UPDATE %s m SET
            status = CASE
                WHEN m.status IN ($2, $3, $4) THEN m.status
                WHEN o.status = $5 THEN $3
                ELSE o.status
            END,
            message_id   = COALESCE(m.message_id, o.message_id),
            error_code   = COALESCE(m.error_code, o.error_code,
                               CASE WHEN o.status = $5 THEN $6 END),
            sent_at      = o.sent_at,
            delivered_at = o.delivered_at,
            received_at  = COALESCE(m.received_at, o.received_at),
            dequeued_at  = NULL
        FROM %s o
        WHERE m.campaign_id=$1 AND o.campaign_id=$1 AND o.id = m.id`,
		msgs, ops)

	res, err := tx.ExecContext(ctx, query, cand.campaignID,
		model.StatusSuccess, model.StatusError, model.StatusInvalid,
		model.StatusSending, staleCode)
	if err != nil {
		return 0, fmt.Errorf("merge working set for campaign %d: %w", cand.campaignID, err)
	}
	merged, _ := res.RowsAffected()

	delQuery := fmt.Sprintf(`DELETE FROM %s WHERE campaign_id=$1`, ops)
	if _, err := tx.ExecContext(ctx, delQuery, cand.campaignID); err != nil {
		return 0, fmt.Errorf("delete working set for campaign %d: %w", cand.campaignID, err)
	}
	return merged, nil
}

func (r *ReconcileRepository) finish(ctx context.Context, tx *sql.Tx, cand reconcileCandidate) error {
	msgs, err := messagesTable(cand.channel)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, statsUpsertSQL(msgs),
		cand.campaignID, model.StatusSuccess, model.StatusError, model.StatusInvalid); err != nil {
		return fmt.Errorf("upsert statistics for campaign %d: %w", cand.campaignID, err)
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE job_queue SET status=$2, worker_id=NULL, updated_at=now()
        WHERE id=$1 AND status IN ($3, $4)`,
		cand.jobID, model.JobLogged, model.JobSent, model.JobStopped); err != nil {
		return fmt.Errorf("log job %d: %w", cand.jobID, err)
	}
	return nil
}
