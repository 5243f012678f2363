package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// JobRepository owns the job_queue table and the claim protocol around it.
// Every transition here is a conditional UPDATE checked via RowsAffected, so
// exactly one worker can win any race; losing a race is not an error.
type JobRepository struct {
	DB *sql.DB
}

const jobColumns = `id, campaign_id, worker_id, send_rate, status, visible_at, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.CampaignID, &j.WorkerID, &j.SendRate, &j.Status,
		&j.VisibleAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Create inserts a READY job. visibleAt nil means immediately claimable.
func (r *JobRepository) Create(ctx context.Context, campaignID, sendRate int, visibleAt *time.Time) (int, error) {
	query := `
        INSERT INTO job_queue (campaign_id, send_rate, status, visible_at, created_at, updated_at)
        VALUES ($1, $2, $3, COALESCE($4, now()), now(), now())
        RETURNING id
    `
	var id int
	err := r.DB.QueryRowContext(ctx, query, campaignID, sendRate, model.JobReady, visibleAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

// ClaimNext moves the oldest claimable READY job to ENQUEUED under this
// worker's ownership. The inner SELECT takes a row lock and skips jobs locked
// by concurrent claimers, so racing workers get disjoint jobs without
// blocking. Returns nil when nothing is claimable.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string) (*model.Job, error) {
	query := `
        UPDATE job_queue SET status=$2, worker_id=$3, updated_at=now()
        WHERE id = (
            SELECT j.id FROM job_queue j
            JOIN campaigns c ON c.id = j.campaign_id
            WHERE j.status=$1 AND j.visible_at <= now() AND NOT c.halted
            ORDER BY j.visible_at, j.id
            LIMIT 1
            FOR UPDATE OF j SKIP LOCKED
        )
        RETURNING ` + jobColumns
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, model.JobReady, model.JobEnqueued, workerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// Transition advances a job from one status to another, returning whether
// this caller won. Zero rows affected means someone else moved it first.
func (r *JobRepository) Transition(ctx context.Context, jobID int, from, to model.JobStatus) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE job_queue SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`,
		jobID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition job %d %s->%s: %w", jobID, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Status reads a job's current status.
func (r *JobRepository) Status(ctx context.Context, jobID int) (model.JobStatus, error) {
	var status model.JobStatus
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM job_queue WHERE id=$1`, jobID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("job %d status: %w", jobID, err)
	}
	return status, nil
}

// StopCampaign forces every non-LOGGED job of the campaign to STOPPED and
// raises the campaign's halted flag so no new claims or materializations
// happen. In-flight provider calls finish on their own and get reconciled.
// Idempotent: already-terminal jobs are untouched.
func (r *JobRepository) StopCampaign(ctx context.Context, campaignID int) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE job_queue SET status=$2, updated_at=now() WHERE campaign_id=$1 AND status <> $3`,
		campaignID, model.JobStopped, model.JobLogged)
	if err != nil {
		return 0, fmt.Errorf("stop campaign %d: %w", campaignID, err)
	}
	stopped, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET halted=true, updated_at=now() WHERE id=$1`, campaignID); err != nil {
		return 0, fmt.Errorf("halt campaign %d: %w", campaignID, err)
	}
	return stopped, tx.Commit()
}

// RetryCampaign resets every job of the campaign back to READY, but only if
// all of them are LOGGED. The NOT EXISTS guard makes the check and the reset
// one atomic statement, so a retry racing an in-flight job is a silent no-op.
func (r *JobRepository) RetryCampaign(ctx context.Context, campaignID int) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE job_queue SET status=$2, worker_id=NULL, visible_at=now(), updated_at=now()
        WHERE campaign_id=$1
          AND NOT EXISTS (
            SELECT 1 FROM job_queue WHERE campaign_id=$1 AND status <> $3
          )`,
		campaignID, model.JobReady, model.JobLogged)
	if err != nil {
		return false, fmt.Errorf("retry campaign %d: %w", campaignID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET halted=false, updated_at=now() WHERE id=$1`, campaignID); err != nil {
		return false, fmt.Errorf("unhalt campaign %d: %w", campaignID, err)
	}
	return true, tx.Commit()
}

// ResumeAbandoned releases every job still owned by the given worker identity
// back to READY. Run on worker startup so a crash under the same identity
// does not strand its jobs. Rows the dead worker had claimed into a working
// set age out through the reconciler's staleness threshold.
func (r *JobRepository) ResumeAbandoned(ctx context.Context, workerID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE job_queue SET status=$2, worker_id=NULL, updated_at=now()
        WHERE worker_id=$1 AND status IN ($3, $4)`,
		workerID, model.JobReady, model.JobEnqueued, model.JobSending)
	if err != nil {
		return 0, fmt.Errorf("resume abandoned jobs for %s: %w", workerID, err)
	}
	return res.RowsAffected()
}
