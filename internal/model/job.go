package model

import "time"

// JobStatus is the job queue state machine:
//
//	READY -> ENQUEUED -> SENDING -> {SENT | STOPPED} -> LOGGED
//
// STOPPED is reachable from any non-LOGGED state via the API. LOGGED is
// terminal until a campaign-wide retry resets every job to READY.
type JobStatus string

const (
	JobReady    JobStatus = "READY"
	JobEnqueued JobStatus = "ENQUEUED"
	JobSending  JobStatus = "SENDING"
	JobSent     JobStatus = "SENT"
	JobStopped  JobStatus = "STOPPED"
	JobLogged   JobStatus = "LOGGED"
)

// Job is one claimable unit of dispatch work for a campaign, bounded by a
// send-rate budget. At most one worker holds a job at any instant; the claim
// protocol enforces that through conditional updates, not memory.
type Job struct {
	ID         int       `db:"id" json:"id"`
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	WorkerID   *string   `db:"worker_id" json:"worker_id,omitempty"`
	SendRate   int       `db:"send_rate" json:"send_rate"`
	Status     JobStatus `db:"status" json:"status"`
	VisibleAt  time.Time `db:"visible_at" json:"visible_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
