package model

import "time"

// Statistics is the per-campaign rollup cache. It is always recomputable from
// the channel's messages table and never the source of truth.
type Statistics struct {
	CampaignID int       `db:"campaign_id" json:"campaign_id"`
	Unsent     int       `db:"unsent" json:"unsent"`
	Errored    int       `db:"errored" json:"errored"`
	Sent       int       `db:"sent" json:"sent"`
	Invalid    int       `db:"invalid" json:"invalid"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

func (s Statistics) Total() int {
	return s.Unsent + s.Errored + s.Sent + s.Invalid
}

// ReconcileOutcome describes one job the reconciler archived.
type ReconcileOutcome struct {
	JobID      int
	CampaignID int
	Channel    Channel
	Merged     int64
	Forced     bool
}
