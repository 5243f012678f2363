package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// StatisticsRepository owns the statistics rollup cache.
type StatisticsRepository struct {
	DB *sql.DB
}

// statsUpsertSQL recomputes the per-status buckets from a messages table and
// upserts them. Shared with the reconciler, which runs it inside its own tx.
// Buckets: sent=SUCCESS, errored=ERROR, invalid=INVALID_RECIPIENT, and
// everything else counts as unsent.
func statsUpsertSQL(msgsTable string) string {
	return fmt.Sprintf(`
        INSERT INTO statistics (campaign_id, unsent, errored, sent, invalid, updated_at)
        SELECT $1,
               count(*) FILTER (WHERE status NOT IN ($2, $3, $4)),
               count(*) FILTER (WHERE status = $3),
               count(*) FILTER (WHERE status = $2),
               count(*) FILTER (WHERE status = $4),
               now()
        FROM %s WHERE campaign_id=$1
        ON CONFLICT (campaign_id) DO UPDATE
        SET unsent=EXCLUDED.unsent, errored=EXCLUDED.errored,
            sent=EXCLUDED.sent, invalid=EXCLUDED.invalid, updated_at=EXCLUDED.updated_at`,
		msgsTable)
}

// Refresh recomputes and upserts the campaign's counters. Used by the receipt
// path when a callback lands after reconciliation already merged the row.
func (r *StatisticsRepository) Refresh(ctx context.Context, ch model.Channel, campaignID int) error {
	msgs, err := messagesTable(ch)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, statsUpsertSQL(msgs),
		campaignID, model.StatusSuccess, model.StatusError, model.StatusInvalid)
	if err != nil {
		return fmt.Errorf("refresh statistics for campaign %d: %w", campaignID, err)
	}
	return nil
}

// Get returns the campaign's counters, or nil if nothing was rolled up yet.
func (r *StatisticsRepository) Get(ctx context.Context, campaignID int) (*model.Statistics, error) {
	var s model.Statistics
	err := r.DB.QueryRowContext(ctx, `
        SELECT campaign_id, unsent, errored, sent, invalid, updated_at
        FROM statistics WHERE campaign_id=$1`, campaignID).
		Scan(&s.CampaignID, &s.Unsent, &s.Errored, &s.Sent, &s.Invalid, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get statistics for campaign %d: %w", campaignID, err)
	}
	return &s, nil
}
