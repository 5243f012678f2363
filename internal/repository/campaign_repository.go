package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// CampaignRepository reads campaign rows. Campaigns are owned by the API
// layer; the pipeline only toggles halted, and that happens inside the
// stop/retry transactions in JobRepository.
type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `
        SELECT id, name, channel, base_template, halted, scheduled_at, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Channel, &c.BaseTemplate, &c.Halted,
		&c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}
