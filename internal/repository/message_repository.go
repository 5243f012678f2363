package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Per-channel table names. Channel values reach this package from campaign
// rows and URL paths, so the lookup is a hard whitelist before any string
// ends up in SQL.
func messagesTable(ch model.Channel) (string, error) {
	if !ch.Valid() {
		return "", appErrors.NewUnknownChannel(string(ch))
	}
	return string(ch) + "_messages", nil
}

func opsTable(ch model.Channel) (string, error) {
	if !ch.Valid() {
		return "", appErrors.NewUnknownChannel(string(ch))
	}
	return string(ch) + "_ops", nil
}

// MessageRepository owns the per-channel <channel>_messages and <channel>_ops
// tables: working-set materialization, lock-skipping batch claims, per-row
// write-back, and receipt application.
type MessageRepository struct {
	DB *sql.DB
}

// Materialize copies every still-pending message of the campaign into the
// channel's ops table, stamping dequeued_at and clearing leftovers from prior
// attempts. Only rows with dequeued_at IS NULL and an unsent or errored
// status are picked, so a partially-completed retry re-selects just what is
// outstanding. One statement, so stamping and copying cannot diverge.
func (r *MessageRepository) Materialize(ctx context.Context, ch model.Channel, campaignID int) (int64, error) {
	msgs, err := messagesTable(ch)
	if err != nil {
		return 0, err
	}
	ops, err := opsTable(ch)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
        WITH picked AS (
            SELECT id FROM %s
            WHERE campaign_id=$1 AND dequeued_at IS NULL AND status IN ($2, $3)
            FOR UPDATE SKIP LOCKED
        ), stamped AS (
            UPDATE %s m
            SET dequeued_at=now(), status=$2, message_id=NULL, error_code=NULL,
                sent_at=NULL, delivered_at=NULL, received_at=NULL
            WHERE m.id IN (SELECT id FROM picked)
            RETURNING m.id, m.campaign_id, m.recipient, m.params
        )
        INSERT INTO %s (id, campaign_id, recipient, params, status, dequeued_at)
        SELECT id, campaign_id, recipient, params, $2, now() FROM stamped`,
		msgs, msgs, ops)

	res, err := r.DB.ExecContext(ctx, query, campaignID, model.StatusUnsent, model.StatusError)
	if err != nil {
		return 0, fmt.Errorf("materialize working set for campaign %d: %w", campaignID, err)
	}
	return res.RowsAffected()
}

// ClaimBatch takes up to limit unclaimed ops rows for the campaign, marks
// them SENDING with a dispatch timestamp, and returns them. SKIP LOCKED lets
// several loops drain the same working set in parallel with no overlap and
// no blocking. Zero rows means the working set is exhausted.
func (r *MessageRepository) ClaimBatch(ctx context.Context, ch model.Channel, campaignID, limit int) ([]model.Message, error) {
	ops, err := opsTable(ch)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
        UPDATE %s o SET status=$3, sent_at=now()
        WHERE o.id IN (
            SELECT id FROM %s
            WHERE campaign_id=$1 AND status=$4
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING o.id, o.campaign_id, o.recipient, o.params, o.status, o.sent_at`,
		ops, ops)

	rows, err := r.DB.QueryContext(ctx, query, campaignID, limit, model.StatusSending, model.StatusUnsent)
	if err != nil {
		return nil, fmt.Errorf("claim batch for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	batch := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.CampaignID, &m.Recipient, &m.Params, &m.Status, &m.SentAt); err != nil {
			return nil, err
		}
		batch = append(batch, m)
	}
	return batch, rows.Err()
}

// FinishOp writes one dispatch result back to the op row that was claimed.
// The status=SENDING guard keeps a late provider response from resurrecting
// a row the reconciler already force-settled.
func (r *MessageRepository) FinishOp(ctx context.Context, ch model.Channel, opID int64, status model.MessageStatus, providerMessageID, errorCode *string) error {
	ops, err := opsTable(ch)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		`UPDATE %s SET status=$2, message_id=$3, error_code=$4 WHERE id=$1 AND status=$5`, ops)
	_, err = r.DB.ExecContext(ctx, query, opID, status, providerMessageID, errorCode, model.StatusSending)
	if err != nil {
		return fmt.Errorf("finish op %d: %w", opID, err)
	}
	return nil
}

// Receipt is a delivery-receipt callback payload, keyed by the provider's
// message id.
type Receipt struct {
	ProviderMessageID string
	Status            model.MessageStatus
	ErrorCode         *string
	DeliveredAt       *time.Time
	ReceivedAt        *time.Time
}

// ApplyReceipt writes a delivery receipt onto the op row while the recipient
// is in flight, falling back to the durable message row afterwards. Receipts
// set absolute values keyed by provider message id, so re-delivery of the
// same receipt is a no-op in effect. Returns which table was hit ("op",
// "message" or "none") plus the campaign so callers can refresh statistics.
func (r *MessageRepository) ApplyReceipt(ctx context.Context, ch model.Channel, rcpt Receipt) (string, int, error) {
	ops, err := opsTable(ch)
	if err != nil {
		return "", 0, err
	}
	msgs, err := messagesTable(ch)
	if err != nil {
		return "", 0, err
	}

	set := `SET status=$2, error_code=COALESCE($3, error_code),
            delivered_at=COALESCE($4, delivered_at), received_at=COALESCE($5, received_at)`
	args := []interface{}{rcpt.ProviderMessageID, rcpt.Status, rcpt.ErrorCode, rcpt.DeliveredAt, rcpt.ReceivedAt}

	var campaignID int
	err = r.DB.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s %s WHERE message_id=$1 RETURNING campaign_id`, ops, set),
		args...).Scan(&campaignID)
	if err == nil {
		return "op", campaignID, nil
	}
	if err != sql.ErrNoRows {
		return "", 0, fmt.Errorf("apply receipt to ops: %w", err)
	}

	err = r.DB.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s %s WHERE message_id=$1 RETURNING campaign_id`, msgs, set),
		args...).Scan(&campaignID)
	if err == sql.ErrNoRows {
		return "none", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("apply receipt to messages: %w", err)
	}
	return "message", campaignID, nil
}
