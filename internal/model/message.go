package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MessageStatus tracks a single recipient row. The empty string means the row
// has never been dispatched (or was reset for a retry).
type MessageStatus string

const (
	StatusUnsent  MessageStatus = ""
	StatusSending MessageStatus = "SENDING"
	StatusSuccess MessageStatus = "SUCCESS"
	StatusError   MessageStatus = "ERROR"
	StatusInvalid MessageStatus = "INVALID_RECIPIENT"
)

// Terminal reports whether the status is a final per-attempt outcome.
func (s MessageStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusInvalid
}

// Params is the per-recipient key/value map used for template rendering,
// stored as JSONB.
type Params map[string]string

func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Params) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("params: cannot scan %T", src)
	}
	return json.Unmarshal(raw, p)
}

// Message is one recipient row of a campaign, living in a per-channel
// <channel>_messages table. The same shape backs <channel>_ops rows: an op is
// a transient copy of a message made when a job materializes its working set,
// sharing the message's id so reconciliation can merge results back.
//
// DequeuedAt non-nil means the row is currently claimed into some job's
// working set; reconciliation clears it so the row becomes retryable.
type Message struct {
	ID                int64         `db:"id" json:"id"`
	CampaignID        int           `db:"campaign_id" json:"campaign_id"`
	Recipient         string        `db:"recipient" json:"recipient"`
	Params            Params        `db:"params" json:"params"`
	ProviderMessageID *string       `db:"message_id" json:"message_id,omitempty"`
	ErrorCode         *string       `db:"error_code" json:"error_code,omitempty"`
	Status            MessageStatus `db:"status" json:"status"`
	DequeuedAt        *time.Time    `db:"dequeued_at" json:"dequeued_at,omitempty"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	ReceivedAt        *time.Time    `db:"received_at" json:"received_at,omitempty"`
}
