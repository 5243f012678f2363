package model

import "time"

// Channel identifies which provider family a campaign sends through.
// Each channel has its own messages/ops tables.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelGov      Channel = "gov"
)

// Channels lists every supported channel, in table-creation order.
var Channels = []Channel{ChannelSMS, ChannelEmail, ChannelTelegram, ChannelWhatsApp, ChannelGov}

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelTelegram, ChannelWhatsApp, ChannelGov:
		return true
	}
	return false
}

// Campaign rows are created by the API layer; the pipeline only reads them,
// except for the halted flag which stop/retry toggle.
type Campaign struct {
	ID           int        `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Channel      Channel    `db:"channel" json:"channel"`
	BaseTemplate string     `db:"base_template" json:"base_template"`
	Halted       bool       `db:"halted" json:"halted"`
	ScheduledAt  *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
