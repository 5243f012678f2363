package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrUnknownChannel guards the per-channel table lookup; channel strings come
// from campaign rows and URL paths, never user SQL.
type ErrUnknownChannel struct {
	Channel string
}

func (e *ErrUnknownChannel) Error() string {
	return fmt.Sprintf("unknown channel %q", e.Channel)
}

func NewUnknownChannel(channel string) error {
	return &ErrUnknownChannel{Channel: channel}
}

// ErrInvalidRate rejects non-positive send rates at the trigger API.
type ErrInvalidRate struct {
	Rate int
}

func (e *ErrInvalidRate) Error() string {
	return fmt.Sprintf("invalid send rate %d", e.Rate)
}

func NewInvalidRate(rate int) error {
	return &ErrInvalidRate{Rate: rate}
}
