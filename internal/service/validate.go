package service

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ValidateRecipient is the last-line check before a provider call. Rows that
// fail end up INVALID_RECIPIENT without spending a send.
func ValidateRecipient(ch model.Channel, recipient string) error {
	switch ch {
	case model.ChannelSMS, model.ChannelWhatsApp, model.ChannelGov:
		if !phonePattern.MatchString(recipient) {
			return fmt.Errorf("not a phone number: %q", recipient)
		}
	case model.ChannelEmail:
		if _, err := mail.ParseAddress(recipient); err != nil {
			return fmt.Errorf("not an email address: %q", recipient)
		}
	case model.ChannelTelegram:
		if _, err := strconv.ParseInt(recipient, 10, 64); err != nil {
			return fmt.Errorf("not a chat id: %q", recipient)
		}
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
	return nil
}
