package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// ReceiptStore applies a delivery receipt, preferring the in-flight op row.
type ReceiptStore interface {
	ApplyReceipt(ctx context.Context, ch model.Channel, rcpt repository.Receipt) (target string, campaignID int, err error)
}

// StatsRefresher recomputes a campaign's counters.
type StatsRefresher interface {
	Refresh(ctx context.Context, ch model.Channel, campaignID int) error
}

// ReceiptService handles provider delivery-receipt callbacks. Receipts are
// idempotent by construction (absolute values keyed by provider message id)
// and may arrive before the worker's own write-back; ones that match nothing
// yet are dropped and the provider's redelivery catches them later.
type ReceiptService struct {
	Messages ReceiptStore
	Stats    StatsRefresher
	Logger   zerolog.Logger
}

// Apply writes the receipt through. When it lands on a durable message row
// the job that sent it is already reconciled, so the statistics cache is
// refreshed here; op-row hits get picked up by reconciliation anyway.
func (s *ReceiptService) Apply(ctx context.Context, ch model.Channel, rcpt repository.Receipt) error {
	target, campaignID, err := s.Messages.ApplyReceipt(ctx, ch, rcpt)
	if err != nil {
		return err
	}

	switch target {
	case "message":
		if err := s.Stats.Refresh(ctx, ch, campaignID); err != nil {
			return err
		}
	case "none":
		s.Logger.Debug().Str("provider_message_id", rcpt.ProviderMessageID).
			Str("channel", string(ch)).Msg("receipt matched no row")
	}
	return nil
}
