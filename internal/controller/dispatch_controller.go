package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// StatsReader serves the statistics endpoint.
type StatsReader interface {
	Get(ctx context.Context, campaignID int) (*model.Statistics, error)
}

// DispatchController exposes the trigger API and the delivery-receipt
// webhook. Everything here is a thin wrapper; job state belongs to workers.
type DispatchController struct {
	Trigger  *service.Trigger
	Receipts *service.ReceiptService
	Stats    StatsReader
	Logger   zerolog.Logger
}

func (c *DispatchController) Dispatch(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		Rate int `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	jobIDs, err := c.Trigger.Dispatch(r.Context(), campaignID, body.Rate)
	if err != nil {
		status := http.StatusInternalServerError
		switch err.(type) {
		case *appErrors.ErrCampaignNotFound:
			status = http.StatusNotFound
		case *appErrors.ErrInvalidRate:
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": campaignID,
		"job_ids":     jobIDs,
	})
}

func (c *DispatchController) Stop(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if err := c.Trigger.Stop(r.Context(), campaignID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": campaignID,
		"status":      "stopped",
	})
}

func (c *DispatchController) Retry(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	reset, err := c.Trigger.Retry(r.Context(), campaignID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": campaignID,
		"reset":       reset,
	})
}

func (c *DispatchController) GetStats(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	stats, err := c.Stats.Get(r.Context(), campaignID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = &model.Statistics{CampaignID: campaignID}
	}
	json.NewEncoder(w).Encode(stats)
}

// Receipt accepts provider delivery callbacks. Providers may redeliver, so
// the handler is idempotent end to end.
func (c *DispatchController) Receipt(w http.ResponseWriter, r *http.Request) {
	ch := model.Channel(chi.URLParam(r, "channel"))
	if !ch.Valid() {
		http.Error(w, "unknown channel", http.StatusBadRequest)
		return
	}

	var body struct {
		ProviderMessageID string     `json:"message_id"`
		Status            string     `json:"status"`
		ErrorCode         *string    `json:"error_code"`
		DeliveredAt       *time.Time `json:"delivered_at"`
		ReceivedAt        *time.Time `json:"received_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.ProviderMessageID == "" {
		http.Error(w, "message_id required", http.StatusBadRequest)
		return
	}

	status := model.MessageStatus(body.Status)
	if !status.Terminal() {
		http.Error(w, "status must be terminal", http.StatusBadRequest)
		return
	}

	rcpt := repository.Receipt{
		ProviderMessageID: body.ProviderMessageID,
		Status:            status,
		ErrorCode:         body.ErrorCode,
		DeliveredAt:       body.DeliveredAt,
		ReceivedAt:        body.ReceivedAt,
	}
	if err := c.Receipts.Apply(r.Context(), ch, rcpt); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
