package main

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "server").Logger()
	cfg := config.Load()

	conn, err := db.Connect()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close()
	logger.Info().Msg("connected to database")

	var nudge service.Nudger
	if cfg.AMQPURL != "" {
		n, err := queue.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp unavailable, workers will poll")
		} else {
			defer n.Close()
			nudge = n
		}
	}

	jobRepo := &repository.JobRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}
	statsRepo := &repository.StatisticsRepository{DB: conn}

	trigger := &service.Trigger{
		Jobs:       jobRepo,
		Campaigns:  campaignRepo,
		MaxJobRate: cfg.MaxJobRate,
		Nudge:      nudge,
		Logger:     logger,
	}
	receipts := &service.ReceiptService{
		Messages: messageRepo,
		Stats:    statsRepo,
		Logger:   logger,
	}

	dispatchController := &controller.DispatchController{
		Trigger:  trigger,
		Receipts: receipts,
		Stats:    statsRepo,
		Logger:   logger,
	}

	r := chi.NewRouter()
	r.Post("/campaigns/{id}/dispatch", dispatchController.Dispatch)
	r.Post("/campaigns/{id}/stop", dispatchController.Stop)
	r.Post("/campaigns/{id}/retry", dispatchController.Retry)
	r.Get("/campaigns/{id}/stats", dispatchController.GetStats)
	r.Post("/receipts/{channel}", dispatchController.Receipt)

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
