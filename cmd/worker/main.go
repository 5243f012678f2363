package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	cfg := config.Load()

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().
		Str("component", "worker").Str("worker_id", workerID).Logger()

	conn, err := db.Connect()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close()
	logger.Info().Msg("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var nudgeCh <-chan struct{}
	if cfg.AMQPURL != "" {
		nudge, err := queue.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp unavailable, polling only")
		} else {
			defer nudge.Close()
			if ch, err := nudge.Listen(ctx); err != nil {
				logger.Warn().Err(err).Msg("nudge consume failed, polling only")
			} else {
				nudgeCh = ch
			}
		}
	}

	dispatcher := &service.Dispatcher{
		WorkerID:     workerID,
		Jobs:         &repository.JobRepository{DB: conn},
		Messages:     &repository.MessageRepository{DB: conn},
		Campaigns:    &repository.CampaignRepository{DB: conn},
		Senders:      buildSenders(cfg, logger),
		BatchSize:    cfg.ClaimBatchSize,
		PollInterval: cfg.PollInterval,
		Nudge:        nudgeCh,
		Logger:       logger,
	}

	reconciler := &service.Reconciler{
		Store:      &repository.ReconcileRepository{DB: conn},
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
		Logger:     logger,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info().Str("addr", cfg.DebugAddr).Msg("debug endpoint running")
		if err := http.ListenAndServe(cfg.DebugAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("debug endpoint stopped")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("dispatcher stopped")
		}
	}()
	go func() {
		defer wg.Done()
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("reconciler stopped")
		}
	}()

	logger.Info().Msg("worker running")
	wg.Wait()
	logger.Info().Msg("worker shut down")
}

// buildSenders wires one sender per channel. Channels without a configured
// gateway get the in-memory sender so local setups still drain jobs.
func buildSenders(cfg *config.Config, logger zerolog.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	httpChannels := map[model.Channel]string{
		model.ChannelSMS:      cfg.SMSEndpoint,
		model.ChannelEmail:    cfg.EmailEndpoint,
		model.ChannelWhatsApp: cfg.WhatsAppEndpoint,
		model.ChannelGov:      cfg.GovEndpoint,
	}
	for ch, endpoint := range httpChannels {
		if endpoint == "" {
			logger.Warn().Str("channel", string(ch)).Msg("no endpoint configured, using in-memory sender")
			registry.Register(ch, provider.NewMemorySender())
			continue
		}
		registry.Register(ch, provider.NewHTTPSender(endpoint, cfg.ProviderAPIKey))
	}

	if cfg.TelegramToken != "" {
		tg, err := provider.NewTelegramSender(cfg.TelegramToken)
		if err != nil {
			logger.Error().Err(err).Msg("telegram sender unavailable")
		} else {
			registry.Register(model.ChannelTelegram, tg)
		}
	} else {
		logger.Warn().Msg("no telegram token configured, using in-memory sender")
		registry.Register(model.ChannelTelegram, provider.NewMemorySender())
	}

	return registry
}
