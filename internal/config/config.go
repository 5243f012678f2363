package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the three binaries read from the environment.
type Config struct {
	HTTPAddr  string
	DebugAddr string
	AMQPURL   string

	// WorkerID is the stable identity used for job ownership and crash
	// recovery. When empty the worker generates a fresh uuid, which means
	// abandoned jobs are only recovered via the staleness threshold.
	WorkerID string

	// MaxJobRate caps the per-job send rate; the trigger API slices a
	// requested aggregate rate into jobs of at most this budget.
	MaxJobRate int

	ClaimBatchSize    int
	PollInterval      time.Duration
	ReconcileInterval time.Duration

	// ReconcileStaleAfter is how long a claimed-but-unfinished op row may sit
	// before a SENT/STOPPED job is force-reconciled anyway. Raising it lowers
	// the chance of writing off a slow provider response as failed; lowering
	// it unsticks the queue sooner after a crash.
	ReconcileStaleAfter time.Duration

	// Provider endpoints; a channel with no endpoint gets the in-memory
	// sender so dev setups work without credentials.
	SMSEndpoint      string
	EmailEndpoint    string
	WhatsAppEndpoint string
	GovEndpoint      string
	TelegramToken    string
	ProviderAPIKey   string
}

// Load reads .env if present, then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:            envStr("HTTP_ADDR", ":8080"),
		DebugAddr:           envStr("DEBUG_ADDR", ":9090"),
		AMQPURL:             os.Getenv("AMQP_URL"),
		WorkerID:            os.Getenv("WORKER_ID"),
		MaxJobRate:          envInt("MAX_JOB_RATE", 50),
		ClaimBatchSize:      envInt("CLAIM_BATCH_SIZE", 100),
		PollInterval:        envDuration("POLL_INTERVAL", 2*time.Second),
		ReconcileInterval:   envDuration("RECONCILE_INTERVAL", 5*time.Second),
		ReconcileStaleAfter: envDuration("RECONCILE_STALE_AFTER", 20*time.Second),
		SMSEndpoint:         os.Getenv("SMS_ENDPOINT"),
		EmailEndpoint:       os.Getenv("EMAIL_ENDPOINT"),
		WhatsAppEndpoint:    os.Getenv("WHATSAPP_ENDPOINT"),
		GovEndpoint:         os.Getenv("GOV_ENDPOINT"),
		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		ProviderAPIKey:      os.Getenv("PROVIDER_API_KEY"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
