// Package config loads application configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/repair-sync/internal/payment"
)

// Config holds all runtime configuration values. The core fields are
// required and read by must; the optional sections come from envconfig
// with defaults.
type Config struct {
	Env            string // application environment (dev/test/prod)
	Port           string // HTTP port to listen on
	DBUser         string
	DBPass         string // empty allowed
	DBHost         string
	DBPort         string
	DBName         string
	JWTSecret      string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int

	Realtime RealtimeConfig
	Payment  PaymentConfig
	Storage  StorageConfig
	Broker   BrokerConfig
}

// RealtimeConfig tunes the change feed and its streams.
type RealtimeConfig struct {
	FeedPrefix       string        `envconfig:"FEED_PREFIX" default:"feed"`
	Heartbeat        time.Duration `envconfig:"FEED_HEARTBEAT" default:"15s"`
	Buffer           int           `envconfig:"FEED_BUFFER" default:"64"`
	LocationInterval time.Duration `envconfig:"LOCATION_INTERVAL" default:"5s"`
}

// PaymentConfig configures the hosted-link provider, the NFC hand-off
// and the tip presets.
type PaymentConfig struct {
	LinkEndpoint  string        `envconfig:"LINK_ENDPOINT"`
	LinkAPIKey    string        `envconfig:"LINK_API_KEY"`
	LinkTimeout   time.Duration `envconfig:"LINK_TIMEOUT" default:"10s"`
	LinkCacheTTL  time.Duration `envconfig:"LINK_CACHE_TTL" default:"30m"`
	RedirectURL   string        `envconfig:"REDIRECT_URL" default:"repairsync://payment/link-return"`
	WebhookSecret string        `envconfig:"WEBHOOK_SECRET"`
	TipPresets    []int64       `envconfig:"TIP_PRESETS" default:"500,1000,1500,2000"`
	NFC           payment.NFCConfig
}

// Options turns the section into wizard options.
func (p PaymentConfig) Options() payment.Options {
	return payment.Options{
		TipPresets:  p.TipPresets,
		Currency:    p.NFC.Currency,
		RedirectURL: p.RedirectURL,
		NFC:         p.NFC,
	}
}

// StorageConfig selects where signature images go. A bucket selects GCS;
// otherwise images are written under Dir.
type StorageConfig struct {
	Bucket          string `envconfig:"GCS_BUCKET"`
	CredentialsFile string `envconfig:"GCS_CREDENTIALS_FILE"`
	Dir             string `envconfig:"DIR" default:"data/signatures"`
}

// BrokerConfig points at RabbitMQ. An empty URL disables invoice
// publishing.
type BrokerConfig struct {
	URL      string `envconfig:"RABBITMQ_URL"`
	Prefetch int    `envconfig:"PREFETCH" default:"10"`
	MailLog  string `envconfig:"MAIL_LOG" default:"logs/invoice.log"`
}

// Load reads the environment and returns a Config. Missing required
// variables stop the process.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("config: .env not loaded")
	}
	cfg := Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
	}
	sections := []struct {
		prefix string
		target any
	}{
		{"REALTIME", &cfg.Realtime},
		{"PAYMENT", &cfg.Payment},
		{"STORAGE", &cfg.Storage},
		{"BROKER", &cfg.Broker},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			log.WithError(err).Fatalf("config: invalid %s settings", s.prefix)
		}
	}
	return cfg
}

// LoadBroker reads only the broker section. The invoice worker uses it
// and never touches MySQL.
func LoadBroker() (BrokerConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("config: .env not loaded")
	}
	var bc BrokerConfig
	err := envconfig.Process("BROKER", &bc)
	return bc, err
}

// must returns a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must but converts the value to an int.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
