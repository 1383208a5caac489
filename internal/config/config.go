package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

type Config struct {
	Server  ServerConfig
	SMSC    SMSCConfig
	Mailing MailingConfig
	Store   StoreConfig
	Status  StatusConfig
	Poller  PollerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Address string
}

type SMSCConfig struct {
	Login        string
	Password     string
	BaseURL      string
	Timeout      time.Duration
	AnswerFormat int
}

type MailingConfig struct {
	DefaultPhones []string
	// LifetimeHours is how long the gateway keeps trying to deliver.
	LifetimeHours int
	OnlyShowCost  bool
}

type StoreConfig struct {
	URL string
}

type StatusConfig struct {
	Interval time.Duration
}

type PollerConfig struct {
	Enabled       bool
	Interval      time.Duration
	RatePerSecond float64
}

type LogConfig struct {
	Level slog.Level
}

// LoadAll reads the configuration from the environment. Every problem found
// is reported in the returned error.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		SMSC: SMSCConfig{
			BaseURL: getEnv("SMSC_BASE_URL", "https://smsc.ru"),
		},
		Mailing: MailingConfig{
			DefaultPhones: model.ParsePhones(os.Getenv("PHONES")),
		},
		Store: StoreConfig{
			URL: getEnv("STORE_URL", "redis://localhost:6379/0"),
		},
	}

	var err error
	cfg.SMSC.Login, err = requireEnv("SMSC_LOGIN")
	collect(err)
	cfg.SMSC.Password, err = requireEnv("SMSC_PASSWORD")
	collect(err)

	timeoutSec, err := getEnvInt("SMSC_TIMEOUT_SECONDS", 10)
	collect(err)
	cfg.SMSC.Timeout = time.Duration(timeoutSec) * time.Second

	cfg.SMSC.AnswerFormat, err = getEnvInt("ANSWER_FORMAT", 3)
	collect(err)
	cfg.Mailing.LifetimeHours, err = getEnvInt("SMS_LIFETIME", 1)
	collect(err)
	cfg.Mailing.OnlyShowCost, err = getEnvBool("ONLY_SHOW_COST", false)
	collect(err)

	statusMs, err := getEnvInt("STATUS_INTERVAL_MS", 1000)
	collect(err)
	cfg.Status.Interval = time.Duration(statusMs) * time.Millisecond

	pollSec, err := getEnvInt("POLL_INTERVAL_SECONDS", 30)
	collect(err)
	cfg.Poller.Interval = time.Duration(pollSec) * time.Second
	cfg.Poller.RatePerSecond, err = getEnvFloat("POLL_RATE_PER_SECOND", 5)
	collect(err)
	cfg.Poller.Enabled, err = getEnvBool("POLLER_ENABLED", true)
	collect(err)

	cfg.Log.Level, err = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	collect(err)

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.SMSC.Timeout <= 0 {
		errs = append(errs, errors.New("SMSC_TIMEOUT_SECONDS must be > 0"))
	}
	// responses are decoded as JSON, which the gateway only emits for fmt=3
	if cfg.SMSC.AnswerFormat != 3 {
		errs = append(errs, errors.New("ANSWER_FORMAT must be 3"))
	}
	if cfg.Mailing.LifetimeHours <= 0 {
		errs = append(errs, errors.New("SMS_LIFETIME must be > 0"))
	}
	if cfg.Status.Interval <= 0 {
		errs = append(errs, errors.New("STATUS_INTERVAL_MS must be > 0"))
	}
	if cfg.Poller.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Poller.RatePerSecond <= 0 {
		errs = append(errs, errors.New("POLL_RATE_PER_SECOND must be > 0"))
	}
	if u, err := url.Parse(cfg.SMSC.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SMSC_BASE_URL must be an absolute url: %q", cfg.SMSC.BaseURL))
	}
	switch StoreScheme(cfg.Store.URL) {
	case "redis", "rediss", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("STORE_URL scheme must be redis, rediss, postgres or postgresql: %q", cfg.Store.URL))
	}
	return errs
}

// StoreScheme returns the lower-cased scheme of a store url.
func StoreScheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid number for env %s: %s", key, v)
	}
	return f, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func getEnvLevel(key string, def slog.Level) (slog.Level, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("invalid log level for env %s: %s", key, v)
	}
	return lvl, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
