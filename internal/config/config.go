package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	DatabaseURL string
	BaseURL     string

	MailProvider string // gmail | imap

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	IMAPHost string
	IMAPPort int
	IMAPUser string
	IMAPPass string
	IMAPTLS  bool

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	AIProvider  string // anthropic | openai | template
	AIAPIKey    string
	AIBaseURL   string
	AIModel     string
	AIMaxTokens int

	PolicyMode      string // heuristic | classifier | both
	PolicyRulesFile string

	QuotaTimezone     *time.Location
	DefaultMaxPerDay  int
	AutoSweepInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	AdminUser         string
	AdminPasswordHash string

	LogFormat string
	LogLevel  string
}

func Load() (*Config, error) {
	port, err := getIntEnv("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	imapPort, err := getIntEnv("IMAP_PORT", 993)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP_PORT: %w", err)
	}

	imapTLS, err := getBoolEnv("IMAP_TLS", true)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP_TLS: %w", err)
	}

	smtpPort, err := getIntEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	maxTokens, err := getIntEnv("AI_MAX_TOKENS", 1024)
	if err != nil {
		return nil, fmt.Errorf("invalid AI_MAX_TOKENS: %w", err)
	}

	tz := getEnv("QUOTA_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE: %w", err)
	}

	maxPerDay, err := getIntEnv("DEFAULT_MAX_PER_DAY", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_MAX_PER_DAY: %w", err)
	}

	sweep, err := getDurationEnv("AUTO_SWEEP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_SWEEP_INTERVAL: %w", err)
	}

	rps, err := getFloatEnv("RATE_LIMIT_RPS", 2.0)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getIntEnv("RATE_LIMIT_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	baseURL := strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		Port:               port,
		DatabaseURL:        getEnv("DATABASE_URL", "sqlite:mailpilot.db"),
		BaseURL:            baseURL,
		MailProvider:       strings.ToLower(getEnv("MAIL_PROVIDER", "gmail")),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", baseURL+"/api/auth/callback"),
		IMAPHost:           getEnv("IMAP_HOST", ""),
		IMAPPort:           imapPort,
		IMAPUser:           getEnv("IMAP_USER", ""),
		IMAPPass:           getEnv("IMAP_PASS", ""),
		IMAPTLS:            imapTLS,
		SMTPHost:           getEnv("SMTP_HOST", ""),
		SMTPPort:           smtpPort,
		SMTPUser:           getEnv("SMTP_USER", ""),
		SMTPPass:           getEnv("SMTP_PASS", ""),
		AIProvider:         strings.ToLower(getEnv("AI_PROVIDER", "template")),
		AIAPIKey:           getEnv("AI_API_KEY", ""),
		AIBaseURL:          getEnv("AI_BASE_URL", ""),
		AIModel:            getEnv("AI_MODEL", ""),
		AIMaxTokens:        maxTokens,
		PolicyMode:         strings.ToLower(getEnv("POLICY_MODE", "heuristic")),
		PolicyRulesFile:    getEnv("POLICY_RULES_FILE", ""),
		QuotaTimezone:      loc,
		DefaultMaxPerDay:   maxPerDay,
		AutoSweepInterval:  sweep,
		RateLimitRPS:       rps,
		RateLimitBurst:     burst,
		AdminUser:          getEnv("ADMIN_USER", ""),
		AdminPasswordHash:  getEnv("ADMIN_PASSWORD_HASH", ""),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.MailProvider {
	case "gmail":
	case "imap":
		if c.IMAPHost == "" || c.IMAPUser == "" {
			errs = append(errs, errors.New("IMAP_HOST and IMAP_USER are required for MAIL_PROVIDER=imap"))
		}
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for MAIL_PROVIDER=imap"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid MAIL_PROVIDER %q", c.MailProvider))
	}
	switch c.AIProvider {
	case "template":
	case "anthropic", "openai":
		if c.AIAPIKey == "" {
			errs = append(errs, fmt.Errorf("AI_API_KEY is required for AI_PROVIDER=%s", c.AIProvider))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid AI_PROVIDER %q", c.AIProvider))
	}
	switch c.PolicyMode {
	case "heuristic", "classifier", "both":
	default:
		errs = append(errs, fmt.Errorf("invalid POLICY_MODE %q", c.PolicyMode))
	}
	if c.DefaultMaxPerDay <= 0 {
		errs = append(errs, errors.New("DEFAULT_MAX_PER_DAY must be positive"))
	}
	if c.AutoSweepInterval < 0 {
		errs = append(errs, errors.New("AUTO_SWEEP_INTERVAL must not be negative"))
	}
	if (c.AdminUser == "") != (c.AdminPasswordHash == "") {
		errs = append(errs, errors.New("ADMIN_USER and ADMIN_PASSWORD_HASH must be set together"))
	}
	return errors.Join(errs...)
}

// UsesSQLite reports whether DatabaseURL selects the embedded store.
func (c *Config) UsesSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, "sqlite:")
}

// SQLitePath returns the file path of a sqlite: DatabaseURL.
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(strings.TrimPrefix(c.DatabaseURL, "sqlite:"), "//")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getFloatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
