// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, webhook intake, mail
// delivery, alert notification, retention, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Location must resolve on hosts without zoneinfo

	"github.com/go-playground/validator/v10"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "callvault")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WebhookConfig controls the ingestion gateway.
type WebhookConfig struct {
	SharedSecret         string        // WEBHOOK_SHARED_SECRET; empty disables the check
	Timeout              time.Duration // WEBHOOK_TIMEOUT; deadline for admit + merge
	MaxBodyBytes         int64         // WEBHOOK_MAX_BODY_BYTES
	AbandonedCallSeconds int           // ABANDONED_CALL_SECONDS; 0 disables the rule
}

// Mail relay kinds.
const (
	RelayAPI  = "api"
	RelaySMTP = "smtp"
)

// MailConfig controls the email dispatch engine and its relay.
type MailConfig struct {
	StubMode     bool          // EMAIL_STUB_MODE
	Relay        string        // MAIL_RELAY: api|smtp
	APIURL       string        // SMTP2GO_API_URL
	APIKey       string        // SMTP2GO_API_KEY
	SMTPHost     string        // SMTP_HOST
	SMTPPort     int           // SMTP_PORT
	SMTPUsername string        // SMTP_USERNAME
	SMTPPassword string        // SMTP_PASSWORD
	FromAddress  string        // EMAIL_FROM_ADDRESS
	MaxAttempts  int           // EMAIL_MAX_ATTEMPTS
	ResponseWait time.Duration // EMAIL_RESPONSE_WAIT
	RelayTimeout time.Duration // EMAIL_RELAY_TIMEOUT, per attempt
}

// NotifyConfig controls the alert notification channel.
type NotifyConfig struct {
	TeamsWebhookURL string        // TEAMS_WEBHOOK_URL; empty disables delivery
	Timeout         time.Duration // NOTIFY_TIMEOUT
}

// AdminConfig holds the admin surface credentials.
type AdminConfig struct {
	Username     string        // ADMIN_USERNAME
	Password     string        // ADMIN_PASSWORD
	QueryTimeout time.Duration // ADMIN_QUERY_TIMEOUT
	MaxPageSize  int           // ADMIN_MAX_PAGE_SIZE
}

// TownConfig is the static contact and payment data rendered into emails.
type TownConfig struct {
	Name          string // TOWN_NAME
	Department    string // TOWN_DEPARTMENT
	Phone         string // TOWN_PHONE
	Email         string // TOWN_EMAIL
	Address       string // TOWN_ADDRESS
	Hours         string // TOWN_HOURS
	PaymentURL    string // TOWN_PAYMENT_URL
	AdjustFormURL string // TOWN_ADJUSTMENT_FORM_URL
	Website       string // TOWN_WEBSITE
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for webhook and admin routes

	// Archive
	DBPath        string        // SQLite path
	RetentionDays int           // RETENTION_DAYS; minimum age before a record may be purged
	TimeZone      string        // TIME_ZONE; used for date filters and display
	JanitorEvery  time.Duration // JANITOR_INTERVAL; receipt pruning cadence, 0 disables

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a delivery key is remembered

	Webhook WebhookConfig
	Mail    MailConfig
	Notify  NotifyConfig
	Admin   AdminConfig
	Town    TownConfig

	// Observability
	OTEL OTELConfig
}

// Retention returns the retention horizon as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Location resolves TimeZone, falling back to UTC when it is unknown.
func (c Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.TimeZone); err == nil {
		return loc
	}
	return time.UTC
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/")),

		// Archive
		DBPath:        getenv("DB_PATH", "callvault.db"),
		RetentionDays: getint("RETENTION_DAYS", 1825),
		TimeZone:      getenv("TIME_ZONE", "America/New_York"),
		JanitorEvery:  getdur("JANITOR_INTERVAL", time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 720*time.Hour),

		Webhook: WebhookConfig{
			SharedSecret:         getenv("WEBHOOK_SHARED_SECRET", ""),
			Timeout:              getdur("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxBodyBytes:         int64(getint("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
			AbandonedCallSeconds: getint("ABANDONED_CALL_SECONDS", 10),
		},

		Mail: MailConfig{
			StubMode:     getbool("EMAIL_STUB_MODE", true),
			Relay:        strings.ToLower(getenv("MAIL_RELAY", RelayAPI)),
			APIURL:       getenv("SMTP2GO_API_URL", "https://api.smtp2go.com/v3/email/send"),
			APIKey:       getenv("SMTP2GO_API_KEY", ""),
			SMTPHost:     getenv("SMTP_HOST", "mail.smtp2go.com"),
			SMTPPort:     getint("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			FromAddress:  getenv("EMAIL_FROM_ADDRESS", "utilitybilling@braselton.net"),
			MaxAttempts:  getint("EMAIL_MAX_ATTEMPTS", 3),
			ResponseWait: getdur("EMAIL_RESPONSE_WAIT", 3*time.Second),
			RelayTimeout: getdur("EMAIL_RELAY_TIMEOUT", 10*time.Second),
		},

		Notify: NotifyConfig{
			TeamsWebhookURL: getenv("TEAMS_WEBHOOK_URL", ""),
			Timeout:         getdur("NOTIFY_TIMEOUT", 5*time.Second),
		},

		Admin: AdminConfig{
			Username:     getenv("ADMIN_USERNAME", "admin"),
			Password:     getenv("ADMIN_PASSWORD", ""),
			QueryTimeout: getdur("ADMIN_QUERY_TIMEOUT", 15*time.Second),
			MaxPageSize:  getint("ADMIN_MAX_PAGE_SIZE", 100),
		},

		Town: TownConfig{
			Name:          getenv("TOWN_NAME", "Town of Braselton"),
			Department:    getenv("TOWN_DEPARTMENT", "Water/Sewer"),
			Phone:         getenv("TOWN_PHONE", "(770) 867-4488"),
			Email:         getenv("TOWN_EMAIL", "utilitybilling@braselton.net"),
			Address:       getenv("TOWN_ADDRESS", "6111 Winder Highway, Braselton, GA 30517"),
			Hours:         getenv("TOWN_HOURS", "Monday-Friday, 8:00 AM - 5:00 PM"),
			PaymentURL:    getenv("TOWN_PAYMENT_URL", "https://braselton.net/pay"),
			AdjustFormURL: getenv("TOWN_ADJUSTMENT_FORM_URL", "https://braselton.net/utilities/adjustment-form"),
			Website:       getenv("TOWN_WEBSITE", "https://braselton.net"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "callvault"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RetentionDays < 1 {
		return cfg, errors.New("RETENTION_DAYS must be >= 1")
	}
	if cfg.JanitorEvery < 0 {
		return cfg, errors.New("JANITOR_INTERVAL must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Webhook.Timeout <= 0 {
		return cfg, errors.New("WEBHOOK_TIMEOUT must be > 0")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.Webhook.AbandonedCallSeconds < 0 {
		return cfg, errors.New("ABANDONED_CALL_SECONDS must be >= 0")
	}
	if err := validateMail(cfg.Mail); err != nil {
		return cfg, err
	}
	if cfg.Notify.Timeout <= 0 {
		return cfg, errors.New("NOTIFY_TIMEOUT must be > 0")
	}
	if cfg.Admin.QueryTimeout <= 0 {
		return cfg, errors.New("ADMIN_QUERY_TIMEOUT must be > 0")
	}
	if cfg.Admin.MaxPageSize < 1 {
		return cfg, errors.New("ADMIN_MAX_PAGE_SIZE must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func validateMail(m MailConfig) error {
	if m.MaxAttempts < 1 {
		return errors.New("EMAIL_MAX_ATTEMPTS must be >= 1")
	}
	if m.ResponseWait < 0 {
		return errors.New("EMAIL_RESPONSE_WAIT must be >= 0")
	}
	if m.RelayTimeout <= 0 {
		return errors.New("EMAIL_RELAY_TIMEOUT must be > 0")
	}
	if err := validator.New().Var(m.FromAddress, "required,email"); err != nil {
		return errors.New("EMAIL_FROM_ADDRESS must be a bare email address")
	}
	switch m.Relay {
	case RelayAPI, RelaySMTP:
	default:
		return errors.New("MAIL_RELAY must be one of: api, smtp")
	}
	// A live relay needs its credentials; stub mode never touches the network.
	if m.StubMode {
		return nil
	}
	if m.Relay == RelayAPI && (strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APIURL) == "") {
		return errors.New("SMTP2GO_API_KEY and SMTP2GO_API_URL are required when EMAIL_STUB_MODE is off")
	}
	if m.Relay == RelaySMTP && (strings.TrimSpace(m.SMTPHost) == "" || m.SMTPPort <= 0) {
		return errors.New("SMTP_HOST and SMTP_PORT are required when EMAIL_STUB_MODE is off")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
