// App is the composition root of the service layer: it builds every service
// from configuration around one database handle, one background runner and
// the two outbound adapters (mail relay and notification channel). The HTTP
// router and the CLI both start from an App.

package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/mail"
	"github.com/tbourn/callvault/internal/notify"
)

// Background runner sizing.
const (
	runnerSlots = 16
	// runnerTaskTimeout covers every relay attempt plus backoff.
	runnerTaskTimeout = 2 * time.Minute
)

// App groups the wired services of one process.
type App struct {
	DB        *gorm.DB
	Guard     *Guard
	Runner    *Runner
	Email     *EmailService
	Alerts    *AlertService
	Ingest    *IngestService
	Query     *QueryService
	Templates *TemplateService
	Retention *RetentionService
}

// NewApp wires the services from cfg. relay may be nil in stub mode; a nil
// channel disables alert delivery.
func NewApp(db *gorm.DB, cfg config.Config, relay mail.Relay, channel notify.Channel) *App {
	if channel == nil {
		channel = notify.Nop{}
	}
	loc := cfg.Location()
	runner := NewRunner(runnerSlots, runnerTaskTimeout)
	guard := &Guard{DB: db, TTL: cfg.IdempotencyTTL}
	templates := &TemplateService{DB: db}

	email := NewEmailService(db, relay, cfg.Mail, cfg.Town, loc)
	email.Templates = templates

	alerts := &AlertService{
		DB:               db,
		Channel:          channel,
		Runner:           runner,
		AbandonedSeconds: cfg.Webhook.AbandonedCallSeconds,
	}

	return &App{
		DB:        db,
		Guard:     guard,
		Runner:    runner,
		Email:     email,
		Alerts:    alerts,
		Templates: templates,
		Ingest: &IngestService{
			DB:           db,
			Guard:        guard,
			Email:        email,
			Alerts:       alerts,
			Runner:       runner,
			ResponseWait: cfg.Mail.ResponseWait,
		},
		Query: &QueryService{
			DB:          db,
			Timeout:     cfg.Admin.QueryTimeout,
			MaxPageSize: cfg.Admin.MaxPageSize,
			Location:    loc,
		},
		Retention: &RetentionService{
			DB:      db,
			Guard:   guard,
			Horizon: cfg.Retention(),
		},
	}
}
