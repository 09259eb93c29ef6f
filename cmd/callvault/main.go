// Command callvault runs the call archive: the webhook/admin HTTP server and
// the operator commands that work against the same database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/config"
	"github.com/tbourn/callvault/internal/mail"
	"github.com/tbourn/callvault/internal/notify"
	"github.com/tbourn/callvault/internal/repo"
	"github.com/tbourn/callvault/internal/services"
	"github.com/tbourn/callvault/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "callvault",
		Short:         "Call-event ingestion and compliance archive",
		Long:          "callvault receives voice-agent webhooks, archives every call, dispatches follow-up email and alerts, and serves the admin dashboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(templatesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// deps is everything a command needs after bootstrap.
type deps struct {
	cfg config.Config
	db  *gorm.DB
	app *services.App
	log zerolog.Logger
}

// close drains background work and releases the database.
func (rt *deps) close(ctx context.Context) {
	if err := rt.app.Runner.Close(ctx); err != nil {
		rt.log.Warn().Err(err).Msg("background tasks did not drain")
	}
	if sqlDB, err := rt.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// bootstrap loads .env (if present) and the environment, configures
// logging, opens and migrates the archive, and assembles the services.
func bootstrap(ctx context.Context) (*deps, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	lg := sysutil.SetupLogging(os.Stderr, cfg.LogLevel, cfg.LogPretty)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := repo.Ping(ctx, db); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	relay, err := newRelay(cfg.Mail)
	if err != nil {
		return nil, err
	}
	channel := notify.New(cfg.Notify.TeamsWebhookURL, cfg.Notify.Timeout)

	lg.Debug().
		Str("db", cfg.DBPath).
		Bool("email_stub", cfg.Mail.StubMode).
		Str("relay", cfg.Mail.Relay).
		Msg("bootstrap complete")

	return &deps{
		cfg: cfg,
		db:  db,
		app: services.NewApp(db, cfg, relay, channel),
		log: lg,
	}, nil
}

// newRelay picks the outbound mail transport. Stub mode sends nothing, so
// no relay is built.
func newRelay(m config.MailConfig) (mail.Relay, error) {
	if m.StubMode {
		return nil, nil
	}
	switch m.Relay {
	case config.RelayAPI:
		return mail.NewAPIRelay(m.APIURL, m.APIKey, m.RelayTimeout), nil
	case config.RelaySMTP:
		return mail.NewSMTPRelay(m.SMTPHost, m.SMTPPort, m.SMTPUsername, m.SMTPPassword, m.RelayTimeout), nil
	default:
		return nil, fmt.Errorf("unknown mail relay %q", m.Relay)
	}
}
