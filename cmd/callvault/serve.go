package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/callvault/internal/http"
	"github.com/tbourn/callvault/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			ctx = rt.log.WithContext(ctx)

			shutdownOTel, err := observability.SetupOTel(ctx, rt.cfg.OTEL, version)
			if err != nil {
				rt.log.Warn().Err(err).Msg("tracing disabled")
				shutdownOTel = func(context.Context) error { return nil }
			}

			gin.SetMode(rt.cfg.GinMode)
			engine := gin.New()
			httpapi.RegisterRoutes(engine, rt.app, rt.cfg)

			srv := &http.Server{
				Addr:              net.JoinHostPort("", rt.cfg.Port),
				Handler:           engine,
				ReadTimeout:       rt.cfg.ReadTimeout,
				ReadHeaderTimeout: rt.cfg.ReadHeaderTimeout,
				WriteTimeout:      rt.cfg.WriteTimeout,
				IdleTimeout:       rt.cfg.IdleTimeout,
				MaxHeaderBytes:    rt.cfg.MaxHeaderBytes,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				rt.log.Info().Str("addr", srv.Addr).Str("version", version).Msg("callvault listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			if rt.cfg.JanitorEvery > 0 {
				g.Go(func() error { return rt.app.Retention.Run(gctx, rt.cfg.JanitorEvery) })
			}
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				rt.log.Info().Msg("shutting down")
				err := srv.Shutdown(sctx)
				rt.close(sctx)
				if oerr := shutdownOTel(sctx); oerr != nil {
					rt.log.Warn().Err(oerr).Msg("otel shutdown")
				}
				return err
			})
			return g.Wait()
		},
	}
}
