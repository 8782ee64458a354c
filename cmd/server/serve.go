package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/commonroom/internal/adapters/bus"
	router "github.com/dkeye/commonroom/internal/adapters/http"
	wsignal "github.com/dkeye/commonroom/internal/adapters/signal"
	"github.com/dkeye/commonroom/internal/adapters/store"
	"github.com/dkeye/commonroom/internal/app"
	"github.com/dkeye/commonroom/internal/app/rendezvous"
	"github.com/dkeye/commonroom/internal/app/session"
	"github.com/dkeye/commonroom/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		// Console logger until the config tells us the mode.
		setupLogger("debug")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogger(cfg.Mode)
		return serve(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	b, err := bus.Open(cfg.Bus.Driver, cfg.Bus.URL)
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer b.Close()

	users, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer users.Close()

	var broker *rendezvous.Broker
	if cfg.Jitsi.Enabled {
		tickets := rendezvous.NewTicketIssuer(cfg.Jitsi.JWT.ApplicationID, cfg.Jitsi.JWT.ClientID, cfg.Jitsi.JWT.Secret, cfg.Jitsi.JWT.TTL)
		broker = rendezvous.New(b, rendezvous.WithBaseURL(cfg.Jitsi.BaseURL), rendezvous.WithTickets(tickets))
	}

	disp, err := session.NewDispatcher(session.DefaultModules(users, cfg.Rooms, cfg.Jitsi.Enabled)...)
	if err != nil {
		return err
	}
	registry := app.NewRegistry()

	ctl := wsignal.NewSignalWSController(b, disp, registry, app.PolicyByName(cfg.WS.Backpressure),
		wsignal.Options{
			ReadLimit:    cfg.WS.ReadLimit,
			PingPeriod:   cfg.WS.PingPeriod,
			PongWait:     cfg.WS.PongWait,
			SendBuffer:   cfg.WS.SendBuffer,
			RateLimit:    cfg.WS.RateLimit,
			RateInterval: cfg.WS.RateInterval,
		},
		session.Options{
			AvatarPrefix: cfg.Avatars.Prefix,
			CloseGrace:   cfg.Session.CloseGrace,
		})

	r := router.SetupRouter(ctx, cfg, router.Deps{Signal: ctl, Broker: broker, Registry: registry})
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	if broker != nil {
		g.Go(func() error { return broker.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("CommonRoom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		n := registry.CancelAll()
		log.Info().Int("connections", n).Msg("closing connections")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
