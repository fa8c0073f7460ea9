package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/lanlink/internal/adapters/http"
	"github.com/dkeye/lanlink/internal/adapters/lan"
	"github.com/dkeye/lanlink/internal/adapters/rtc"
	"github.com/dkeye/lanlink/internal/app"
	"github.com/dkeye/lanlink/internal/app/orch"
	"github.com/dkeye/lanlink/internal/config"
	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	identity, err := domain.NewIdentity(cfg.Host.Name, cfg.Host.Avatar)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid host identity")
	}

	var discovery core.Discovery
	if cfg.Lan.Enabled {
		d, err := lan.Open(ctx, lan.Options{Group: cfg.Lan.Group, Interface: cfg.Lan.Interface})
		if err != nil {
			log.Error().Err(err).Msg("lan discovery disabled")
		} else {
			defer d.Close()
			discovery = d
		}
	}

	o := orch.New(orch.SimplePolicy{})
	host := app.NewHost(ctx, app.Options{
		ID:       domain.HostID(cfg.Host.ID),
		Identity: *identity,
		Peers: rtc.NewFactory(rtc.Options{
			ICEServers:      cfg.WebRTC.ICEServers,
			IncludeLoopback: cfg.WebRTC.IncludeLoopback,
		}),
		Discovery: discovery,
		Notifier:  o,
		Gather:    app.NewGatherPolicy(app.GatherMode(cfg.Relay.Wait), cfg.Relay.Grace),
		Heartbeat: cfg.HeartbeatInterval,
		ProxyHost: cfg.Lan.ProxyBind,
		DialHost:  cfg.Lan.DialHost,
	})
	defer host.Close()
	o.Bind(host)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("host", string(host.ID())).Msg("lanlink started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
