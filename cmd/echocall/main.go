package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "echocall/internal/adapters/http"
	"echocall/internal/adapters/rtc"
	sigclient "echocall/internal/adapters/signal"
	"echocall/internal/app"
	"echocall/internal/app/call"
	"echocall/internal/app/media"
	"echocall/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	clips, err := media.NewLibrary(cfg.AssetDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.AssetDir).Msg("clip library")
	}

	engines, err := rtc.NewFactory(cfg.ICEServers)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc factory")
	}

	reg := app.NewRegistry()
	limiter := app.NewInviteRateLimiter(cfg.InviteRate, cfg.InviteWindow)
	svc := app.NewService(ctx, reg, engines, clips, call.DefaultTimeline(), limiter)

	partyID := uuid.NewString()
	client := sigclient.NewClient(cfg.SignalURL, cfg.AccessToken, partyID, svc)
	svc.SetSender(client)

	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("signal connect")
	}

	r := router.SetupRouter(cfg, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("party_id", partyID).Msg("echocall started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	select {
	case <-ctx.Done():
	case <-client.Done():
		log.Error().Msg("signal connection lost")
	}

	log.Info().Msg("Shutting down")
	svc.Shutdown()
	client.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
