// Command signald runs the signaling server that device tokens are
// presented to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/devgrant/pkg/config"
	"github.com/domino14/devgrant/pkg/hub"
	"github.com/domino14/devgrant/pkg/token"
	"github.com/domino14/devgrant/pkg/turn"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := &config.Config{}
	if err := cfg.Load(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("loading-config")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Debug().Msg("debug logging is on")

	var vopts []token.VerifierOption
	if cfg.JWTIssuer != "" {
		vopts = append(vopts, token.WithExpectedIssuer(cfg.JWTIssuer))
	}
	verifier, err := token.NewVerifier([]byte(cfg.JWTSecret), vopts...)
	if err != nil {
		log.Fatal().Err(err).Msg("creating-verifier")
	}

	hopts := []hub.Option{hub.WithAllowedOrigins(cfg.Origins())}
	if cfg.TURNSecret != "" {
		p, err := turn.New([]byte(cfg.TURNSecret), cfg.TURNServerURLs(), cfg.TURNTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("creating-turn-provider")
		}
		hopts = append(hopts, hub.WithTURN(p))
	}
	log.Info().Strs("allowed-origins", cfg.Origins()).Bool("turn", cfg.TURNSecret != "").
		Msg("hub-config")

	h, err := hub.NewHub(verifier, hopts...)
	if err != nil {
		log.Fatal().Err(err).Msg("creating-hub")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(hubDone)
	}()

	srv := &http.Server{
		Addr:              cfg.WebsocketAddress,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Err(err).Msg("server-shutdown")
		}
	}()

	log.Info().Str("address", cfg.WebsocketAddress).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen-and-serve")
	}
	<-hubDone
	log.Info().Msg("exiting")
}
