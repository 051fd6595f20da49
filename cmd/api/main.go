package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supportchat/widget/backend/internal/config"
	"github.com/supportchat/widget/backend/internal/gateway"
	"github.com/supportchat/widget/backend/internal/handler"
	chatservice "github.com/supportchat/widget/backend/internal/service/chat"
	"github.com/supportchat/widget/backend/internal/storage"
)

// portFallbackAttempts bounds the search for a free port when the configured
// one is occupied.
const portFallbackAttempts = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.LogLevel)

	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open store")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate store")
	}

	chatSvc := chatservice.NewService(store)
	gw := gateway.New(chatSvc)
	router := handler.NewRouter(chatSvc, gw, cfg.CORS.AllowedOrigins)

	listener, port, err := listenWithFallback(cfg.Server.Port)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind listener")
	}
	if port != cfg.Server.Port {
		log.Warn().Int("configured", cfg.Server.Port).Int("actual", port).Msg("configured port occupied, using next free port")
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Int("port", port).Msg("support chat backend listening")
	if err := runServer(ctx, srv, listener); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// listenWithFallback binds the configured port, trying the next ones in
// sequence when it is already taken.
func listenWithFallback(port int) (net.Listener, int, error) {
	var lastErr error
	for i := 0; i < portFallbackAttempts; i++ {
		candidate := port + i
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", candidate))
		if err == nil {
			return listener, candidate, nil
		}
		lastErr = err
	}
	return nil, 0, errors.Wrapf(lastErr, "no free port in range %d-%d", port, port+portFallbackAttempts-1)
}

func runServer(ctx context.Context, srv *http.Server, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
