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

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/ai"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/api"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/autosave"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/hub"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)

	var (
		listenAddr    = fs.StringP("listen-addr", "w", envOr("WS_ADDR", ":8081"), "websocket listen address")
		apiListenAddr = fs.StringP("api-listen-addr", "a", envOr("API_ADDR", ":8080"), "http api listen address")
		dbPath        = fs.String("db-path", envOr("DB_PATH", "./data/collab.db"), "sqlite database path")
		aiEndpoint    = fs.String("ai-endpoint", os.Getenv("AI_ENDPOINT"), "assistant service endpoint (empty disables)")
		aiTimeout     = fs.Duration("ai-timeout", ai.DefaultTimeout, "assistant request timeout")
		saveInterval  = fs.Duration("save-interval", autosave.DefaultConfig().Interval, "room autosave interval")
		logLevel      = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse log level")
	}
	logger = logger.Level(lvl)

	db, err := store.New(*dbPath, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *dbPath).Msg("failed to initialize database")
	}
	defer db.Close()

	assistant := ai.New(*aiEndpoint, *aiTimeout, &logger)

	h := hub.New(hub.Config{
		SnapshotStore: db,
		ChatStore:     db,
		Assistant:     assistant,
		Logger:        &logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	saver := autosave.New(h, autosave.Config{Interval: *saveInterval}, &logger)
	saver.Start()
	defer saver.Stop()

	listener, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", *listenAddr).Msg("failed to listen")
	}

	mux := http.NewServeMux()
	api.New(h, db, &logger).Register(mux)
	apiSrv := &http.Server{Addr: *apiListenAddr, Handler: mux}

	hubDone := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(hubDone)
	}()
	go h.Serve(ctx, listener)

	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server failed")
			cancel()
		}
	}()

	logger.Info().
		Str("ws", *listenAddr).
		Str("api", *apiListenAddr).
		Str("db", *dbPath).
		Msg("collaboration server started")

	<-ctx.Done()
	logger.Warn().Msg("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := apiSrv.Shutdown(shCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	<-hubDone
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
