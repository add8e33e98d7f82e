package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/gochat-gateway/internal/config"
	"github.com/Tyrowin/gochat-gateway/internal/gateway"
	"github.com/Tyrowin/gochat-gateway/internal/moderation"
	"github.com/Tyrowin/gochat-gateway/internal/ratelimit"
	"github.com/Tyrowin/gochat-gateway/internal/upstream"
)

func main() {
	envFile := pflag.String("env-file", ".env", "path to a dotenv file loaded before reading the environment")
	port := pflag.String("port", "", "listen port (overrides PORT)")
	apiURL := pflag.String("api-url", "", "identity and persistence API base URL (overrides API_URL)")
	policy := pflag.String("policy", "", "moderation policy YAML file (overrides POLICY_FILE)")
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg := config.FromEnv()
	if *port != "" {
		cfg.Port = *port
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *policy != "" {
		cfg.PolicyFile = *policy
	}
	*cfg = config.Sanitize(*cfg)

	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped with error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "gateway").Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	api := upstream.New(cfg.APIURL, cfg.UpstreamTimeout, logger)

	opts := gateway.HubOptions{
		HistorySize:        cfg.HistorySize,
		Persister:          api,
		WarnAllOnRateLimit: cfg.RateLimit.WarnAll,
		PersistTimeout:     cfg.UpstreamTimeout,
		MaxMessageSize:     cfg.MaxMessageSize,
		Logger:             logger,
	}

	if cfg.RateLimit.Enabled {
		opts.Limiter = ratelimit.New(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	if cfg.Moderation {
		pol, err := loadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		opts.Moderator = pol
		logger.Info().
			Int("terms", pol.Terms()).
			Strs("domains", pol.Domains()).
			Msg("moderation enabled")
	}

	if cfg.EmitSecret == "" {
		logger.Warn().Msg("EMIT_SECRET is not set; POST /emit accepts any caller")
	}

	hub := gateway.NewHub(opts)
	go hub.Run()

	handlers := gateway.NewHandlers(gateway.HandlerOptions{
		Hub:            hub,
		AllowedOrigins: cfg.AllowedOrigins,
		EmitSecret:     cfg.EmitSecret,
		Logger:         logger,
	})
	router := gateway.SetupRoutes(handlers, api, logger)
	srv := gateway.CreateServer(cfg.Addr(), router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("api_url", cfg.APIURL).
			Strs("origins", cfg.AllowedOrigins).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		var errs []error
		if err := gateway.ShutdownServer(srv, cfg.ShutdownTimeout, logger); err != nil {
			errs = append(errs, err)
		}
		if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func loadPolicy(path string) (*moderation.Policy, error) {
	if path == "" {
		return moderation.Default(), nil
	}
	pol, err := moderation.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load moderation policy: %w", err)
	}
	return pol, nil
}
