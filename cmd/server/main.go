package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-session-auth/csrf"
	"github.com/jrsteele09/go-session-auth/internal/config"
	"github.com/jrsteele09/go-session-auth/internal/metrics"
	"github.com/jrsteele09/go-session-auth/jobs"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/refresh/backend"
	"github.com/jrsteele09/go-session-auth/server"
	"github.com/jrsteele09/go-session-auth/session"
	"github.com/jrsteele09/go-session-auth/timeline"
	"github.com/jrsteele09/go-session-auth/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const memorySweepInterval = time.Minute

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("Error running server")
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, closeDeps, err := buildServer(ctx, c)
	if err != nil {
		return err
	}
	defer closeDeps()

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go func() {
		if err := listenAndServe(httpServer); err != nil {
			log.Error().Err(err).Msg("listener stopped")
		}
	}()
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// buildServer wires the refresh registry, session service and job timeline behind the HTTP
// layer. The returned func releases backend connections.
func buildServer(ctx context.Context, c config.Config) (*server.Server, func(), error) {
	binder, err := csrf.New(c.GetRefreshCSRFSecret())
	if err != nil {
		return nil, nil, fmt.Errorf("refresh csrf binder: %w", err)
	}
	signer, err := token.NewHMACSigner(c.GetJWTSecret(), c.GetJWTIssuer(), c.GetJWTAudience())
	if err != nil {
		return nil, nil, fmt.Errorf("access token signer: %w", err)
	}

	sel := backend.Select(ctx, backend.OptionsFromConfig(c), log.Logger)
	if sel.Memory != nil {
		go sel.Memory.Run(ctx, memorySweepInterval)
	}

	var m *metrics.Metrics
	if c.GetMetricsEnabled() {
		m = metrics.New(c.GetMetricsNamespace(), c.GetMetricsSubsystem())
	}

	registryOpts := refresh.Options{
		SessionTTL:   c.GetRefreshSessionTTL(),
		BlacklistTTL: c.GetRefreshBlacklistTTL(),
	}
	sessionCfg := session.Config{
		AccessTokenTTL: c.GetAccessTokenTTL(),
		GuestTokenTTL:  c.GetGuestAccessTokenTTL(),
	}
	if m != nil {
		registryOpts.Metrics = m
		sessionCfg.Metrics = m
	}
	registry := refresh.NewRegistry(sel.Store, binder, registryOpts)
	sessions := session.NewService(registry, signer, sessionCfg)

	var tl timeline.Store = timeline.NewMemoryStore()
	closeTimeline := func() {}
	if redisURL := c.GetRedisURL(); redisURL != "" {
		client, err := config.NewRedisClient(ctx, redisURL)
		if err != nil {
			log.Warn().Err(err).Msg("timeline redis unavailable, using process memory")
		} else {
			tl = timeline.NewRedisStore(client)
			closeTimeline = func() { _ = client.Close() }
		}
	}

	srv, err := server.New(c, server.Deps{
		Sessions:  sessions,
		Registry:  registry,
		Binder:    binder,
		Signer:    signer,
		Timeline:  tl,
		Jobs:      jobs.NewRegistry(),
		Metrics:   m,
		StoreKind: string(sel.Kind),
	})
	closeAll := func() {
		closeTimeline()
		if err := sel.Close(); err != nil {
			log.Warn().Err(err).Msg("closing refresh store")
		}
	}
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return srv, closeAll, nil
}

func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
