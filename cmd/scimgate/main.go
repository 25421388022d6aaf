package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/scimgate/internal/authn"
	"github.com/dhawalhost/scimgate/internal/config"
	"github.com/dhawalhost/scimgate/internal/connector/memory"
	"github.com/dhawalhost/scimgate/internal/gateway"
	"github.com/dhawalhost/scimgate/internal/notify"
	"github.com/dhawalhost/scimgate/internal/schema"
	"github.com/dhawalhost/scimgate/pkg/logger"
	"github.com/dhawalhost/scimgate/pkg/middleware"
	"github.com/dhawalhost/scimgate/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "scimgate:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	var hooks []func(zapcore.Entry) error
	if cfg.EmailOnError.Enabled {
		mailer := &notify.Mailer{
			Host:     cfg.EmailOnError.Host,
			Port:     cfg.EmailOnError.Port,
			Username: cfg.EmailOnError.Username,
			Password: cfg.EmailOnError.Password,
			From:     cfg.EmailOnError.From,
			To:       cfg.EmailOnError.To,
		}
		throttle := notify.NewThrottle(mailer, cfg.EmailOnError.Throttle, zap.NewNop())
		hooks = append(hooks, throttle.ErrorHook("scimgate"))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, hooks...)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := schema.Load(schema.Version(cfg.SCIM.Version), cfg.SCIM.CustomSchema)
	if err != nil {
		return fmt.Errorf("loading schemas: %w", err)
	}

	chain, err := authn.NewChain(ctx, authn.Config{
		Basic:       cfg.Auth.Basic,
		BearerToken: cfg.Auth.BearerToken,
		BearerJWT:   cfg.Auth.BearerJWT,
		BearerOIDC:  cfg.Auth.BearerOIDC,
		Cooldown:    cfg.Auth.Cooldown,
	}, log)
	if err != nil {
		return fmt.Errorf("building auth chain: %w", err)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:  "scimgate",
			OTLPEndpoint: cfg.Tracing.Endpoint,
		}, log)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("trace exporter shutdown", zap.Error(err))
			}
		}()
	}

	backend := memory.New(registry)
	handler := gateway.NewHandler(registry, backend, log)

	extra := []gin.HandlerFunc{
		middleware.RequestLogger(log),
		middleware.SecurityHeadersMiddleware(),
		cors.Default(),
	}
	if cfg.RateLimit.RPS > 0 {
		extra = append(extra, middleware.RateLimitMiddleware(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst))
	}
	if cfg.Tracing.Enabled {
		extra = append(extra, otelgin.Middleware("scimgate"))
	}
	if cfg.Metrics.Enabled {
		extra = append(extra, observability.PrometheusMiddleware(observability.NewMetrics()))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", observability.PrometheusHandler())
	}
	mux.Handle("/", handler.Routes(chain, extra...))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.SCIM.Version),
			zap.Bool("tls", cfg.Server.CertFile != ""))
		if cfg.Server.CertFile != "" {
			errCh <- srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down", zap.Duration("grace", cfg.Server.ShutdownGrace))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
