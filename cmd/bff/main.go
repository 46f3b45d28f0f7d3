package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/lawfirm-bff/internal/config"
	"github.com/pribylovaa/lawfirm-bff/internal/gateway"
	bffhttp "github.com/pribylovaa/lawfirm-bff/internal/http"
	"github.com/pribylovaa/lawfirm-bff/internal/http/middleware"
	"github.com/pribylovaa/lawfirm-bff/internal/metrics"
	"github.com/pribylovaa/lawfirm-bff/internal/ratelimit"
	"github.com/pribylovaa/lawfirm-bff/internal/session"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting bff", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gw, err := gateway.New(gateway.Options{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		UserAgent: cfg.Upstream.UserAgent,
		Logger:    log,
		Metrics:   m,
	})
	if err != nil {
		log.Error("gateway_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	limiter, closeLimiter := setupLimiter(rootCtx, cfg.RateLimit, log)
	defer closeLimiter()

	relay := session.NewRelay(gw, log, m)
	cookies := session.NewCookiePolicy(cfg.Cookies)

	apiHandler := bffhttp.NewRouter(relay, cookies, bffhttp.Options{
		Logger:   log,
		Metrics:  m,
		Timeout:  cfg.Timeouts.Service,
		BasePath: cfg.HTTP.BasePath,
		Limiter:  limiter,
		RateLimit: middleware.RateLimitOptions{
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
			RetryAfter:        cfg.RateLimit.Window,
		},
	})

	var ready int32 // 0 — not ready; 1 — ready

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}

		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.Handle("/", apiHandler)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("http_listen_start", slog.String("addr", httpAddr), slog.String("base_path", cfg.HTTP.BasePath))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)
	log.Info("bff_ready")

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	log.Info("service_stopped")
}

// setupLimiter выбирает лимитер sign-in/sign-up: Redis, если задан redis_url
// и он отвечает, иначе в памяти процесса. nil — лимит выключен.
func setupLimiter(ctx context.Context, cfg config.RateLimitConfig, log *slog.Logger) (ratelimit.Limiter, func()) {
	noop := func() {}

	if cfg.Disabled {
		log.Info("ratelimit_disabled")
		return nil, noop
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn("ratelimit_redis_url_invalid", slog.String("err", err.Error()))
		} else {
			client := redis.NewClient(opts)

			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err = client.Ping(pingCtx).Err()
			cancel()

			if err == nil {
				log.Info("ratelimit_redis", slog.String("addr", opts.Addr))
				closeFn := func() {
					if cerr := client.Close(); cerr != nil {
						log.Warn("redis_close_failed", slog.String("err", cerr.Error()))
					}
				}

				return ratelimit.NewRedis(client, cfg.Limit, cfg.Window, "bff:ratelimit", log), closeFn
			}

			_ = client.Close()
			log.Warn("ratelimit_redis_unavailable", slog.String("err", err.Error()))
		}
	}

	mem := ratelimit.NewMemory(cfg.Limit, cfg.Window, cfg.Burst)
	go mem.Run(ctx, time.Minute)
	log.Info("ratelimit_memory")

	return mem, noop
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
