package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"granix/internal/api"
	"granix/internal/config"
	"granix/internal/logging"
	"granix/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (default $GRANIX_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvDeps, err := api.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init server", zap.Error(err))
	}
	defer func() { _ = srvDeps.Close() }()

	metrics.RegisterDefault()
	mux := http.NewServeMux()

	// Pipelines
	mux.HandleFunc("/v1/manifests", srvDeps.ManifestsHandler)
	mux.HandleFunc("/v1/invoices", srvDeps.InvoicesHandler)

	// Lookups
	mux.HandleFunc("/v1/geocode", srvDeps.GeocodeHandler)
	mux.HandleFunc("/v1/routes/", srvDeps.RouteByDateHandler)
	mux.HandleFunc("/v1/stops", srvDeps.StopsHandler)

	// Event streams
	mux.HandleFunc("/v1/events/stream", srvDeps.EventsStreamHandler)
	mux.HandleFunc("/v1/events/ws", srvDeps.EventsWSHandler)

	// Health, metrics, debug
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/info", srvDeps.DebugJSON)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           logMiddleware(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}
}

func logMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route, status).Observe(dur.Seconds())
		logger.Info("request",
			zap.String("remote", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", dur))
	})
}

// statusRecorder keeps Flush and Hijack reachable for the event streams.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
