package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aria-voice/aria/internal/config"
	"github.com/aria-voice/aria/internal/events"
	"github.com/aria-voice/aria/internal/httpapi"
	"github.com/aria-voice/aria/internal/observability"
	"github.com/aria-voice/aria/internal/session"
	"github.com/aria-voice/aria/internal/transcript"
	"github.com/aria-voice/aria/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("transcript archive: postgres")
	} else {
		log.Printf("transcript archive: in-memory")
	}

	newAdapter := func() (transport.Adapter, error) {
		return transport.NewAdapter(cfg.TransportMode, cfg.UpstreamURL, cfg.AuthToken)
	}
	if _, err := newAdapter(); err != nil {
		log.Fatalf("transport init failed: %v", err)
	}
	log.Printf("transport mode: %s", cfg.TransportMode)

	registry := session.NewRegistry()
	bus := events.NewBus()
	defer bus.Close()

	api := httpapi.New(cfg, registry, bus, store, metrics, newAdapter)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
