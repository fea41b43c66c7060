// Command editord serves the collaborative editing backend: websocket
// realtime endpoint, document previews, health and metrics.
//
// Configuration is environment-driven:
//
//	PORT               listen port, default 3001
//	STORE              pebble | postgres | memory, default pebble
//	DATA_DIR           pebble directory, default ./data
//	DATABASE_URL       postgres url, required for STORE=postgres
//	REDIS_URL          enables the redis cache and broker; without it
//	                   the process runs standalone on in-memory ones
//	SNAPSHOT_INTERVAL  persistence debounce, default 30s
//	CACHE_TTL          cached state lifetime, default 1h
//	AWARENESS_TIMEOUT  presence expiry, default 30s
//	LOG_LEVEL          debug | info | warn | error, default info
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	editor "github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/gateway"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/storage"
	"github.com/KumarDhananjaya/Real-Time-Collaborative-Text-Editor/utils"
)

func main() {
	log := utils.NewDefaultLogger(logLevel())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(editor.Collectors()...)

	var store editor.Store
	switch env("STORE", "pebble") {
	case "pebble":
		ps, err := storage.OpenPebble(env("DATA_DIR", "./data"))
		if err != nil {
			log.Error("pebble open failed", "err", err)
			os.Exit(1)
		}
		defer ps.Close()
		registry.MustRegister(storage.NewPebbleCollector(ps.DB()))
		store = ps
	case "postgres":
		pg, err := storage.NewPgStore(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			log.Error("postgres connect failed", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
	case "memory":
		store = storage.NewMemStore()
	default:
		log.Error("unknown STORE", "store", os.Getenv("STORE"))
		os.Exit(1)
	}

	var cache editor.Cache
	var broker editor.Broker
	if url := os.Getenv("REDIS_URL"); url != "" {
		rc, err := storage.NewRedisCache(ctx, url)
		if err != nil {
			log.Error("redis cache connect failed", "err", err)
			os.Exit(1)
		}
		defer rc.Close()
		rb, err := storage.NewRedisBroker(ctx, url, log)
		if err != nil {
			log.Error("redis broker connect failed", "err", err)
			os.Exit(1)
		}
		defer rb.Close()
		cache, broker = rc, rb
	} else {
		log.Warn("REDIS_URL not set, running standalone")
		cache, broker = storage.NewMemCache(), storage.NewMemBroker()
	}

	mgr := editor.NewManager(cache, store, broker, log, editor.Options{
		SnapshotInterval: envDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		CacheTTL:         envDuration("CACHE_TTL", time.Hour),
		AwarenessTimeout: envDuration("AWARENESS_TIMEOUT", 30*time.Second),
	})
	mgr.StartExpiry(ctx)
	g := gateway.New(mgr, log)

	router := mux.NewRouter()
	router.HandleFunc("/ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.ServeWS(w, r, mux.Vars(r)["id"])
	})
	router.HandleFunc("/docs/{id}/preview", func(w http.ResponseWriter, r *http.Request) {
		text, err := mgr.Preview(r.Context(), mux.Vars(r)["id"])
		if err == editor.ErrNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "preview unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + env("PORT", "3001"),
		Handler: router,
	}
	go func() {
		log.Info("listening", "addr", srv.Addr, "server", mgr.Server())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	mgr.ShutdownAll(shutdownCtx)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func logLevel() slog.Level {
	switch env("LOG_LEVEL", "info") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
