package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rbroggi/configstore"
	"github.com/rbroggi/configstore/adapter"
	"github.com/rbroggi/configstore/adapter/memoryadapter"
	"github.com/rbroggi/configstore/adapter/mongoadapter"
	"github.com/rbroggi/configstore/overlay"
)

// Start a MongoDB instance reachable at the configured endpoints before
// running this executable against it; set DOCUMENT_STORE_TYPE=memory to
// run fully in-process instead.
func main() {
	cfg, err := loadServiceConfig()
	if err != nil {
		log.Fatal(err)
	}
	slog.SetLogLoggerLevel(cfg.LogLevel)
	lgr := slog.Default()

	runnableCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildAdapter(runnableCtx, cfg, lgr)
	if err != nil {
		log.Fatal(err)
	}

	versioned := configstore.NewVersionedConfigStore(a, nil)
	var sink overlay.EventSink = overlay.NopEventSink{}
	if cfg.PublishChangeEvents {
		sink = overlay.SlogEventSink{Logger: lgr}
	}
	s := &server{
		lgr:       lgr,
		versioned: versioned,
		sink:      sink,
	}
	router := newRouter(s)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: router,
	}
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler: newAdminMux(versioned),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()
	lgr.Info("server listening", "port", cfg.Service.Port, "adminPort", cfg.Service.AdminPort)

	<-runnableCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("error during shutdown", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("error during admin shutdown", "error", err)
	}
	lgr.Info("server stopped")
}

// newAdminMux serves the health endpoint on the admin port, away from the
// tenant-facing API surface.
func newAdminMux(versioned *configstore.VersionedConfigStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := versioned.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func buildAdapter(ctx context.Context, cfg *ServiceConfig, lgr *slog.Logger) (adapter.Adapter, error) {
	if cfg.DocumentStore.DataStoreType == "memory" {
		lgr.Info("using in-memory adapter")
		return memoryadapter.New(), nil
	}
	db, err := connectMongo(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return mongoadapter.New(ctx, mongoadapter.Args{DB: db})
}

func connectMongo(ctx context.Context, cfg *ServiceConfig) (*mongo.Database, error) {
	connectCtx, cnl := context.WithTimeout(ctx, 5*time.Second)
	defer cnl()
	opts := options.Client()
	opts.ApplyURI(cfg.DocumentStore.Mongo.URI())
	opts.SetMaxPoolSize(cfg.DocumentStore.MaxPoolSize)
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo unreachable: %w", err)
	}
	return client.Database(cfg.DocumentStore.Mongo.Database), nil
}
