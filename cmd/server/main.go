package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/scheduler"
	"github.com/example/ride-dispatch/internal/scorer"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, log)
	}

	var avail geo.Availability
	if cfg.RedisAddr != "" {
		avail = geo.NewRedisAvailability(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.GeohashPrecision)
	} else {
		avail = geo.NewMemoryAvailability(cfg.GeohashPrecision)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Error("postgres unavailable, falling back to memory store", "error", err)
		} else {
			store = ps
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	sc := scorer.New(cfg.DefaultSpeedMps)
	if endpoint := os.Getenv("OSRM_ENDPOINT"); endpoint != "" {
		sc.ETAClient = eta.NewOSRMClient(endpoint)
		sc.ETACache = eta.NewCache(30 * time.Second)
	}

	reg := registry.New()
	surge := pricing.NewEngine(cfg.SurgeMin, cfg.SurgeMax)

	disp := dispatch.New(log, avail, sc, surge, store, reg, dispatch.Options{
		OfferTimeout:     cfg.OfferTimeout,
		TopK:             cfg.TopK,
		SearchRadiusKm:   cfg.SearchRadiusKm,
		GeohashPrecision: cfg.GeohashPrecision,
		RatePerSeatKm:    cfg.RatePerSeatKm,
	})
	if os.Getenv("STRIPE_API_KEY") != "" {
		disp.WithPayments(payments.NewStripeClient())
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trigger := scheduler.NewTrigger(log, store, reg, cfg.ScheduleTick)
	go trigger.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(log, disp, avail, reg, kp),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		log.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("ride-dispatch stopped")
}

func runMigrations(dsn string, log *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch.sql"))
	if err != nil {
		log.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Error("migration exec error", "error", err)
	}
}
