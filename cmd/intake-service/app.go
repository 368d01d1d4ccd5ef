package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/novacare/clinic-intake/pkg/broker"
	"github.com/novacare/clinic-intake/pkg/checkin"
	"github.com/novacare/clinic-intake/pkg/common/config"
	"github.com/novacare/clinic-intake/pkg/common/database"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/common/httpjson"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/middleware"
	"github.com/novacare/clinic-intake/pkg/consultation"
	"github.com/novacare/clinic-intake/pkg/naming"
	"github.com/novacare/clinic-intake/pkg/observability/metrics"
	"github.com/novacare/clinic-intake/pkg/patient"
	"github.com/novacare/clinic-intake/pkg/resync"
	"github.com/novacare/clinic-intake/pkg/store"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type app struct {
	cfg       *config.Config
	db        *gorm.DB
	redis     *redis.Client
	publisher events.Publisher

	patients      *patient.Handler
	consultations *consultation.Handler
	checkins      *checkin.Handler
	resync        *resync.Handler
	worker        *resync.Worker
}

func newApp(cfg *config.Config) (*app, error) {
	catalog := naming.DefaultCatalog()
	if cfg.FieldCatalogPath != "" {
		loaded, err := naming.LoadCatalog(cfg.FieldCatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	adapter := naming.NewAdapter(catalog)

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	records := store.New(db)
	if err := records.AutoMigrate(); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	a := &app{cfg: cfg, db: db}

	var cache patient.Cache = patient.NoopCache{}
	if cfg.CacheEnabled() {
		a.redis = database.NewRedis(cfg)
		cache = patient.NewRedisCache(a.redis, cfg.PatientCacheTTL)
	}

	publisher, err := events.New(cfg)
	if err != nil {
		logger.Log.WithError(err).Warn("Event transport unavailable, falling back to log-only events")
		publisher = events.NewPublisher(cfg.ServiceName, nil)
	}
	a.publisher = publisher

	brokerClient := broker.NewFromConfig(cfg)
	patients := patient.NewRepository(records, adapter, cache)

	a.worker = resync.NewWorker(patients, brokerClient, adapter, publisher, resync.Options{
		BatchSize: cfg.SyncBatchSize,
		Attempts:  cfg.SyncRetryAttempts,
		BaseDelay: 250 * time.Millisecond,
		// Covers the check-in's own sync call plus a token fetch.
		Grace: 2 * cfg.BrokerTimeout,
	})
	a.patients = patient.NewHandler(patients, adapter, publisher)
	a.consultations = consultation.NewHandler(consultation.NewRepository(records), publisher)
	a.checkins = checkin.NewHandler(checkin.NewService(brokerClient, patients, adapter, publisher))
	a.resync = resync.NewHandler(a.worker)
	return a, nil
}

func (a *app) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)
	router.Use(middleware.BodyLimit(a.cfg.MaxRequestBody))
	router.Use(middleware.RateLimit(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httpjson.Write(w, http.StatusOK, map[string]string{
			"status":  "OK",
			"service": a.cfg.ServiceName,
		})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	a.checkins.Register(router)
	a.patients.Register(router)
	a.consultations.Register(router)
	a.resync.Register(router)

	// mux only runs middleware on matched routes; preflight requests need a
	// route of their own.
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	return router
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close event publisher")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := database.Close(a.db); err != nil {
		logger.Log.WithError(err).Warn("Failed to close record store")
	}
}
