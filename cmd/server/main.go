// Command server wires the scheduling core together and runs the HTTP API
// plus the audit outbox worker. Business logic lives in the internal service
// packages; this file only connects configuration to constructors.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	appointmenthandler "docflow/internal/appointment/handler"
	appointmentservice "docflow/internal/appointment/service"
	appointmentstore "docflow/internal/appointment/store"
	"docflow/internal/authz"
	"docflow/internal/consent/cache"
	consenthandler "docflow/internal/consent/handler"
	consentservice "docflow/internal/consent/service"
	consentstore "docflow/internal/consent/store"
	"docflow/internal/guard"
	identityhandler "docflow/internal/identity/handler"
	identityservice "docflow/internal/identity/service"
	identitystore "docflow/internal/identity/store"
	"docflow/internal/notify"
	patienthandler "docflow/internal/patient/handler"
	patientservice "docflow/internal/patient/service"
	patientstore "docflow/internal/patient/store"
	"docflow/internal/pii"
	"docflow/internal/platform/config"
	"docflow/internal/platform/httpserver"
	"docflow/internal/platform/logger"
	"docflow/internal/platform/metrics"
	"docflow/internal/platform/middleware"
	platformpg "docflow/internal/platform/postgres"
	platformredis "docflow/internal/platform/redis"
	"docflow/internal/tenancy"
	tenanthandler "docflow/internal/tenant/handler"
	tenantservice "docflow/internal/tenant/service"
	tenantstore "docflow/internal/tenant/store"
	httptransport "docflow/internal/transport/http"
	"docflow/pkg/platform/audit"
	auditpublisher "docflow/pkg/platform/audit/publisher"
	auditmemory "docflow/pkg/platform/audit/store/memory"
	auditpg "docflow/pkg/platform/audit/store/postgres"
	auditworker "docflow/pkg/platform/audit/worker"
	"docflow/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	piiKey, err := cfg.PIIKey()
	if err != nil {
		return err
	}
	codec, err := pii.NewCodec(piiKey)
	if err != nil {
		return err
	}

	// Persistence. Without DATABASE_URL the process runs fully in memory for
	// local development.
	var (
		db     *sql.DB
		runner tx.Runner = tx.Passthrough{}
	)
	if cfg.DatabaseURL != "" {
		db, err = platformpg.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		runner = platformpg.NewTxRunner(db)
	}

	var (
		tenants      tenantservice.Store
		identities   identityservice.Store
		consents     consentservice.Store
		patients     patientservice.Store
		appointments appointmentservice.Store
		auditStore   audit.Store
	)
	if db != nil {
		tenants = tenantstore.NewPostgres(db)
		identities = identitystore.NewPostgres(db)
		consents = consentstore.NewPostgres(db)
		patients = patientstore.NewPostgres(db)
		appointments = appointmentstore.NewPostgres(db)
		auditStore = auditpg.New(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		tenants = tenantstore.NewInMemory()
		identities = identitystore.NewInMemory()
		consents = consentstore.NewInMemory()
		patients = patientstore.NewInMemory()
		appointments = appointmentstore.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	var consentCache consentservice.Cache = cache.Noop{}
	if redisClient != nil {
		defer redisClient.Close()
		consentCache = cache.NewRedis(redisClient.Client, log)
	}

	var notifyPublisher notify.Publisher = notify.LogPublisher{Logger: log}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.NewKafkaProducer(ctx, cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer producer.Close()
		notifyPublisher = producer
	}
	notifier := notify.NewDispatcher(notifyPublisher, log)

	recorder := audit.NewRecorder(auditStore, log)
	authorizer := authz.NewRoleAuthorizer(log)

	tenantSvc := tenantservice.New(tenants, recorder, log)
	identitySvc := identityservice.New(identities, tenants, recorder, log)
	consentSvc := consentservice.New(consents, consentCache, recorder, log)
	patientSvc := patientservice.New(patients, codec, authorizer, recorder, log)
	appointmentSvc := appointmentservice.New(appointments, identities, patients, tenants,
		codec, authorizer, recorder, notifier, log)
	registrar := patientservice.NewRegistrar(tenantSvc, identitySvc, patientSvc, consentSvc,
		runner, notifier, log)

	if err := consentSvc.BootstrapDefaults(ctx); err != nil {
		return err
	}

	resolver := tenancy.NewResolver(tenants, log)
	pipeline := guard.New(resolver, authorizer, consentSvc, httptransport.ConsentExemptPaths, log)

	m := metrics.New()
	validator := middleware.NewValidator(cfg.JWTSigningKey)

	router := httptransport.NewRouter(httptransport.Deps{
		Tenants:      tenanthandler.New(tenantSvc, pipeline, m, log),
		Identity:     identityhandler.New(identitySvc, pipeline, m, log),
		Consents:     consenthandler.New(consentSvc, pipeline, m, log),
		Patients:     patienthandler.New(patientSvc, registrar, pipeline, m, log),
		Appointments: appointmenthandler.New(appointmentSvc, pipeline, m, log),
		Audit:        httptransport.NewAuditHandler(recorder, pipeline, m, log),
		Validator:    validator,
		Metrics:      m,
		Logger:       log,
	})

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// The outbox worker needs both the database and a broker; without either
	// the audit_entries table alone remains the system of record.
	if db != nil && len(cfg.KafkaBrokers) > 0 {
		sink, err := auditpublisher.New(ctx, cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer sink.Close()
		worker := auditworker.New(db, sink, log)
		group.Go(func() error {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return group.Wait()
}
