package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/evidentia/syncplatform/applications/httpapi"
	"github.com/evidentia/syncplatform/domain/capability"
	"github.com/evidentia/syncplatform/domain/duplicates"
	"github.com/evidentia/syncplatform/domain/pipeline"
	"github.com/evidentia/syncplatform/domain/sync"
	"github.com/evidentia/syncplatform/infrastructure/cache"
	"github.com/evidentia/syncplatform/infrastructure/config"
	"github.com/evidentia/syncplatform/infrastructure/eventbus"
	"github.com/evidentia/syncplatform/infrastructure/identifierclient"
	"github.com/evidentia/syncplatform/infrastructure/logging"
	"github.com/evidentia/syncplatform/infrastructure/metrics"
	"github.com/evidentia/syncplatform/infrastructure/middleware"
	"github.com/evidentia/syncplatform/infrastructure/objectstore"
	"github.com/evidentia/syncplatform/infrastructure/state"
	"github.com/evidentia/syncplatform/storage/postgres"
	"github.com/evidentia/syncplatform/storage/postgres/migrations"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	blobDir := flag.String("blob-dir", "./data/blobs", "filesystem directory backing the evidence blob store")
	identifierAuthorityURL := flag.String("identifier-authority-url", "http://localhost:9090", "base URL of the remote identifier authority")
	flag.Parse()

	cfg := config.New()
	if trimmed := strings.TrimSpace(*configPath); trimmed != "" {
		loaded, err := config.LoadFile(trimmed)
		if err != nil {
			log.Fatalf("load config %s: %v", trimmed, err)
		}
		cfg = loaded
	}

	log_ := logging.New("syncplatform", cfg.Logging.Level, cfg.Logging.Format)

	dsn := resolveDSN(cfg)
	if dsn == "" {
		log_.Fatal("no database connection configured: set DATABASE_URL or database.dsn/host+name in config")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log_.WithError(err).Fatal("open database")
	}
	configurePool(db, cfg)
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(db); err != nil {
			log_.WithError(err).Fatal("apply migrations")
		}
	}

	blobStore, err := objectstore.NewFSStore(*blobDir)
	if err != nil {
		log_.WithError(err).Fatal("initialise blob store")
	}

	deps := buildDependencies(db, blobStore, log_, metrics.New("syncplatform"), *identifierAuthorityURL, dsn)
	registerCapabilities(deps)

	listenAddr := resolveAddr(*addr, cfg)
	svc := httpapi.NewService(deps, listenAddr,
		httpapi.WithSessionAuthConfig(sessionAuthConfig(cfg, log_)),
	)

	scheduler := httpapi.NewScheduler(svc)
	scheduler.Start()
	defer scheduler.Stop()

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		log_.WithError(err).Fatal("start http service")
	}
	log_.WithField("addr", svc.Addr()).Info("evidence platform listening")

	gs := middleware.NewGracefulShutdown(nil, 20*time.Second)
	gs.OnShutdown(func() {
		scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := svc.Stop(shutdownCtx); err != nil {
			log_.WithError(err).Error("stop http service")
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	gs.Shutdown()
}

// buildDependencies wires every store, domain registry, and the evidence
// pipeline orchestrator into one Dependencies bundle, the single
// construction point httpapi.NewService and httpapi.NewScheduler both
// build on.
func buildDependencies(db *sql.DB, blobStore objectstore.Store, log_ *logging.Logger, m *metrics.Metrics, identifierAuthorityURL string, dsn string) *httpapi.Dependencies {
	kv := postgres.NewKVBackend(db, 0)
	persistentState, err := state.NewPersistentState(state.Config{
		Backend:   kv,
		KeyPrefix: "lease:",
	})
	if err != nil {
		log_.WithError(err).Fatal("initialise lease state backend")
	}
	lease := state.NewLease(persistentState)

	documents := postgres.NewDocumentStore(db)
	entities := postgres.NewEntityStore(db)
	authorities := postgres.NewAuthorityGrantStore(db)
	gaps := postgres.NewGapStore(db)
	duplicateStore := postgres.NewDuplicateStore(db)
	scanStates := postgres.NewScanStateStore(db)
	corrections := postgres.NewCorrectionStore(db)
	queueItems := postgres.NewQueueItemStore(db)
	capabilities := postgres.NewCapabilityStore(db)
	sessions := postgres.NewSessionStore(db)
	projects := postgres.NewProjectStore(db)
	distributionStore := postgres.NewDistributionStore(db)
	provenance := postgres.NewProvenanceStore(db)

	idClient := identifierclient.New(identifierclient.DefaultConfig(identifierAuthorityURL))

	bus, err := eventbus.NewWithDB(db, dsn)
	if err != nil {
		log_.WithError(err).Error("initialise event bus; topic sinks will fail until this is resolved")
		bus = nil
	}

	duplicateLookup := func(ctx context.Context, contentHash string) (string, bool, error) {
		doc, err := documents.FindByContentHash(ctx, contentHash)
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return doc.ID, true, nil
	}

	pl := &pipeline.Pipeline{
		BlobStore:       blobStore,
		ContentHashFunc: duplicates.ContentHash,
		DuplicateLookup: duplicateLookup,
		DeadLetterStore: blobStore,
		NewID:           newUUID,
		Now:             func() int64 { return time.Now().UTC().UnixMilli() },
	}

	deps := &httpapi.Dependencies{
		DB: db,

		Documents:    documents,
		Entities:     entities,
		Authorities:  authorities,
		Gaps:         gaps,
		Duplicates:   duplicateStore,
		ScanStates:   scanStates,
		Corrections:  corrections,
		QueueItems:   queueItems,
		Capabilities: capabilities,
		Sessions:     sessions,
		Projects:     projects,
		Distribution: distributionStore,
		Provenance:   provenance,
		KV:           kv,

		Pipeline:        pl,
		SessionRegistry: sync.NewRegistry(),
		Consolidator:    sync.NewConsolidator(lease, "syncplatform-server"),
		Lease:           lease,

		CapabilityRegistry: httpapi.NewCapabilityRegistry(),
		IdentifierClient:   idClient,
		BlobStore:          blobStore,

		Logger:  log_,
		Metrics: m,

		NewID: newUUID,
		Now:   func() time.Time { return time.Now().UTC() },

		RetentionDays: 90,

		DistributionSender: httpapi.NewDistributionSender(nil, bus),
		SearchCache:        cache.NewTTLCache(30 * time.Second),
	}
	return deps
}

func newUUID() string {
	return uuid.NewString()
}

// registerCapabilities declares every capability this deployment exposes
// through the /v2 surface and binds its dynamic handler. Each definition's
// rollout rules follow the promotion ladder: experimental -> limited ->
// general on sustained healthy usage, demoted straight to quarantined on a
// failure-rate spike.
func registerCapabilities(deps *httpapi.Dependencies) {
	standardRollout := []capability.RolloutRule{
		{Gate: capability.GateUsageCount, Threshold: 100, Direction: capability.DirectionPromote, TargetStatus: capability.StatusLimited},
		{Gate: capability.GateSuccessRate, Threshold: 0.99, Direction: capability.DirectionPromote, TargetStatus: capability.StatusGeneral},
		{Gate: capability.GateFailureRate, Threshold: 0.2, Direction: capability.DirectionDemote, TargetStatus: capability.StatusQuarantined},
	}

	defs := []capability.Definition{
		{
			ID: "provenance.append", Name: "Append Provenance Record", Version: "1.0.0", Domain: "provenance",
			Status: capability.StatusGeneral, RequiredGrade: capability.GradeC, RolloutRules: standardRollout,
		},
		{
			ID: "provenance.verify", Name: "Verify Provenance Chain", Version: "1.0.0", Domain: "provenance",
			Status: capability.StatusGeneral, RequiredGrade: capability.GradeD, RolloutRules: standardRollout,
		},
		{
			ID: "provenance.certify", Name: "Certify Provenance Chain", Version: "1.0.0", Domain: "provenance",
			Status: capability.StatusLimited, RequiredGrade: capability.GradeB, RolloutRules: standardRollout,
		},
	}

	registry := httpapi.NewCapabilityRegistry(defs...)
	registry.Bind("provenance.append", deps.ProvenanceAppendHandler())
	registry.Bind("provenance.verify", deps.ProvenanceVerifyHandler())
	registry.Bind("provenance.certify", deps.ProvenanceCertifyHandler())
	deps.CapabilityRegistry = registry
}

func resolveDSN(cfg *config.Config) string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	if strings.TrimSpace(cfg.Database.DSN) != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func resolveAddr(flagAddr string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagAddr); trimmed != "" {
		return trimmed
	}
	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func sessionAuthConfig(cfg *config.Config, log_ *logging.Logger) middleware.SessionAuthConfig {
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = []byte(strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")))
	}
	return middleware.SessionAuthConfig{
		Secret: secret,
		Logger: log_,
	}
}
