// Package app assembles every component into one explicit container, built
// once in cmd/agent/main.go. Nothing here is a package-level singleton:
// every constructor takes its dependencies as arguments, so a test can
// build a narrower App with fakes in place of the Postgres/Redis-backed
// collaborators.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atlasagent/atlas-core/internal/config"
	"github.com/atlasagent/atlas-core/internal/pipeline"
	"github.com/atlasagent/atlas-core/pkg/catalog"
	"github.com/atlasagent/atlas-core/pkg/contextbuilder"
	"github.com/atlasagent/atlas-core/pkg/dag"
	"github.com/atlasagent/atlas-core/pkg/episode"
	"github.com/atlasagent/atlas-core/pkg/extractor"
	"github.com/atlasagent/atlas-core/pkg/graphstore"
	"github.com/atlasagent/atlas-core/pkg/keypool"
	"github.com/atlasagent/atlas-core/pkg/lifecycle"
	"github.com/atlasagent/atlas-core/pkg/memgate"
	"github.com/atlasagent/atlas-core/pkg/metrics"
	"github.com/atlasagent/atlas-core/pkg/model"
	"github.com/atlasagent/atlas-core/pkg/modelclient"
	"github.com/atlasagent/atlas-core/pkg/orchestrator"
	"github.com/atlasagent/atlas-core/pkg/policy"
	"github.com/atlasagent/atlas-core/pkg/scheduler"
	"github.com/atlasagent/atlas-core/pkg/semcache"
	"github.com/atlasagent/atlas-core/pkg/synthesizer"
	"github.com/atlasagent/atlas-core/pkg/tasks"
	"github.com/atlasagent/atlas-core/pkg/vectorstore"
)

// App is the fully-wired set of collaborators the HTTP surface and the
// scheduler fleet both need.
type App struct {
	Config config.Config
	Logger *zap.Logger

	DB  *sqlx.DB
	Rdb *redis.Client

	Graph      *graphstore.Store
	Vectors    *vectorstore.Store
	Cache      *semcache.Cache
	Catalog    *catalog.Catalog
	KeyPool    map[string]*keypool.Pool // per-role pools, same rotation list each (spec §4.9)
	Lifecycle  *lifecycle.Engine
	Policy     *policy.Gate
	Metrics    *metrics.Registry
	Models     *modelclient.Dispatcher
	Embedder   *modelclient.Embedder

	ContextBuilder contextbuilder.Deps
	MemoryPolicy   memgate.Policy

	Orchestrator  *orchestrator.Orchestrator
	Synthesizer   *synthesizer.Synthesizer
	EpisodeWorker *episode.Worker

	DueScanner *tasks.DueScanner
	Observer   *tasks.Observer

	Scheduler *scheduler.Coordinator

	Tools    dag.ToolRegistry
	Pipeline *pipeline.Runner
}

// New opens the Postgres/Redis connections, runs migrations, and wires
// every component. Callers are responsible for calling Close when done.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, instanceID string) (*App, error) {
	sqlDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("app: open postgres: %w", err)
	}
	if err := graphstore.Migrate(sqlDB); err != nil {
		return nil, fmt.Errorf("app: run migrations: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "pgx")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	cat, err := catalog.Load(cfg.CatalogPath, logger)
	if err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}

	policyModule := policy.DefaultModule
	if cfg.PolicyPath != "" {
		loaded, rerr := loadPolicyFile(cfg.PolicyPath)
		if rerr != nil {
			return nil, fmt.Errorf("app: load policy file: %w", rerr)
		}
		policyModule = loaded
	}
	gate, err := policy.New(ctx, policyModule)
	if err != nil {
		return nil, fmt.Errorf("app: compile policy: %w", err)
	}

	graph := graphstore.New(db, logger)
	vectors := vectorstore.New(db)
	cache := semcache.New(rdb, semcache.DefaultTTL)
	engine := lifecycle.New(graph, lifecycle.ConflictThreshold)
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	models := modelclient.NewDispatcher()

	pools := make(map[string]*keypool.Pool, len(cfg.ModelCredentials))
	for role, creds := range cfg.ModelCredentials {
		pools[role] = keypool.New(map[string][]keypool.Credential{role: creds})
	}

	embedderCred := firstCredential(cfg.ModelCredentials["episode_summary"])
	var embedder *modelclient.Embedder
	if embedderCred.KeyRef != "" {
		embedder, err = modelclient.NewEmbedder(embedderCred.Model, embedderCred.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("app: build embedder: %w", err)
		}
	}

	cbDeps := contextbuilder.Deps{Graph: graph, Episodic: vectors, Embed: embedAdapter(embedder)}

	orch := &orchestrator.Orchestrator{Store: graph, Pool: pools["orchestrator"], Gen: models.Generate}
	synth := &synthesizer.Synthesizer{Pool: pools["synthesizer"], Gen: models.Generate}
	summarizer := &episode.Summarizer{Pool: pools["episode_summary"], Gen: models.Generate}
	epWorker := &episode.Worker{Graph: graph, Vectors: vectors, Embed: embedder, Summarizer: summarizer}

	scanner := &tasks.DueScanner{Graph: graph}
	observer := &tasks.Observer{Graph: graph}

	coordinator := &scheduler.Coordinator{
		InstanceID: instanceID,
		Graph:      graph,
		Logger:     logger,
		Metrics:    reg,
	}
	coordinator.LeaderOnlyJobs = scheduler.DefaultLeaderOnlyJobs(graph, epWorker, scanner, observer, graphstore.DefaultMaintenanceRetention())

	tools := dag.ToolRegistry{}
	extractorPool := pools["extractor"]
	if extractorPool == nil {
		extractorPool = pools["default"]
	}
	var extractCaller extractor.ModelCaller
	if extractorPool != nil {
		extractCaller = func(ctx context.Context, text string) (string, error) {
			return dag.RunGoverned(ctx, extractorPool, "extractor", extractorPrompt(text), models.Generate, timeNow())
		}
	}

	runner := &pipeline.Runner{
		Store:          graph,
		Policy:         gate,
		ContextBuilder: cbDeps,
		Orchestrator:   orch,
		DAGDeps: func(userID string) dag.Deps {
			return dag.Deps{
				Tools:   tools,
				Pool:    pools["default"],
				Gen:     models.Generate,
				Memory:  graph,
				UserID:  userID,
				Metrics: reg,
			}
		},
		Synthesizer:       synth,
		Extractor:         extractCaller,
		Catalog:           cat,
		Lifecycle:         engine,
		EpisodeGraph:      graph,
		Logger:            logger,
		DefaultMemoryMode: defaultMemoryMode(cfg.DefaultMemoryMode),
		MaxContextChars:   contextbuilder.DefaultMaxTotalChars,
	}

	return &App{
		Config:         cfg,
		Logger:         logger,
		DB:             db,
		Rdb:            rdb,
		Graph:          graph,
		Vectors:        vectors,
		Cache:          cache,
		Catalog:        cat,
		KeyPool:        pools,
		Lifecycle:      engine,
		Policy:         gate,
		Metrics:        reg,
		Models:         models,
		Embedder:       embedder,
		ContextBuilder: cbDeps,
		MemoryPolicy:   memgate.Policy{WriteEnabled: true, TTL: memgate.TTL{EphemeralSeconds: 3600, SessionSeconds: 86400}},
		Orchestrator:   orch,
		Synthesizer:    synth,
		EpisodeWorker:  epWorker,
		DueScanner:     scanner,
		Observer:       observer,
		Scheduler:      coordinator,
		Tools:          tools,
		Pipeline:       runner,
	}, nil
}

// Close releases the DB/cache/catalog-watcher resources.
func (a *App) Close() error {
	a.Catalog.Close()
	if err := a.DB.Close(); err != nil {
		return err
	}
	return a.Rdb.Close()
}

func loadPolicyFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func firstCredential(creds []keypool.Credential) keypool.Credential {
	if len(creds) == 0 {
		return keypool.Credential{}
	}
	return creds[0]
}

func embedAdapter(e *modelclient.Embedder) contextbuilder.Embedder {
	if e == nil {
		return nil
	}
	return e.Embed
}

// extractorPrompt wraps raw user text in the JSON-only triple-extraction
// instruction the extractor model call expects (spec §4.3 step 2).
func extractorPrompt(text string) string {
	return "Aşağıdaki metinden (subject, predicate, object, confidence) " +
		"üçlülerini çıkar ve sadece JSON döndür (dizi ya da " +
		"{\"triplets\": [...]} şeklinde). Metin:\n" + text
}

// defaultMemoryMode maps the admin-configured default mode string (spec
// §6's ATLAS_DEFAULT_MEMORY_MODE; config.Load validates it is one of
// OFF/STANDARD/FULL) onto model.MemoryMode.
func defaultMemoryMode(s string) model.MemoryMode {
	return model.MemoryMode(s)
}

// timeNow is the single seam the extractor's model-call closure uses for
// "now" (governance-list cooldown bookkeeping), kept as a named function
// rather than an inline time.Now() call so tests can see it's the
// intentional non-request-scoped clock read for this one background call.
func timeNow() time.Time { return time.Now() }
