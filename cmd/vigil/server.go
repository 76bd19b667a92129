package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigil-mod/vigil/analyzer"
	"github.com/vigil-mod/vigil/cachestore"
	"github.com/vigil-mod/vigil/config"
	"github.com/vigil-mod/vigil/countstore"
	"github.com/vigil-mod/vigil/event"
	"github.com/vigil-mod/vigil/feedback"
	"github.com/vigil-mod/vigil/pipeline"
	"github.com/vigil-mod/vigil/policy"
	"github.com/vigil-mod/vigil/prefilter"
	"github.com/vigil-mod/vigil/queue"
	"github.com/vigil-mod/vigil/reputation"
)

type Server struct {
	logger     *slog.Logger
	engine     *pipeline.Engine
	configs    *config.Registry
	configPath string
	ingestHost string
	workers    int
	adminToken string
	rdb        *redis.Client
	lastSeq    atomic.Int64
}

type Config struct {
	Logger              *slog.Logger
	DatabaseURL         string
	RedisURL            string
	ConfigPath          string
	GatewayHost         string
	GatewayToken        string
	IngestHost          string
	AdminToken          string
	WebhookURL          string
	RemoteAnalyzerHost  string
	RemoteAnalyzerToken string
	Workers             int
	Budget              time.Duration
	AnalyzerTimeout     time.Duration
	UserPerMinuteLimit  int64
}

// setupDatabase opens a gorm handle from a connection URL; empty returns nil
// (fully in-memory stores).
func setupDatabase(logger *slog.Logger, dburl string) (*gorm.DB, error) {
	if dburl == "" {
		return nil, nil
	}
	gormLogger := slogGorm.New(slogGorm.WithHandler(logger.Handler()))
	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		path := strings.TrimPrefix(dburl, "sqlite://")
		if dir := path[:strings.LastIndex(path, "/")+1]; dir != "" {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	case strings.HasPrefix(dburl, "postgresql://"), strings.HasPrefix(dburl, "postgres://"):
		return gorm.Open(postgres.Open(dburl), &gorm.Config{Logger: gormLogger})
	default:
		return nil, fmt.Errorf("unsupported database scheme: %s", dburl)
	}
}

func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if !strings.HasPrefix(cfg.IngestHost, "ws") {
		return nil, fmt.Errorf("specified ingest host must include 'ws://' or 'wss://'")
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		// generic client, for cursor state
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		cnt, err := countstore.NewRedisCountStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt

		csh, err := cachestore.NewRedisCacheStore(cfg.RedisURL, 30*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("initializing redis cachestore: %v", err)
		}
		cache = csh
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, 30*time.Minute)
	}

	db, err := setupDatabase(logger, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("setting up database: %w", err)
	}

	var repStore reputation.Store
	var queueStore queue.Store
	var audit event.AuditLog
	if db != nil {
		repStore, err = reputation.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		queueStore, err = queue.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		audit, err = event.NewGormAuditLog(logger, db)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("no database configured, state will not survive restarts")
		repStore = reputation.NewMemStore()
		queueStore = queue.NewMemStore()
		audit = event.NewMemAuditLog(logger)
	}

	configs, err := config.NewRegistryFromPath(logger, cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading group configuration: %w", err)
	}

	window := analyzer.NewRecentWindow(cache, 50)
	registry := analyzer.NewRegistry(logger, cfg.AnalyzerTimeout)
	registry.Trust = feedback.NewTrustTracker(logger, counters)
	registry.Register(analyzer.NewSpamAnalyzer(window, cfg.UserPerMinuteLimit))
	registry.Register(analyzer.NewToxicityAnalyzer(nil))
	registry.Register(analyzer.NewDuplicateAnalyzer(window))
	registry.Register(analyzer.NewScamAnalyzer())
	if cfg.RemoteAnalyzerHost != "" {
		logger.Info("configuring remote scoring analyzer", "host", cfg.RemoteAnalyzerHost)
		registry.Register(analyzer.NewRemoteAnalyzer(
			"remote-scorer",
			cfg.RemoteAnalyzerHost,
			cfg.RemoteAnalyzerToken,
			[]analyzer.Category{analyzer.CategorySpam, analyzer.CategoryToxicity, analyzer.CategoryScam},
		))
	}

	var notifier *event.Notifier
	if cfg.WebhookURL != "" {
		notifier = event.NewNotifier(cfg.WebhookURL)
	}

	engine := &pipeline.Engine{
		Logger:     logger,
		Configs:    configs,
		Prefilter:  prefilter.NewFilter(logger),
		Analyzers:  registry,
		Policy:     policy.NewEngine(logger, repStore),
		Reputation: repStore,
		Queue:      queueStore,
		Audit:      audit,
		Feedback:   feedback.NewLoop(logger, repStore, counters),
		Executor:   event.NewExecutor(logger, cfg.GatewayHost, cfg.GatewayToken, counters),
		Notifier:   notifier,
		Window:     window,
		Budget:     cfg.Budget,
	}

	return &Server{
		logger:     logger,
		engine:     engine,
		configs:    configs,
		configPath: cfg.ConfigPath,
		ingestHost: cfg.IngestHost,
		workers:    cfg.Workers,
		adminToken: cfg.AdminToken,
		rdb:        rdb,
	}, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

var cursorKey = "vigil/seq"

func (s *Server) ReadLastCursor(ctx context.Context) (int64, error) {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		s.logger.Info("redis not configured, skipping cursor read")
		return 0, nil
	}

	val, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		s.logger.Info("no pre-existing cursor in redis")
		return 0, nil
	}
	s.logger.Info("found prior subscription cursor seq in redis", "seq", val)
	return val, err
}

func (s *Server) PersistCursor(ctx context.Context) error {
	// if redis isn't configured, just skip
	if s.rdb == nil {
		return nil
	}
	seq := s.lastSeq.Load()
	if seq <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cursorKey, seq, 14*24*time.Hour).Err()
}

// this method runs in a loop, persisting the current cursor state every 5 seconds
func (s *Server) RunPersistCursor(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.lastSeq.Load() >= 1 {
				s.logger.Info("persisting final cursor seq", "seq", s.lastSeq.Load())
				if err := s.PersistCursor(ctx); err != nil {
					s.logger.Error("failed to persist cursor", "err", err, "seq", s.lastSeq.Load())
				}
			}
			return nil
		case <-ticker.C:
			if err := s.PersistCursor(ctx); err != nil {
				s.logger.Error("failed to persist cursor", "err", err, "seq", s.lastSeq.Load())
			}
		}
	}
}

// Run starts the ingestion consumer, pipeline workers, and background loops,
// blocking until ctx is done or the consumer fails permanently.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.RunPersistCursor(ctx); err != nil {
			s.logger.Error("cursor persist loop failed", "err", err)
		}
	}()
	go s.engine.RunQueueExpiry(ctx, time.Minute)

	return s.RunConsumer(ctx)
}
