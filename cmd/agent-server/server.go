package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hiydavid/dbx-agent-on-app/agents/echo"
	"github.com/hiydavid/dbx-agent-on-app/api/handlers"
	"github.com/hiydavid/dbx-agent-on-app/config"
	"github.com/hiydavid/dbx-agent-on-app/internal/cache"
	"github.com/hiydavid/dbx-agent-on-app/internal/database"
	"github.com/hiydavid/dbx-agent-on-app/internal/metrics"
	"github.com/hiydavid/dbx-agent-on-app/internal/migration"
	"github.com/hiydavid/dbx-agent-on-app/internal/pool"
	"github.com/hiydavid/dbx-agent-on-app/internal/server"
	"github.com/hiydavid/dbx-agent-on-app/internal/telemetry"
	"github.com/hiydavid/dbx-agent-on-app/registry"
	"github.com/hiydavid/dbx-agent-on-app/tracing"
	"github.com/hiydavid/dbx-agent-on-app/validator"
)

// pruneRetries 清理事务遇到死锁等可重试错误时的重试次数
const pruneRetries = 3

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装追踪、存储、指标和 HTTP 层
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger
	level  zap.AtomicLevel

	// 追踪
	providers *telemetry.Providers
	recorder  *tracing.Recorder
	tracer    *tracing.Tracer
	savePool  *pool.GoroutinePool

	// 外部追踪存储，按 cfg.Trace.Store 三选一
	cacheManager *cache.Manager
	db           *gorm.DB
	poolManager  *database.PoolManager
	sqlStore     *tracing.SQLStore

	registry         *registry.Registry
	metricsCollector *metrics.Collector

	// Prometheus 注册表，默认使用全局注册表
	promRegisterer prometheus.Registerer
	promGatherer   prometheus.Gatherer

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 后台任务（限流清理、配置监听、追踪清理）的生命周期
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	shutdownOnce sync.Once
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:      cfg,
		loader:   loader,
		logger:   logger,
		level:    level,
		registry: registry.New(logger),

		promRegisterer: prometheus.DefaultRegisterer,
		promGatherer:   prometheus.DefaultGatherer,
	}
}

// Registry 返回回调注册表，嵌入方可在 Start 前注册自己的 Agent
func (s *Server) Registry() *registry.Registry { return s.registry }

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 1. 外部追踪存储
	external, err := s.initTraceStore(bgCtx)
	if err != nil {
		return fmt.Errorf("failed to init trace store: %w", err)
	}

	// 2. 追踪记录器和 OTel SDK
	if err := s.initTracing(external); err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	// 3. 指标收集器（调用指标同时镜像到 OTLP）
	s.metricsCollector = metrics.NewCollector(metrics.DefaultNamespace, s.logger,
		metrics.WithRegisterer(s.promRegisterer),
		metrics.WithMeter(s.providers.Meter()))
	if err := s.initPoolManager(); err != nil {
		return fmt.Errorf("failed to init database pool: %w", err)
	}

	// 4. 内置 Agent
	if err := s.registerAgents(); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}

	// 5. HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. 后台任务
	s.startConfigWatcher(bgCtx)
	s.startTracePruner(bgCtx)

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("trace_store", s.cfg.Trace.Store),
		zap.Bool("hot_reload_enabled", s.loader.ConfigPath() != ""),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initTraceStore 按配置创建外部追踪存储，memory 模式返回 nil
func (s *Server) initTraceStore(ctx context.Context) (tracing.Store, error) {
	switch s.cfg.Trace.Store {
	case "", config.TraceStoreMemory:
		return nil, nil

	case config.TraceStoreRedis:
		rc := s.cfg.Redis
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = rc.Addr
		cacheCfg.Password = rc.Password
		cacheCfg.DB = rc.DB
		cacheCfg.KeyPrefix = rc.KeyPrefix
		cacheCfg.TLSEnabled = rc.TLSEnabled
		if rc.PoolSize > 0 {
			cacheCfg.PoolSize = rc.PoolSize
		}
		if rc.MinIdleConns > 0 {
			cacheCfg.MinIdleConns = rc.MinIdleConns
		}
		mgr, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.cacheManager = mgr
		return tracing.NewRedisStore(mgr, s.cfg.Trace.TTL), nil

	case config.TraceStoreDatabase:
		if s.cfg.Database.AutoMigrate {
			if err := s.runMigrations(ctx); err != nil {
				return nil, err
			}
		}
		db, err := database.Open(s.cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.sqlStore = tracing.NewSQLStore(db)
		return s.sqlStore, nil

	default:
		return nil, fmt.Errorf("unknown trace store %q", s.cfg.Trace.Store)
	}
}

// runMigrations 启动前把追踪表迁移到最新版本
func (s *Server) runMigrations(ctx context.Context) error {
	m, err := migration.NewMigratorFromDatabaseConfig(s.cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, _, _ := m.Version(ctx)
	s.logger.Info("Trace store migrated", zap.Uint("version", version))
	return nil
}

// initTracing 创建 Recorder 并将其注册为 TracerProvider 的 SpanProcessor
func (s *Server) initTracing(external tracing.Store) error {
	opts := []tracing.RecorderOption{tracing.WithSaveTimeout(s.cfg.Trace.SaveTimeout)}
	if external != nil {
		s.savePool = pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers: 4,
			QueueSize:  1000,
			PanicHandler: func(p any) {
				s.logger.Error("trace persistence panicked", zap.Any("panic", p))
			},
		})
		opts = append(opts, tracing.WithExternalStore(external), tracing.WithSavePool(s.savePool))
	}
	s.recorder = tracing.NewRecorder(tracing.NewMemoryStore(s.cfg.Trace.Capacity), s.logger, opts...)

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger, s.recorder)
	if err != nil {
		return err
	}
	s.providers = providers
	s.tracer = tracing.NewTracer(providers.TracerProvider(), s.recorder)
	return nil
}

// initPoolManager 为数据库存储配置连接池并导出连接数指标
func (s *Server) initPoolManager() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	pm, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
		database.WithStatsReporter(func(st database.PoolStats) {
			s.metricsCollector.RecordDBConnections(db.Dialector.Name(), st.OpenConnections, st.Idle)
		}),
	)
	if err != nil {
		return err
	}
	s.poolManager = pm
	return nil
}

// registerAgents 配置了 echo 时注册内置 echo Agent
func (s *Server) registerAgents() error {
	if !s.cfg.Agent.Echo {
		return nil
	}
	agent, err := echo.New(s.cfg.AgentType())
	if err != nil {
		return err
	}
	if err := agent.Register(s.registry); err != nil {
		return err
	}
	s.logger.Info("Echo agent registered", zap.String("agent_type", s.cfg.AgentType().String()))
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// buildHandler 组装路由和中间件链
func (s *Server) buildHandler(ctx context.Context) (http.Handler, error) {
	v, err := validator.New(s.cfg.AgentType())
	if err != nil {
		return nil, err
	}

	invocations := handlers.NewInvocationHandler(v, s.registry, s.tracer, s.logger,
		handlers.WithConcurrencyLimit(int64(s.cfg.Server.Workers)),
		handlers.WithObserver(s.metricsCollector),
		handlers.WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes),
	)

	health := handlers.NewHealthHandler(s.cfg.Agent.Version, s.logger)
	health.RegisterCheck(handlers.NewCheck("registry", s.registry.Check))
	if s.cacheManager != nil {
		health.RegisterCheck(handlers.NewCheck("redis", s.cacheManager.Ping))
	}
	if s.poolManager != nil {
		health.RegisterCheck(handlers.NewCheck("database", s.poolManager.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invocations", invocations.HandleInvocations)
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(BuildTime, GitCommit))

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	middlewares = append(middlewares,
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)
	return Chain(mux, middlewares...), nil
}

// startHTTPServer 启动 HTTP(S) 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	handler, err := s.buildHandler(ctx)
	if err != nil {
		return err
	}

	cfg := server.ConfigFrom("http", s.cfg.Server, s.cfg.Server.HTTPPort)
	s.httpManager = server.NewManager(handler, cfg, s.logger)

	// 证书对为空时以 HTTP 启动
	return s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 在独立端口暴露 /metrics，端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegisterer, promhttp.HandlerFor(s.promGatherer, promhttp.HandlerOpts{}),
	))

	s.metricsManager = server.NewManager(mux,
		server.ConfigFrom("metrics", s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🔄 后台任务
// =============================================================================

// startConfigWatcher 配置文件变更时热更新日志级别，其他字段需重启生效
func (s *Server) startConfigWatcher(ctx context.Context) {
	if s.loader.ConfigPath() == "" {
		return
	}
	watcher, err := config.NewWatcher(s.loader, s.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		s.logger.Warn("Config watcher disabled", zap.Error(err))
		return
	}
	watcher.OnReload(func(old, updated *config.Config) {
		if old.Log.Level == updated.Log.Level {
			return
		}
		s.level.SetLevel(parseLevel(updated.Log.Level))
		s.logger.Info("Log level changed",
			zap.String("from", old.Log.Level),
			zap.String("to", updated.Log.Level),
		)
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Config watcher stopped", zap.Error(err))
		}
	}()
}

// startTracePruner 定期删除超过保留期的数据库追踪
func (s *Server) startTracePruner(ctx context.Context) {
	if s.poolManager == nil || s.cfg.Trace.Retention <= 0 {
		return
	}
	interval := s.cfg.Trace.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pruneTraces(ctx)
			}
		}
	}()
}

func (s *Server) pruneTraces(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Trace.Retention).UTC()
	var deleted int64
	err := s.poolManager.WithTransactionRetry(ctx, pruneRetries, func(tx *gorm.DB) error {
		n, err := tracing.NewSQLStore(tx).Prune(ctx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		s.logger.Warn("Trace prune failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("Pruned expired traces", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号或 HTTP 服务异常，然后优雅关闭所有组件
func (s *Server) WaitForShutdown(ctx context.Context) error {
	var err error
	if s.httpManager != nil {
		err = s.httpManager.WaitForShutdown(ctx)
	}
	s.Shutdown()
	return err
}

// Shutdown 按依赖顺序关闭：HTTP → Metrics → 后台任务 → 追踪 → 存储
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	s.logger.Info("Starting graceful shutdown...")
	ctx := context.Background()

	// 1. 停止接收请求，等待流式响应结束
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 2. 停止后台任务
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.wg.Wait()

	// 3. 刷新追踪：TracerProvider 关闭时 Recorder 等待未完成的外部写入
	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.providers.Shutdown(flushCtx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}
	if s.savePool != nil {
		s.savePool.Close()
	}

	// 4. 关闭存储
	if s.poolManager != nil {
		if err := s.poolManager.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
	} else if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
