package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/tensorgate/api/handlers"
	"github.com/BaSui01/tensorgate/config"
	"github.com/BaSui01/tensorgate/internal/database"
	gwconfig "github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/feedback"
	"github.com/BaSui01/tensorgate/internal/gateway/observability"
	"github.com/BaSui01/tensorgate/internal/gateway/orchestrator"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/internal/metrics"
	"github.com/BaSui01/tensorgate/internal/server"
	"github.com/BaSui01/tensorgate/internal/telemetry"
	llmfactory "github.com/BaSui01/tensorgate/llm/factory"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并管理网关的全部运行组件：注册表、Provider 集合、推理
// 管道、观测管道以及两个 HTTP 监听（业务端口与指标端口）。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 网关注册表（启动时加载，之后只读）
	registry *gwconfig.Registry

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler    *handlers.HealthHandler
	inferenceHandler *handlers.InferenceHandler
	feedbackHandler  *handlers.FeedbackHandler

	// 指标收集器与观测管道
	metricsCollector *metrics.Collector
	pipeline         *observability.Pipeline

	// Provider 探活
	prober       *router.Prober
	proberCancel context.CancelFunc

	// 遥测与分析库
	otelProviders *telemetry.Providers
	pool          *database.PoolManager
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) (*Server, error) {
	s := &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}

	// 1. 加载网关注册表：函数/变体/模型/Provider/工具/指标。任何校验
	//    失败都在这里终止启动。
	registry, err := gwconfig.NewLoader().WithPath(cfg.Gateway.ConfigPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load gateway config: %w", err)
	}
	s.registry = registry

	// 2. 指标收集器
	s.metricsCollector = metrics.NewCollector("tensorgate", logger)

	// 3. 分析库 sink：配置了数据库就落库，否则退化为内存 sink
	sink, err := s.initSink(db)
	if err != nil {
		return nil, err
	}
	s.pipeline = observability.NewPipeline(observability.Config{
		BufferSize:    cfg.Gateway.BufferSize,
		BatchSize:     cfg.Gateway.BatchSize,
		FlushInterval: cfg.Gateway.FlushInterval,
	}, sink, s.metricsCollector, logger)

	// 4. 构建 Provider 集合与路由器
	providers, err := llmfactory.NewGatewayProviders(registry, logger)
	if err != nil {
		return nil, fmt.Errorf("construct providers: %w", err)
	}
	rt := router.New(registry, providers, logger)
	s.prober = router.NewProber(providers, cfg.Gateway.HealthInterval, logger)

	// 5. 组装推理与反馈服务
	orch := orchestrator.New(registry, rt, s.pipeline, s.metricsCollector, logger).
		WithDeadline(cfg.Gateway.DefaultTimeout)
	feedbackSvc := feedback.NewService(registry, s.pipeline, s.metricsCollector, logger)

	// 6. Handlers
	s.healthHandler = handlers.NewHealthHandler(logger)
	if s.pool != nil {
		s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("analytics", s.pool.Ping))
	}
	s.inferenceHandler = handlers.NewInferenceHandler(orch, logger)
	s.feedbackHandler = handlers.NewFeedbackHandler(feedbackSvc, logger)

	return s, nil
}

// initSink 打开分析库连接池并建表；没有配置数据库时使用内存 sink。
func (s *Server) initSink(db *gorm.DB) (observability.Sink, error) {
	if db == nil {
		s.logger.Warn("analytics database not configured, records stay in memory")
		return observability.NewMemorySink(), nil
	}

	poolCfg := database.DefaultPoolConfig()
	if s.cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	}
	if s.cfg.Database.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}

	pool, err := database.NewPoolManager(db, poolCfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("analytics pool: %w", err)
	}
	s.pool = pool

	sink, err := observability.NewDatabaseSink(pool, s.logger)
	if err != nil {
		return nil, fmt.Errorf("analytics sink: %w", err)
	}
	return sink, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动业务与指标两个 HTTP 监听，以及后台探活
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inference", s.inferenceHandler.HandleInference)
	mux.HandleFunc("POST /feedback", s.feedbackHandler.HandleFeedback)
	mux.HandleFunc("GET /status", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	handler := Chain(mux,
		RequestID(),
		SecurityHeaders(),
		Recovery(s.logger),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)

	httpCfg := server.DefaultConfig()
	httpCfg.Addr = s.registry.BindAddress
	if s.cfg.Server.ReadTimeout > 0 {
		httpCfg.ReadTimeout = s.cfg.Server.ReadTimeout
	}
	if s.cfg.Server.WriteTimeout > 0 {
		httpCfg.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		httpCfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}
	s.httpManager = server.NewManager(handler, httpCfg, s.logger.Named("http"))
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsCfg := server.DefaultConfig()
	metricsCfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	s.metricsManager = server.NewManager(metricsMux, metricsCfg, s.logger.Named("metrics"))
	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	proberCtx, cancel := context.WithCancel(context.Background())
	s.proberCancel = cancel
	go s.prober.Start(proberCtx)

	s.logger.Info("gateway started",
		zap.String("bind_address", s.registry.BindAddress),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("functions", len(s.registry.Functions)),
		zap.Int("models", len(s.registry.Models)),
	)
	return nil
}

// WaitForShutdown 阻塞等待终止信号并优雅关闭
func (s *Server) WaitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	s.logger.Info("shutdown signal received")
	s.Shutdown()
}

// Shutdown 依次停止监听、探活、观测管道、遥测与数据库。顺序有讲究：
// 先停止接受新请求，再刷掉缓冲中的记录，最后释放连接。
func (s *Server) Shutdown() {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Warn("metrics shutdown", zap.Error(err))
		}
	}
	if s.proberCancel != nil {
		s.proberCancel()
	}

	// 带界限地刷掉剩余记录
	s.pipeline.Close()

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Warn("analytics pool close", zap.Error(err))
		}
	}

	s.logger.Info("gateway stopped")
}
