package server

import (
	"context"
	"database/sql"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-nexus/veritas/analysis"
	"github.com/veritas-nexus/veritas/config"
	"github.com/veritas-nexus/veritas/connector"
	"github.com/veritas-nexus/veritas/connector/document"
	"github.com/veritas-nexus/veritas/connector/web"
	"github.com/veritas-nexus/veritas/connector/youtube"
	"github.com/veritas-nexus/veritas/errors"
	"github.com/veritas-nexus/veritas/internal/httpclient"
	"github.com/veritas-nexus/veritas/internal/util"
	"github.com/veritas-nexus/veritas/pipeline"
	"github.com/veritas-nexus/veritas/pulse/async"
	"github.com/veritas-nexus/veritas/pulse/budget"
	"github.com/veritas-nexus/veritas/pulse/schedule"
	"github.com/veritas-nexus/veritas/runstore"
)

// New wires the full job system: artifact store, connectors, pipeline
// runner, worker pool, schedule ticker, and the HTTP/WebSocket surface.
// Everything is constructor-injected here, once, at process startup.
func New(cfg *config.Config, database *sql.DB, logger *zap.SugaredLogger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())

	runs := runstore.New(cfg.Store.Root)
	fetchTimeout := time.Duration(cfg.Connector.FetchTimeoutSeconds) * time.Second

	registry, err := NewConnectorRegistry(cfg, fetchTimeout, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	analyzer := analysis.NewHeuristicAnalyzer(logger)
	runner := pipeline.NewRunner(runs, registry, analyzer, pipeline.Options{
		FetchTimeout:    fetchTimeout,
		AnalysisTimeout: time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
	}, logger)

	budgetTracker := budget.NewTracker(database, budget.BudgetConfig{
		DailyBudgetUSD:   cfg.Pulse.DailyBudgetUSD,
		MonthlyBudgetUSD: cfg.Pulse.MonthlyBudgetUSD,
	})
	rateLimiter := budget.NewLimiter(cfg.Pulse.MaxJobsPerHour)

	poolCfg := async.DefaultWorkerPoolConfig()
	if cfg.Pulse.Workers > 0 {
		poolCfg.Workers = cfg.Pulse.Workers
	}
	if cfg.Pulse.PollIntervalMS > 0 {
		poolCfg.PollInterval = time.Duration(cfg.Pulse.PollIntervalMS) * time.Millisecond
	}

	handlers := async.NewHandlerRegistry()
	daemon := async.NewWorkerPoolWithRegistry(ctx, database, poolCfg, logger, handlers, budgetTracker, rateLimiter)

	// The handler must share the pool's queue so its status writes reach
	// the same subscriber list the WebSocket broadcaster listens on.
	handlers.Register(pipeline.NewHandler(runner, runs, daemon.GetQueue(), logger))

	watches := schedule.NewStore(database)
	executions := schedule.NewExecutionStore(database)
	ticker := schedule.NewTickerWithContext(ctx, watches, executions, daemon.GetQueue(), daemon, schedule.DefaultTickerConfig(), logger)

	s := &Server{
		db:            database,
		cfg:           cfg,
		runs:          runs,
		daemon:        daemon,
		ticker:        ticker,
		budgetTracker: budgetTracker,
		rateLimiter:   rateLimiter,
		watches:       watches,
		executions:    executions,
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcastReq:  make(chan *broadcastRequest, broadcastQueueSize),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.Named("server"),
	}

	s.startConfigWatcher()

	return s, nil
}

// NewConnectorRegistry constructs every enabled source connector with the
// retry/pacing decorator applied uniformly. The serve path and one-shot
// local runs share this wiring.
func NewConnectorRegistry(cfg *config.Config, fetchTimeout time.Duration, logger *zap.SugaredLogger) (*connector.Registry, error) {
	retryCfg := connector.DefaultRetryConfig()
	if cfg.Connector.RetryAttempts > 0 {
		retryCfg.Attempts = cfg.Connector.RetryAttempts
	}
	if cfg.Connector.RetryBackoffMS > 0 {
		retryCfg.InitialBackoff = time.Duration(cfg.Connector.RetryBackoffMS) * time.Millisecond
	}
	if cfg.Connector.RatePerMinute > 0 {
		retryCfg.PerSecond = float64(cfg.Connector.RatePerMinute) / 60.0
		retryCfg.Burst = 1
	}

	registry := connector.NewRegistry()

	yt, err := youtube.New(youtube.Config{
		Binary:        cfg.Connector.YouTube.YtDlpPath,
		Timeout:       fetchTimeout,
		SubtitleLangs: cfg.Connector.YouTube.Langs,
		ExtraArgs:     cfg.Connector.YouTube.ExtraArgs,
		MinVersion:    cfg.Connector.YouTube.MinVersion,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build youtube connector")
	}
	registry.Register(connector.WithRetry(yt, retryCfg))

	webOpts := httpclient.SaferClientOptions{}
	if cfg.Connector.Web.MaxBodyBytes > 0 {
		webOpts.MaxBodyBytes = util.Ptr(cfg.Connector.Web.MaxBodyBytes)
	}
	if cfg.Connector.Web.MaxRedirects > 0 {
		webOpts.MaxRedirects = util.Ptr(cfg.Connector.Web.MaxRedirects)
	}
	if cfg.Connector.Web.AllowPrivateHosts {
		webOpts.BlockPrivateIP = util.Ptr(false)
	}
	webConn := web.NewWithClient(httpclient.NewSaferClientWithOptions(fetchTimeout, webOpts), logger)
	registry.Register(connector.WithRetry(webConn, retryCfg))

	docConn := document.New(document.Config{Timeout: fetchTimeout}, logger)
	registry.Register(connector.WithRetry(docConn, retryCfg))

	return registry, nil
}

// startConfigWatcher hot-reloads budget limits when the project config file
// changes on disk. Absence of a config file just means no watcher.
func (s *Server) startConfigWatcher() {
	path := config.GetLocalConfigPath()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	watcher, err := config.NewConfigWatcher(path)
	if err != nil {
		s.logger.Warnw("Config watcher unavailable", "path", path, "error", err)
		return
	}

	watcher.OnReload(func(newCfg *config.Config) error {
		if err := s.budgetTracker.UpdateDailyBudget(newCfg.Pulse.DailyBudgetUSD); err != nil {
			return err
		}
		if err := s.budgetTracker.UpdateMonthlyBudget(newCfg.Pulse.MonthlyBudgetUSD); err != nil {
			return err
		}
		s.logger.Infow("Budget limits reloaded from config",
			"daily_usd", newCfg.Pulse.DailyBudgetUSD,
			"monthly_usd", newCfg.Pulse.MonthlyBudgetUSD,
		)
		return nil
	})

	watcher.Start()
	s.configWatcher = watcher
	s.logger.Infow("Config watcher started", "path", path)
}
