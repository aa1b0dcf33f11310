package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trafficlog/api"
	"trafficlog/config"
	"trafficlog/db"
	"trafficlog/fetcher"
	"trafficlog/github"
	"trafficlog/logger"
	"trafficlog/metrics"
	"trafficlog/models"
	"trafficlog/reconcile"
	"trafficlog/report"
)

const shutdownTimeout = 10 * time.Second

// FetcherInterface abstracts snapshot collection (for testability)
type FetcherInterface interface {
	ResolveRepos(ctx context.Context, tracked, owners []string) ([]string, error)
	FetchAll(ctx context.Context, ids []string, asOf time.Time) ([]models.Snapshot, map[string]error)
}

// ReconcilerInterface abstracts the history merge (for testability)
type ReconcilerInterface interface {
	Reconcile(ctx context.Context, in reconcile.Input) (*models.RunReport, error)
}

// EmitterInterface abstracts report persistence (for testability)
type EmitterInterface interface {
	Emit(ctx context.Context, report *models.RunReport, force bool) error
	PreviousEntities(ctx context.Context, runDate time.Time) ([]string, error)
}

// Service errors
var (
	ErrServiceInit     = fmt.Errorf("service initialization error")
	ErrServiceShutdown = fmt.Errorf("service shutdown error")
	ErrRunFailed       = fmt.Errorf("run failed")
	ErrRunDate         = fmt.Errorf("run date must be today (UTC)")
)

// Service wires the fetcher, reconciler and report emitter around one store
type Service struct {
	config     *config.Config
	database   *db.DB
	fetcher    FetcherInterface
	reconciler ReconcilerInterface
	emitter    EmitterInterface
	metrics    *metrics.Metrics
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewService creates a new service instance from a loaded configuration
func NewService(cfg *config.Config) (*Service, error) {
	database, err := db.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize database: %v", ErrServiceInit, err)
	}

	client := github.NewClient(cfg.GitHubToken)
	s := newService(cfg,
		fetcher.New(client, cfg.Workers),
		reconcile.New(database,
			reconcile.WithWorkers(cfg.Workers),
			reconcile.WithEntityTimeout(cfg.EntityTimeout)),
		report.NewEmitter(database))
	s.database = database

	logger.Info("Service initialized successfully",
		zap.Strings("tracked_repos", cfg.TrackedRepos),
		zap.Strings("repo_owners", cfg.RepoOwners),
		zap.Int("workers", cfg.Workers),
		zap.Duration("entity_timeout", cfg.EntityTimeout))

	return s, nil
}

func newService(cfg *config.Config, f FetcherInterface, r ReconcilerInterface, e EmitterInterface) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:     cfg,
		fetcher:    f,
		reconciler: r,
		emitter:    e,
		metrics:    metrics.New(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RunOnce performs one collection run for runDate (today, UTC, when zero):
// it snapshots every tracked repository, merges the snapshots into history
// and emits the run report. Per-repository failures are recorded in the
// report; a report that cannot be emitted fails the run. GitHub only serves
// the current traffic window, so any other date is rejected.
func (s *Service) RunOnce(runDate time.Time, force bool) (*models.RunReport, error) {
	today := models.Day(s.now())
	if runDate.IsZero() {
		runDate = today
	}
	runDate = models.Day(runDate)
	if !runDate.Equal(today) {
		return nil, fmt.Errorf("%w: got %s, today is %s",
			ErrRunDate, models.FormatDay(runDate), models.FormatDay(today))
	}

	start := time.Now()
	runReport, err := s.run(runDate, force)
	s.metrics.ObserveRun(runReport, time.Since(start), err)

	if path := s.config.MetricsTextfile; path != "" {
		if werr := s.metrics.WriteTextfile(path); werr != nil {
			logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(werr))
		}
	}
	return runReport, err
}

func (s *Service) run(runDate time.Time, force bool) (*models.RunReport, error) {
	ctx := s.ctx
	log := logger.WithContext(zap.String("run_date", models.FormatDay(runDate)))

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("service context cancelled: %w", err)
	}

	ids, err := s.fetcher.ResolveRepos(ctx, s.config.TrackedRepos, s.config.RepoOwners)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunFailed, err)
	}
	log.Info("Starting run", zap.Int("repositories", len(ids)), zap.Bool("force", force))

	snapshots, failures := s.fetcher.FetchAll(ctx, ids, runDate)

	previous, err := s.emitter.PreviousEntities(ctx, runDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRunFailed, err)
	}

	runReport, err := s.reconciler.Reconcile(ctx, reconcile.Input{
		RunDate:          runDate,
		Snapshots:        snapshots,
		PreviousEntities: previous,
		FetchFailures:    failures,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRunFailed, err)
	}

	if err := s.emitter.Emit(ctx, runReport, force); err != nil {
		return runReport, fmt.Errorf("%w: %w", ErrRunFailed, err)
	}

	log.Info("Run completed",
		zap.Int("tracked", len(runReport.TrackedEntities)),
		zap.Int("appended", runReport.TotalAppended()),
		zap.Int("failed", len(runReport.FailedEntities)))
	return runReport, nil
}

// HandleSignals cancels the service context on SIGINT or SIGTERM
func (s *Service) HandleSignals() {
	go s.waitForShutdown()
}

// Serve runs the read API on the configured address until a shutdown signal
func (s *Service) Serve() error {
	server := &http.Server{
		Addr:              s.config.HTTPAddr,
		Handler:           api.SetupRouter(api.NewHandler(s.database), s.metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go s.waitForShutdown()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-s.ctx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrServiceShutdown, err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

// waitForShutdown waits for the shutdown signal
func (s *Service) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		s.cancel()
	case <-s.ctx.Done():
	}
}

// Close performs cleanup operations
func (s *Service) Close() error {
	logger.Info("Closing service")
	s.cancel()
	if s.database == nil {
		return nil
	}
	if err := s.database.Close(); err != nil {
		return fmt.Errorf("%w: failed to close database: %v", ErrServiceShutdown, err)
	}
	return nil
}
