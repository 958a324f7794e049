package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/spendsave/internal/app/httpapi"
	"github.com/R3E-Network/spendsave/internal/app/storage/postgres"
	"github.com/R3E-Network/spendsave/internal/app/system"
	"github.com/R3E-Network/spendsave/internal/batch"
	"github.com/R3E-Network/spendsave/internal/config"
	"github.com/R3E-Network/spendsave/internal/dca"
	"github.com/R3E-Network/spendsave/internal/domain/identity"
	"github.com/R3E-Network/spendsave/internal/engine/events"
	"github.com/R3E-Network/spendsave/internal/engine/hook"
	"github.com/R3E-Network/spendsave/internal/engine/metrics"
	"github.com/R3E-Network/spendsave/internal/extraction"
	"github.com/R3E-Network/spendsave/internal/httputil"
	"github.com/R3E-Network/spendsave/internal/kernel"
	"github.com/R3E-Network/spendsave/internal/ledger"
	"github.com/R3E-Network/spendsave/internal/savings"
	"github.com/R3E-Network/spendsave/internal/strategy"
	"github.com/R3E-Network/spendsave/pkg/logger"
)

// SnapshotStore persists kernel state between runs.
type SnapshotStore interface {
	Save(ctx context.Context, s kernel.Snapshot) error
	Load(ctx context.Context) (kernel.Snapshot, bool, error)
	Close() error
}

// Option customises New.
type Option func(*options)

type options struct {
	log    *logger.Logger
	router dca.Router
	payout savings.Payout
	store  SnapshotStore
}

// WithLogger overrides the logger built from the logging config.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRouter overrides the conversion router chosen from config.
func WithRouter(r dca.Router) Option {
	return func(o *options) { o.router = r }
}

// WithPayout sets the custody sink for withdrawals.
func WithPayout(p savings.Payout) Option {
	return func(o *options) { o.payout = p }
}

// WithSnapshotStore overrides the postgres store opened from the database
// config.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(o *options) { o.store = s }
}

// ModuleAddress derives the fixed script hash a module acts as.
func ModuleAddress(name string) util.Uint160 {
	return hash.Hash160([]byte("spendsave/module/" + name))
}

// Application ties the kernel and its modules together and manages their
// lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	owner   util.Uint160
	manager *system.Manager
	store   SnapshotStore

	Metrics     *metrics.Collector
	Events      *events.RingBuffer
	Kernel      *kernel.Kernel
	Ledger      *ledger.Ledger
	Savings     *savings.Module
	Hook        *hook.Hook
	Strategies  *strategy.Module
	Batch       *batch.Coordinator
	Conversions *dca.Processor
	Scheduler   *dca.Scheduler
	Server      *httpapi.Server

	mu      sync.Mutex
	started bool
}

// New builds and registers every module. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	owner, err := identity.Parse(cfg.Kernel.Owner)
	if err != nil {
		return nil, fmt.Errorf("kernel owner: %w", err)
	}

	collector := metrics.NewCollector("spendsave")
	ring := events.NewRingBuffer(cfg.HTTP.EventBuffer)
	kopts := []kernel.Option{
		kernel.WithLogger(log.Named("kernel")),
		kernel.WithEvents(ring),
		kernel.WithMetrics(collector),
	}
	if cfg.Kernel.Treasury != "" {
		treasury, err := identity.Parse(cfg.Kernel.Treasury)
		if err != nil {
			return nil, fmt.Errorf("treasury: %w", err)
		}
		kopts = append(kopts, kernel.WithTreasury(treasury, cfg.Kernel.TreasuryFeeBps))
	} else if cfg.Kernel.TreasuryFeeBps > 0 {
		kopts = append(kopts, kernel.WithTreasury(owner, cfg.Kernel.TreasuryFeeBps))
	}
	k, err := kernel.New(owner, kopts...)
	if err != nil {
		return nil, err
	}

	a := &Application{
		cfg:     cfg,
		log:     log,
		owner:   owner,
		manager: system.NewManager(log.Named("system")),
		store:   o.store,
		Metrics: collector,
		Events:  ring,
		Kernel:  k,
	}
	if err := a.buildModules(o); err != nil {
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Application) buildModules(o options) error {
	cfg, k := a.cfg, a.Kernel
	calc := extraction.NewCalculator(cfg.Extraction.RoundUpUnit)

	a.Ledger = ledger.New(k, ModuleAddress(ledger.Name), a.log.Named(ledger.Name))

	var savingsOpts []savings.Option
	if o.payout != nil {
		savingsOpts = append(savingsOpts, savings.WithPayout(o.payout))
	}
	a.Savings = savings.New(k, ModuleAddress(savings.Name), a.log.Named(savings.Name), savingsOpts...)

	hookOpts := []hook.Option{hook.WithCalculator(calc)}
	if cfg.Kernel.Venue != "" {
		venue, err := identity.Parse(cfg.Kernel.Venue)
		if err != nil {
			return fmt.Errorf("venue: %w", err)
		}
		hookOpts = append(hookOpts, hook.WithVenue(venue))
	}
	a.Hook = hook.New(k, ModuleAddress(hook.Name), a.Savings, a.log.Named(hook.Name), hookOpts...)

	a.Strategies = strategy.New(k, ModuleAddress(strategy.Name), a.log.Named(strategy.Name))
	a.Batch = batch.New(k, ModuleAddress(batch.Name), a.log.Named(batch.Name),
		batch.WithMaxSize(cfg.Batch.MaxSize), batch.WithCalculator(calc))

	router := o.router
	if router == nil {
		router = a.defaultRouter()
	}
	a.Conversions = dca.New(k, ModuleAddress(dca.Name), router, a.log.Named(dca.Name),
		dca.WithRateLimit(cfg.DCA.RatePerSecond, cfg.DCA.Burst),
		dca.WithMaxPerSweep(cfg.DCA.MaxPerSweep))

	ctx := context.Background()
	registrations := []struct {
		cap kernel.Capability
		m   kernel.Module
	}{
		{kernel.CapLedger, a.Ledger},
		{kernel.CapSavings, a.Savings},
		{kernel.CapInterceptor, a.Hook},
		{kernel.CapStrategy, a.Strategies},
		{kernel.CapCoordinator, a.Batch},
		{kernel.CapConversion, a.Conversions},
	}
	for _, r := range registrations {
		if err := k.RegisterModule(ctx, a.owner, r.cap, r.m); err != nil {
			return fmt.Errorf("register %s: %w", r.m.Name(), err)
		}
	}
	a.log.WithFields(logrus.Fields{
		"modules":       len(registrations),
		"round_up_unit": calc.Unit().Dec(),
		"max_batch":     a.Batch.MaxSize(),
	}).Info("modules registered")
	return nil
}

func (a *Application) defaultRouter() dca.Router {
	if a.cfg.DCA.RouterURL == "" {
		a.log.Warn("no conversion router configured; converting at a fixed 1:1 rate")
		return dca.FixedRateRouter{Num: 1, Den: 1}
	}
	client := httputil.NewClient(httputil.ClientConfig{
		BaseURL: a.cfg.DCA.RouterURL,
		Timeout: a.cfg.DCA.RouterTimeout,
	})
	return dca.NewHTTPRouter(client, a.cfg.DCA.RouterPath)
}

func (a *Application) buildServices() error {
	cfg := a.cfg
	var limiter *httpapi.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = httpapi.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, a.log.Named("httpapi"))
	}
	if err := a.manager.Register(newEventJournal(a.Events, a.log.Named("events"))); err != nil {
		return err
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Kernel:     a.Kernel,
		Strategies: a.Strategies,
		Gatherer:   a.Metrics.Registry(),
		Limiter:    limiter,
		Logger:     a.log.Named("httpapi"),
	})
	a.Server = httpapi.NewServer(cfg.HTTP.Addr, handler, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, a.log.Named("httpapi"))
	if err := a.manager.Register(a.Server); err != nil {
		return err
	}

	if !cfg.DCA.Enabled {
		return nil
	}
	sched, err := dca.NewScheduler(a.Conversions, cfg.DCA.Schedule, a.log.Named("dca-scheduler"))
	if err != nil {
		return err
	}
	a.Scheduler = sched
	return a.manager.Register(sched)
}

// Start restores persisted state, when configured, and starts the services.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	opened := false
	if a.store == nil && a.cfg.Database.Enabled() {
		store, err := postgres.Open(ctx, a.cfg.Database.DSN, a.cfg.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		a.store, opened = store, true
	}
	if a.store != nil {
		if err := a.restore(ctx); err != nil {
			return a.abortStart(err, opened)
		}
	}

	if err := a.manager.Start(ctx); err != nil {
		return a.abortStart(err, opened)
	}
	a.started = true
	a.log.WithFields(logrus.Fields{
		"owner": identity.String(a.owner),
		"addr":  a.Server.Addr(),
		"dca":   a.cfg.DCA.Enabled,
	}).Info("spendsave started")
	return nil
}

// abortStart closes the snapshot store after a failed Start. A store opened
// by Start itself is dropped so the next Start reopens it.
func (a *Application) abortStart(err error, opened bool) error {
	if a.store == nil {
		return err
	}
	if cerr := a.store.Close(); cerr != nil {
		a.log.WithError(cerr).Warn("failed to close store")
	}
	if opened {
		a.store = nil
	}
	return err
}

func (a *Application) restore(ctx context.Context) error {
	snap, ok, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		a.log.Info("no persisted state; starting empty")
		return nil
	}
	if err := a.Kernel.Restore(ctx, a.owner, snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"assets":   len(snap.Assets),
		"balances": len(snap.Balances),
		"queued":   len(snap.Queue),
	}).Info("state restored")
	return nil
}

// Shutdown stops the services and, when a store is configured, saves the
// final snapshot.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	stopErr := a.manager.Stop(ctx)
	if a.store == nil {
		return stopErr
	}
	if err := a.store.Save(ctx, a.Kernel.Snapshot(ctx)); err != nil {
		a.log.WithError(err).Error("failed to save snapshot")
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close store")
	}
	a.log.Info("state saved")
	return stopErr
}

// Run starts the application and blocks until ctx is done, then shuts down
// within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}
