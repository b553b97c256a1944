// Package bootstrap assembles the trading pipeline from configuration and
// orchestrates its lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/bus"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/cache"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/config"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/core"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/infrastructure/metrics"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/oms"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/portfolio"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/risk"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/riskgate"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/router"
	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/venue"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/concurrency"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/logging"
	"github.com/puneethgb098/MidFrequencyTradingSystem/pkg/telemetry"
)

// App holds the assembled pipeline and its shared infrastructure.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger

	Telemetry *telemetry.Telemetry
	Cache     core.ICache
	Bus       *bus.StreamBus
	Publisher *bus.EventPublisher

	Gate      core.IRiskGate
	Portfolio *portfolio.Engine
	RiskMgr   *risk.Manager
	Router    *router.Router
	OMS       *oms.Manager
	Store     core.IOrderStore

	fillPool      *concurrency.WorkerPool
	metricsServer *metrics.Server
}

// NewApp loads configuration and wires every component of the pipeline.
// Nothing is running yet when NewApp returns; Run starts the loops.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tel, err := telemetry.Setup(cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
	}
	if err := a.wire(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Cfg

	a.Cache = cache.New()
	a.Bus = bus.NewStreamBus(a.Logger)
	a.Publisher = bus.NewEventPublisher(a.Bus, a.Logger)

	a.Gate = riskgate.New(riskgate.LimitsFromConfig(cfg.RiskLimits), a.Cache, a.Publisher, a.Logger)

	commission := portfolio.NewCommissionModel(cfg.Portfolio.Commission)
	a.Portfolio = portfolio.NewEngine(
		decimal.NewFromFloat(cfg.Portfolio.InitialCash),
		commission,
		a.Cache,
		a.Publisher,
		a.Logger,
	)
	// Realized plus unrealized PnL feeds the gate's daily-loss check.
	a.Portfolio.OnUpdate(a.Gate.UpdateDailyPnL)

	a.RiskMgr = risk.NewManager(cfg.RiskManager, a.Portfolio, a.Publisher, a.Logger)

	a.Router = router.New(router.Config{
		VenueOrder:      cfg.Router.VenueOrder,
		MonitorInterval: time.Duration(cfg.Router.MonitorIntervalSeconds) * time.Second,
		OrderTimeout:    time.Duration(cfg.Router.OrderTimeoutSeconds) * time.Second,
		SubmitRateLimit: cfg.Router.SubmitRateLimit,
		SubmitBurst:     cfg.Router.SubmitBurst,
	}, a.Logger)

	for name, vc := range cfg.Venues {
		adapter, err := a.buildVenue(name, vc)
		if err != nil {
			return err
		}
		a.Router.RegisterVenue(adapter, vc.Weight)
	}

	if cfg.Portfolio.HistoryDB != "" {
		store, err := oms.NewSQLiteStore(cfg.Portfolio.HistoryDB)
		if err != nil {
			return fmt.Errorf("order store: %w", err)
		}
		a.Store = store
	}

	a.OMS = oms.New(a.Gate, a.Router, a.Store, a.Publisher, a.Logger)

	a.fillPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "fills",
		MaxWorkers:  cfg.Concurrency.FillPoolSize,
		MaxCapacity: cfg.Concurrency.FillPoolBuffer,
	}, a.Logger)

	// Fills leave the OMS transition lock quickly; the pool applies them
	// to the portfolio off the update-consumer goroutine.
	a.OMS.OnFill(func(ctx context.Context, fill *core.Fill) {
		if err := a.fillPool.Submit(func() {
			if err := a.Portfolio.ProcessFill(context.Background(), fill); err != nil {
				a.Logger.Error("fill processing failed", "fill_id", fill.ID, "error", err)
			}
		}); err != nil {
			a.Logger.Error("fill pool rejected task", "fill_id", fill.ID, "error", err)
		}
	})

	if cfg.Telemetry.EnableMetrics {
		a.metricsServer = metrics.NewServer(cfg.Telemetry.MetricsPort, a.Logger)
	}
	return nil
}

func (a *App) buildVenue(name string, vc config.VenueConfig) (core.IVenueAdapter, error) {
	switch vc.Type {
	case "simulated":
		return router.NewSimulatedVenue(router.SimVenueConfig{
			Name:            name,
			FillProbability: vc.FillProbability,
			MinFillDelay:    time.Duration(vc.MinFillDelayMs) * time.Millisecond,
			MaxFillDelay:    time.Duration(vc.MaxFillDelayMs) * time.Millisecond,
		}, a.Cache, a.Logger), nil
	case "remote":
		return venue.NewRemote(venue.RemoteConfig{
			Name:      name,
			BaseURL:   vc.BaseURL,
			StreamURL: vc.StreamURL,
			APIKey:    vc.APIKey,
			SecretKey: vc.SecretKey,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown venue type %q for venue %s", vc.Type, name)
	}
}

// Run starts every component and blocks until a termination signal or the
// first component failure, then shuts the pipeline down in reverse order.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("starting trading pipeline", "app", a.Cfg.App.Name)

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := a.Router.Start(ctx); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := a.OMS.Start(ctx); err != nil {
		return fmt.Errorf("oms: %w", err)
	}
	if err := a.RiskMgr.Start(ctx); err != nil {
		return fmt.Errorf("risk manager: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	a.shutdown()

	if err != nil && err != context.Canceled {
		a.Logger.Error("pipeline stopped with error", "error", err)
		return err
	}
	a.Logger.Info("pipeline shut down gracefully")
	return nil
}

func (a *App) shutdown() {
	if a.Cfg.System.CancelOnExit {
		a.cancelOpenOrders()
	}

	if err := a.RiskMgr.Stop(); err != nil {
		a.Logger.Warn("risk manager stop failed", "error", err)
	}
	if err := a.OMS.Stop(); err != nil {
		a.Logger.Warn("oms stop failed", "error", err)
	}
	if err := a.Router.Stop(); err != nil {
		a.Logger.Warn("router stop failed", "error", err)
	}

	a.fillPool.Stop()
	a.Bus.Close()

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("order store close failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(shutdownCtx); err != nil {
			a.Logger.Warn("metrics server stop failed", "error", err)
		}
	}
	if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", "error", err)
	}
}

// cancelOpenOrders best-effort cancels everything still working at the
// venues before the process exits.
func (a *App) cancelOpenOrders() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, order := range a.OMS.ActiveOrders() {
		if order.State != core.StateSubmitted && order.State != core.StatePartialFill {
			continue
		}
		if _, err := a.OMS.CancelOrder(ctx, order.ClientOrderID); err != nil {
			a.Logger.Warn("exit cancellation failed",
				"client_order_id", order.ClientOrderID,
				"error", err,
			)
		}
	}
}
