package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"finmonitor/internal/alert"
	"finmonitor/internal/alerting"
	"finmonitor/internal/api"
	"finmonitor/internal/config"
	"finmonitor/internal/fetcher"
	"finmonitor/internal/history"
	"finmonitor/internal/rates"
	"finmonitor/internal/scheduler"
	"finmonitor/internal/service"
	"finmonitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// components holds everything a long-running command needs.
type components struct {
	Watchlists *config.Watchlists
	History    *history.Store
	Engine     *alert.Engine
	Rates      *rates.Cache
	Metals     *fetcher.Metal
	Funds      *fetcher.Fund
	Notifier   *alerting.EmailNotifier
	Store      *storage.Store
	Service    *service.Service
}

func (a *App) newMetalFetcher() *fetcher.Metal {
	return fetcher.NewMetal(fetcher.MetalOptions{
		APIURL:        a.Config.Metals.APIURL,
		APIKey:        a.Config.Metals.APIKey,
		SinaGoldURL:   a.Config.Metals.SinaGoldURL,
		SinaSilverURL: a.Config.Metals.SinaSilverURL,
		Timeout:       a.Config.Metals.RequestTimeout,
		UserAgent:     a.Config.Metals.UserAgent,
	}, a.Logger)
}

func (a *App) newFundFetcher() *fetcher.Fund {
	return fetcher.NewFund(fetcher.FundOptions{
		APIURL:  a.Config.Funds.BaseURL,
		Timeout: a.Config.Funds.RequestTimeout,
	}, a.Logger)
}

func (a *App) newRateCache() *rates.Cache {
	cache := rates.New(rates.Options{
		CachePath:  a.Config.Exchange.CachePath,
		MaxRetries: a.Config.Exchange.MaxRetries,
		Sources:    rates.DefaultSources(a.Config.Exchange.RequestTimeout, a.Logger),
	}, a.Logger)
	cache.SetCacheDuration(int(a.Config.Exchange.CacheDuration / time.Second))
	return cache
}

func (a *App) newNotifier() *alerting.EmailNotifier {
	if !a.Config.Email.Enabled {
		return nil
	}
	return alerting.NewEmailNotifier(alerting.EmailOptions{
		SMTPHost:      a.Config.Email.SMTPHost,
		SMTPPort:      a.Config.Email.SMTPPort,
		Sender:        a.Config.Email.Sender,
		Password:      a.Config.Email.Password,
		RetryAttempts: a.Config.Email.RetryAttempts,
		RetryDelay:    a.Config.Email.RetryDelay,
		Timeout:       a.Config.Email.Timeout,
	}, a.Logger)
}

func (a *App) newEngine() *alert.Engine {
	return alert.NewEngine(alert.Config{
		GoldThreshold:       a.Config.Alerting.GoldThreshold,
		SilverThreshold:     a.Config.Alerting.SilverThreshold,
		FundChangeThreshold: a.Config.Alerting.FundChangeThreshold,
		CooldownMinutes:     a.Config.CooldownMinutes(),
		EnableMetalMonitor:  a.Config.Alerting.EnableMetalMonitor,
		EnableFundMonitor:   a.Config.Alerting.EnableFundMonitor,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// buildComponents assembles the full polling stack.
func (a *App) buildComponents(ctx context.Context) (*components, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Info().Msg("database.dsn 未配置，审计存储已禁用")
	}
	cleanup := func() {
		if closeStore != nil {
			closeStore()
		}
	}

	lists, err := config.NewWatchlists(a.Config.Funds.ListPath, a.Config.Email.ListPath, a.Logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	histStore := history.NewStore(a.Config.History.MaxLength, a.Logger)
	histStore.Load(a.Config.History.SnapshotPath)
	if a.Config.History.Retention > 0 {
		histStore.Purge(a.Config.History.Retention)
	}

	c := &components{
		Watchlists: lists,
		History:    histStore,
		Engine:     a.newEngine(),
		Rates:      a.newRateCache(),
		Metals:     a.newMetalFetcher(),
		Funds:      a.newFundFetcher(),
		Notifier:   a.newNotifier(),
		Store:      store,
	}

	opts := service.Options{
		Metals:       c.Metals,
		Funds:        c.Funds,
		History:      c.History,
		Engine:       c.Engine,
		Watchlists:   lists,
		SnapshotPath: a.Config.History.SnapshotPath,
		EmailEnabled: a.Config.Email.Enabled,
	}
	if c.Notifier != nil {
		opts.Notifier = c.Notifier
	}
	if store != nil {
		opts.Samples = store
		opts.AlertLog = store
	}
	c.Service = service.New(opts, a.Logger)

	return c, cleanup, nil
}

// Run executes the long-running polling loop without the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comps, cleanup, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return a.runLoop(ctx, comps)
}

// Serve runs the polling loop alongside the HTTP API server.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comps, cleanup, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	handlerOpts := api.Options{
		Metals:     comps.Metals,
		Funds:      comps.Funds,
		History:    comps.History,
		Engine:     comps.Engine,
		Rates:      comps.Rates,
		Watchlists: comps.Watchlists,
		Service:    comps.Service,
	}
	if comps.Notifier != nil {
		handlerOpts.Mailer = comps.Notifier
	}
	if comps.Store != nil {
		handlerOpts.AlertLog = comps.Store
	}

	server := api.NewServer(a.Config.Server, api.NewHandler(handlerOpts, a.Logger), a.Logger)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.runLoop(ctx, comps) }()

	select {
	case err := <-serverErr:
		cancel()
		<-loopErr
		return err
	case err := <-loopErr:
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			a.Logger.Error().Err(shutdownErr).Msg("API服务器关闭失败")
		}
		return err
	}
}

// runLoop drives polling, watchlist reloads, housekeeping, and the daily
// summary until the context is cancelled.
func (a *App) runLoop(ctx context.Context, comps *components) error {
	if err := comps.Watchlists.StartWatcher(); err != nil {
		a.Logger.Warn().Err(err).Msg("监控列表热更新不可用")
	} else {
		defer comps.Watchlists.StopWatcher()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)

	if comps.Notifier != nil {
		go func() {
			_ = sched.RunDaily(ctx, a.Config.Scheduler.SummaryHour, comps.Service.SendSummary)
		}()
	}
	go a.housekeeping(ctx, comps)

	a.Logger.Info().Msg("监控服务启动")
	err := sched.Run(ctx, comps.Service.PollOnce)

	if saveErr := comps.History.Save(a.Config.History.SnapshotPath); saveErr != nil {
		a.Logger.Error().Err(saveErr).Msg("退出时保存历史快照失败")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("监控服务异常退出")
		return err
	}
	a.Logger.Info().Msg("监控服务已停止")
	return nil
}

// housekeeping prunes aged state once an hour.
func (a *App) housekeeping(ctx context.Context, comps *components) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			comps.Engine.ClearOldHistory(24)
			if comps.Notifier != nil {
				comps.Notifier.ClearOldRecords(24)
			}
			if a.Config.History.Retention > 0 {
				comps.History.Purge(a.Config.History.Retention)

				if comps.Store != nil {
					cutoff := time.Now().Add(-a.Config.History.Retention)
					if err := comps.Store.DeleteSamplesBefore(ctx, cutoff); err != nil {
						a.Logger.Error().Err(err).Msg("清理历史样本失败")
					}
					if err := comps.Store.DeleteAlertsBefore(ctx, cutoff); err != nil {
						a.Logger.Error().Err(err).Msg("清理告警记录失败")
					}
				}
			}
		}
	}
}

// ExportOptions hold parameters for exporting a history series.
type ExportOptions struct {
	Asset     string
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	WithFunds bool
}
