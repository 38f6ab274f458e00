package app

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/alerting"
	"funding-rate-alerts/internal/commands"
	"funding-rate-alerts/internal/config"
	"funding-rate-alerts/internal/engine"
	"funding-rate-alerts/internal/fetcher"
	"funding-rate-alerts/internal/scheduler"
	"funding-rate-alerts/internal/service"
	"funding-rate-alerts/internal/storage"
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

func (a *App) newSource() fetcher.SnapshotSource {
	return fetcher.NewBybit(fetcher.BybitOptions{
		BaseURL:           a.Config.Bybit.BaseURL,
		Category:          a.Config.Bybit.Category,
		QuoteSuffix:       a.Config.Bybit.QuoteSuffix,
		Timeout:           a.Config.Bybit.RequestTimeout,
		UserAgent:         a.Config.Bybit.UserAgent,
		RequestsPerSecond: a.Config.Bybit.RequestsPerSecond,
		RequestBurst:      a.Config.Bybit.RequestBurst,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	tg := a.Config.Telegram
	return alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.TopicID, tg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) engineOptions() engine.Options {
	al := a.Config.Alerting
	return engine.Options{
		Policy:             engine.Policy(al.SettlementPolicy),
		FullAlertSymbols:   al.FullAlertSymbols,
		MinRateChange:      decimal.NewFromFloat(al.MinRateChange),
		ExtremeRate:        decimal.NewFromFloat(al.ExtremeRate),
		PredictedRate:      decimal.NewFromFloat(al.PredictedRate),
		PredictedMinChange: decimal.NewFromFloat(al.PredictedMinChange),
		MaxAlertsPerHour:   al.MaxAlertsPerHour,
	}
}

// openStore opens the PostgreSQL store when a DSN is configured.
func (a *App) openStore(ctx context.Context) (*storage.PostgresStore, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewPostgresStore(pool)
	return store, store.Close, nil
}

// Run executes the long-running monitoring service alongside the
// command listener.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var stateStore engine.StateStore
	var alertStore storage.AlertStore
	if pg != nil {
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		stateStore = pg
		alertStore = pg
	} else {
		a.Logger.Info().Str("file", a.Config.State.File).Msg("database.dsn not configured; using file state store")
		stateStore = storage.NewFileStore(a.Config.State.File)
	}

	source := a.newSource()
	eng := engine.New(a.engineOptions(), stateStore, a.Logger)
	notifier := a.newNotifier()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	svc := service.New(a.Config, sched, source, eng, notifier, alertStore, a.Logger)

	if a.Config.Commands.Enabled {
		listener := commands.NewListener(commands.Options{
			BotToken:    a.Config.Telegram.BotToken,
			TopicID:     a.Config.Telegram.TopicID,
			BotUsername: a.Config.Commands.BotUsername,
			APIBase:     a.Config.Telegram.APIBase,
			CacheTTL:    a.Config.Commands.CacheTTL,
			QuoteSuffix: a.Config.Bybit.QuoteSuffix,
		}, a.newSource(), a.Logger)

		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("command listener terminated")
			}
		}()
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// NormaliseSymbol upper-cases a symbol and appends the quote suffix.
func (a *App) NormaliseSymbol(raw string) string {
	symbol := strings.ToUpper(raw)
	if !strings.HasSuffix(symbol, a.Config.Bybit.QuoteSuffix) {
		symbol += a.Config.Bybit.QuoteSuffix
	}
	return symbol
}

// ExportOptions hold parameters for exporting historical settlements.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AlertsOptions configure the alerts listing command.
type AlertsOptions struct {
	Limit int
}
