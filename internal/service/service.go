package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"funding-rate-alerts/internal/alerting"
	"funding-rate-alerts/internal/config"
	"funding-rate-alerts/internal/engine"
	"funding-rate-alerts/internal/fetcher"
	"funding-rate-alerts/internal/scheduler"
	"funding-rate-alerts/internal/storage"
)

// Service orchestrates polling, detection, and delivery: it feeds
// snapshot data into the alert engine on a fixed cadence and forwards
// the resulting alerts, settlement alerts first.
type Service struct {
	source     fetcher.SnapshotSource
	engine     *engine.Engine
	notifier   alerting.Notifier
	alertStore storage.AlertStore
	sched      *scheduler.Scheduler
	logger     zerolog.Logger

	refreshSpec  string
	topPredicted int
	sendDelay    time.Duration
	alertsOn     bool

	mu       sync.RWMutex
	universe map[string]fetcher.SymbolInfo
}

// New constructs the monitoring service. alertStore may be nil when no
// database is configured.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.SnapshotSource, eng *engine.Engine, notifier alerting.Notifier, alertStore storage.AlertStore, logger zerolog.Logger) *Service {
	return &Service{
		source:       source,
		engine:       eng,
		notifier:     notifier,
		alertStore:   alertStore,
		sched:        sched,
		logger:       logger.With().Str("component", "service").Logger(),
		refreshSpec:  cfg.Scheduler.UniverseRefresh,
		topPredicted: cfg.Alerting.TopPredicted,
		sendDelay:    cfg.Alerting.SendDelay,
		alertsOn:     cfg.Alerting.Enabled,
	}
}

// Run fetches the symbol universe, schedules its periodic refresh, and
// drives the polling loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.refreshUniverse(ctx); err != nil {
		return fmt.Errorf("initial universe fetch: %w", err)
	}
	if s.symbolCount() == 0 {
		return fmt.Errorf("symbol universe is empty")
	}

	s.sendStartupMessage(ctx)

	runner := cron.New()
	if _, err := runner.AddFunc(s.refreshSpec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.refreshUniverse(refreshCtx); err != nil {
			s.logger.Error().Err(err).Msg("universe refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("register universe refresh: %w", err)
	}
	runner.Start()
	defer runner.Stop()

	s.logger.Info().Int("symbols", s.symbolCount()).Msg("starting poll loop")
	return s.sched.Run(ctx, s.pollCycle)
}

// pollCycle runs one fetch → detect → deliver pass. Source failures
// yield an error that the scheduler logs; they never stop the loop.
func (s *Service) pollCycle(ctx context.Context) error {
	symbols := s.symbols()

	tickers, err := s.source.FetchTickers(ctx, symbols)
	if err != nil {
		return fmt.Errorf("fetch tickers: %w", err)
	}
	if len(tickers) == 0 {
		s.logger.Warn().Msg("no ticker data this cycle")
		return nil
	}

	settlements, err := s.source.FetchLatestSettlements(ctx, symbols)
	if err != nil {
		return fmt.Errorf("fetch settlements: %w", err)
	}

	settlementAlerts := s.engine.CheckSettlements(ctx, settlements, tickers)
	predictedAlerts := capByMagnitude(s.engine.CheckPredictedRates(ctx, tickers), s.topPredicted)

	s.deliverAll(ctx, append(settlementAlerts, predictedAlerts...))
	return nil
}

func (s *Service) deliverAll(ctx context.Context, alerts []engine.Alert) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	for i, alert := range alerts {
		if s.alertStore != nil {
			if _, err := s.alertStore.InsertAlert(ctx, alert); err != nil {
				s.logger.Error().Err(err).Str("symbol", alert.Symbol).Msg("failed to audit alert")
			}
		}
		if err := s.notifier.Deliver(ctx, alert); err != nil {
			s.logger.Error().Err(err).Str("symbol", alert.Symbol).Str("type", string(alert.Type)).
				Msg("failed to deliver alert")
		}

		// Space out sends for the notifier's own rate limits.
		if i < len(alerts)-1 && s.sendDelay > 0 {
			timer := time.NewTimer(s.sendDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// capByMagnitude keeps the n alerts with the largest absolute rates.
func capByMagnitude(alerts []engine.Alert, n int) []engine.Alert {
	if n <= 0 || len(alerts) <= n {
		return alerts
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].FundingRate.Abs().GreaterThan(alerts[j].FundingRate.Abs())
	})
	return alerts[:n]
}

func (s *Service) refreshUniverse(ctx context.Context) error {
	universe, err := s.source.FetchUniverse(ctx)
	if err != nil {
		return err
	}
	if len(universe) == 0 {
		return fmt.Errorf("universe fetch returned no symbols")
	}

	s.mu.Lock()
	previous := s.universe
	s.universe = universe
	s.mu.Unlock()

	added, removed := diffSymbols(previous, universe)
	event := s.logger.Info().Int("symbols", len(universe))
	if len(added) > 0 {
		event = event.Strs("added", added)
	}
	if len(removed) > 0 {
		event = event.Strs("removed", removed)
	}
	event.Msg("symbol universe refreshed")
	return nil
}

func diffSymbols(previous, current map[string]fetcher.SymbolInfo) (added, removed []string) {
	for symbol := range current {
		if _, ok := previous[symbol]; !ok {
			added = append(added, symbol)
		}
	}
	for symbol := range previous {
		if _, ok := current[symbol]; !ok {
			removed = append(removed, symbol)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func (s *Service) symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.universe))
	for symbol := range s.universe {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (s *Service) symbolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.universe)
}

func (s *Service) sendStartupMessage(ctx context.Context) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	s.mu.RLock()
	intervals := make(map[int]int)
	for _, info := range s.universe {
		intervals[info.FundingIntervalHours]++
	}
	count := len(s.universe)
	s.mu.RUnlock()

	if err := s.notifier.DeliverText(ctx, alerting.FormatStartup(count, intervals)); err != nil {
		s.logger.Warn().Err(err).Msg("startup notification failed")
	}
}
