// Package scheduler runs the scrape pipeline: extract a quote per commodity,
// ingest it into the market data series, then refresh collateral coverage.
// Scheduled runs are cron-driven; the same pipeline is exposed through the
// trigger endpoints.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/coffee-collateral-api/internal/ccr"
	"github.com/ksred/coffee-collateral-api/internal/marketdata"
	"github.com/ksred/coffee-collateral-api/internal/types"
	"github.com/ksred/coffee-collateral-api/pkg/response"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	maxRetries     = 5
	baseRetryDelay = 2 * time.Second
)

var (
	// ErrRunInProgress signals that a scheduled tick found a previous run
	// still in flight and was skipped.
	ErrRunInProgress = errors.New("scrape run already in progress")

	// ErrNoQuoteData signals that the extractor returned nothing usable.
	ErrNoQuoteData = errors.New("no quote data captured")
)

// Extractor supplies the raw quote for a commodity.
type Extractor interface {
	Extract(ctx context.Context, commodity types.Commodity) (*types.RawQuote, error)
}

// Runner executes scrape runs. The two commodities are independent failure
// domains: one aborting does not touch the other.
type Runner struct {
	extractor Extractor
	market    *marketdata.Service
	coverage  *ccr.Service
	running   atomic.Bool
}

func NewRunner(extractor Extractor, market *marketdata.Service, coverage *ccr.Service) *Runner {
	return &Runner{
		extractor: extractor,
		market:    market,
		coverage:  coverage,
	}
}

// IsRunning reports whether a run is currently in flight.
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ScrapeCommodity runs the pipeline once for a single commodity.
func (r *Runner) ScrapeCommodity(ctx context.Context, commodity types.Commodity) error {
	logger := log.With().
		Str("service", "scheduler").
		Str("commodity", string(commodity)).
		Logger()

	logger.Info().Msg("starting scrape")

	quote, err := r.extractor.Extract(ctx, commodity)
	if err != nil {
		return fmt.Errorf("extract %s quote: %w", commodity, err)
	}
	if quote == nil {
		return fmt.Errorf("%w for %s", ErrNoQuoteData, commodity)
	}

	record, err := r.market.Ingest(ctx, commodity, quote)
	if err != nil {
		return err
	}

	logger.Info().
		Time("trade_date", record.TradeDate).
		Float64("close", record.ClosePrice).
		Msg("scrape ingested")

	r.refreshCoverage(ctx)
	return nil
}

// refreshCoverage recalculates every scope kind after a successful ingest.
// Coverage failures are logged, not propagated: the price data is already
// safely persisted.
func (r *Runner) refreshCoverage(ctx context.Context) {
	logger := log.With().Str("service", "scheduler").Logger()
	for _, kind := range []ccr.ScopeKind{
		ccr.ScopeFarmer,
		ccr.ScopeShelter,
		ccr.ScopeWarehouse,
		ccr.ScopePlatform,
	} {
		if err := r.coverage.RecalculateAll(ctx, kind, ccr.ReasonPriceUpdate); err != nil {
			logger.Error().
				Err(err).
				Str("scope_kind", string(kind)).
				Msg("post-scrape ccr recalculation failed")
		}
	}
}

// RunAll scrapes both commodities sequentially, each wrapped in bounded
// exponential-backoff retries. A commodity failing after all attempts is
// reported but does not stop the other.
func (r *Runner) RunAll(ctx context.Context) error {
	var failures []error
	for _, commodity := range types.Commodities {
		task := commodity
		err := retry(ctx, "scrape_"+string(task), func() error {
			return r.ScrapeCommodity(ctx, task)
		})
		if err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// TryRunAll executes RunAll unless a run is already in flight. Used by the
// scheduled tick; on-demand triggers call RunAll directly and may overlap.
func (r *Runner) TryRunAll(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer r.running.Store(false)
	return r.RunAll(ctx)
}

// retry runs fn up to maxRetries times with exponential backoff. Duplicate
// trade dates are expected before new exchange data publishes and are not
// retried.
func retry(ctx context.Context, name string, fn func() error) error {
	logger := log.With().Str("service", "scheduler").Str("task", name).Logger()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Debug().Int("attempt", attempt).Int("max_attempts", maxRetries).Msg("running task")

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("task succeeded after retry")
			}
			return nil
		}
		if errors.Is(lastErr, marketdata.ErrDuplicateDate) {
			return lastErr
		}

		logger.Error().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", maxRetries).
			Msg("task attempt failed")

		if attempt < maxRetries {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("task %s failed after %d attempts: %w", name, maxRetries, lastErr)
}

// Config holds the cron schedule settings surfaced on the health endpoint.
type Config struct {
	Schedule string
	Timezone string
	Enabled  bool
}

// Scheduler owns the cron entry that drives scheduled runs.
type Scheduler struct {
	runner *Runner
	config Config
	cron   *cron.Cron
}

// NewScheduler validates the schedule and prepares the cron entry. A disabled
// or invalid schedule yields a scheduler that never fires; the trigger
// endpoints keep working either way.
func NewScheduler(runner *Runner, config Config) (*Scheduler, error) {
	s := &Scheduler{runner: runner, config: config}
	logger := log.With().
		Str("service", "scheduler").
		Str("schedule", config.Schedule).
		Str("timezone", config.Timezone).
		Logger()

	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", config.Schedule, err)
	}

	if !config.Enabled {
		logger.Info().Msg("scheduled runs disabled")
		return s, nil
	}

	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid cron timezone %q: %w", config.Timezone, err)
	}

	s.cron = cron.New(cron.WithLocation(location))
	if _, err := s.cron.AddFunc(config.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("register cron entry: %w", err)
	}

	logger.Info().Msg("scheduled runs registered")
	return s, nil
}

func (s *Scheduler) tick() {
	logger := log.With().Str("service", "scheduler").Logger()
	startedAt := time.Now()
	logger.Info().Msg("scheduled run triggered")

	err := s.runner.TryRunAll(context.Background())
	switch {
	case errors.Is(err, ErrRunInProgress):
		logger.Warn().Msg("scheduled run skipped, previous run still in progress")
	case err != nil:
		logger.Error().
			Err(err).
			Dur("duration", time.Since(startedAt)).
			Msg("scheduled run finished with failures")
	default:
		logger.Info().Dur("duration", time.Since(startedAt)).Msg("scheduled run completed")
	}
}

// Start begins firing scheduled runs. No-op when disabled.
func (s *Scheduler) Start() {
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop halts the cron entry and waits for a firing tick to return.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Config returns the schedule settings.
func (s *Scheduler) Config() Config {
	return s.config
}

// GinHandlers contains HTTP handlers for the scrape trigger endpoints
type GinHandlers struct {
	runner *Runner
}

func NewGinHandlers(runner *Runner) *GinHandlers {
	return &GinHandlers{
		runner: runner,
	}
}

// RunAllHandler handles POST requests to run the full pipeline for both
// commodities. On-demand triggers are allowed to overlap a scheduled run.
func (h *GinHandlers) RunAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.runner.RunAll(c.Request.Context()); err != nil {
			handleRunError(c, err)
			return
		}
		response.Success(c, gin.H{
			"message":   "scrape run executed successfully",
			"timestamp": time.Now().UTC(),
		})
	}
}

// ScrapeHandler handles POST requests to scrape a single commodity.
func (h *GinHandlers) ScrapeHandler(commodity types.Commodity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.runner.ScrapeCommodity(c.Request.Context(), commodity); err != nil {
			handleRunError(c, err)
			return
		}
		response.Success(c, gin.H{
			"message":   fmt.Sprintf("%s scrape executed successfully", commodity),
			"timestamp": time.Now().UTC(),
		})
	}
}

// handleRunError maps pipeline sentinels onto HTTP statuses. A duplicate
// trade date means the exchange has not published fresh data yet.
func handleRunError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, marketdata.ErrDuplicateDate):
		response.Conflict(c, "market data for trade date already recorded")
	case errors.Is(err, ErrNoQuoteData):
		response.BadRequest(c, "no quote data captured for active contract")
	default:
		response.Handle(c, nil, err)
	}
}
