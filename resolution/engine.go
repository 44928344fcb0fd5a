package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultEngineWorkers    = 4
	DefaultEventsBufferSize = 100
)

// EngineConfig controls lot processing.
type EngineConfig struct {
	Workers          int
	EventsBufferSize int
	Retry            RetryConfig
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:          DefaultEngineWorkers,
		EventsBufferSize: DefaultEventsBufferSize,
		Retry:            DefaultRetryConfig(),
	}
}

// LotSummary aggregates per-outcome counts for one processed lot.
type LotSummary struct {
	BatchRunID string         `json:"batch_run_id"`
	Total      int            `json:"total"`
	ByOutcome  map[string]int `json:"by_outcome"`
	Duration   time.Duration  `json:"duration"`
}

// Engine resolves whole lots of rows through a bounded worker pool.
// Rows are independent, so per-row failures never abort the lot.
type Engine struct {
	matcher *Matcher
	applier *Applier
	config  EngineConfig
	logger  *slog.Logger

	events chan string
}

func NewEngine(matcher *Matcher, applier *Applier, config EngineConfig) *Engine {
	if config.Workers <= 0 {
		config.Workers = DefaultEngineWorkers
	}
	if config.EventsBufferSize <= 0 {
		config.EventsBufferSize = DefaultEventsBufferSize
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryConfig()
	}
	return &Engine{
		matcher: matcher,
		applier: applier,
		config:  config,
		logger:  slog.Default().With("component", "engine"),
		events:  make(chan string, config.EventsBufferSize),
	}
}

// Events exposes the progress stream. Sends are non-blocking; slow
// consumers miss events rather than stall workers.
func (e *Engine) Events() <-chan string {
	return e.events
}

func (e *Engine) emit(msg string) {
	select {
	case e.events <- msg:
	default:
	}
}

// ProcessLot resolves every row of a lot and returns the outcome
// summary. Cancellation stops dispatching new rows; rows already in
// flight finish.
func (e *Engine) ProcessLot(ctx context.Context, rows []RowInput) (*LotSummary, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("lot is empty")
	}

	batchRunID := uuid.New().String()
	startTime := time.Now()

	e.logger.Info("Lot processing started",
		"batch_run_id", batchRunID,
		"rows", len(rows),
		"workers", e.config.Workers)
	e.emit(fmt.Sprintf("Lot %s started: %d rows", batchRunID, len(rows)))

	semaphore := make(chan struct{}, e.config.Workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	byOutcome := make(map[string]int)

	for _, row := range rows {
		if ctx.Err() != nil {
			e.logger.Warn("Lot processing cancelled",
				"batch_run_id", batchRunID,
				"remaining", len(rows)-countTotal(byOutcome))
			break
		}

		semaphore <- struct{}{}
		wg.Add(1)

		go func(row RowInput) {
			defer func() {
				<-semaphore
				wg.Done()

				if rec := recover(); rec != nil {
					e.logger.Error("Panic in lot worker",
						"batch_run_id", batchRunID,
						"source_row_id", row.SourceRowID,
						"panic", rec,
						"stack", string(debug.Stack()))
					mu.Lock()
					byOutcome["panic"]++
					mu.Unlock()
				}
			}()

			outcome := e.processRow(ctx, row, batchRunID)

			mu.Lock()
			byOutcome[outcome]++
			total := countTotal(byOutcome)
			mu.Unlock()

			if total%100 == 0 {
				e.emit(fmt.Sprintf("Lot %s: %d/%d rows done", batchRunID, total, len(rows)))
			}
		}(row)
	}

	wg.Wait()
	duration := time.Since(startTime)

	summary := &LotSummary{
		BatchRunID: batchRunID,
		Total:      countTotal(byOutcome),
		ByOutcome:  byOutcome,
		Duration:   duration,
	}

	rowsPerSec := float64(summary.Total) / duration.Seconds()
	e.logger.Info("Lot processing finished",
		"batch_run_id", batchRunID,
		"total", summary.Total,
		"by_outcome", byOutcome,
		"duration", duration,
		"rows_per_sec", fmt.Sprintf("%.1f", rowsPerSec))
	e.emit(fmt.Sprintf("Lot %s finished: %d rows in %v", batchRunID, summary.Total, duration.Round(time.Millisecond)))

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

// ResolveOne resolves a single input and persists the outcome. Used by
// the synchronous API path.
func (e *Engine) ResolveOne(ctx context.Context, row RowInput) (*MatchResult, error) {
	input := Input{
		RawText:         row.RawText,
		CorroboratingID: row.CorroboratingID,
		NumericValue:    row.NumericValue,
		DealText:        row.DealText,
	}

	var result *MatchResult
	err := Retry(ctx, func() error {
		var matchErr error
		result, matchErr = e.matcher.Resolve(ctx, input)
		return matchErr
	}, e.config.Retry, "resolve "+row.SourceRowID)

	if err != nil {
		if errors.Is(err, ErrRegistryUnavailable) {
			if _, recErr := e.applier.ApplyRegistryFailure(input, row.SourceTable, row.SourceRowID, uuid.New().String()); recErr != nil {
				e.logger.Error("Failed to record registry failure",
					"source_row_id", row.SourceRowID,
					"error", recErr)
			}
		}
		return nil, err
	}

	if _, err := e.applier.Apply(ctx, result, row.SourceTable, row.SourceRowID, uuid.New().String()); err != nil {
		return nil, err
	}
	return result, nil
}

// processRow runs match plus apply for one row and returns the
// recorded outcome.
func (e *Engine) processRow(ctx context.Context, row RowInput, batchRunID string) string {
	input := Input{
		RawText:         row.RawText,
		CorroboratingID: row.CorroboratingID,
		NumericValue:    row.NumericValue,
		DealText:        row.DealText,
	}

	var result *MatchResult
	err := Retry(ctx, func() error {
		var matchErr error
		result, matchErr = e.matcher.Resolve(ctx, input)
		return matchErr
	}, e.config.Retry, "resolve "+row.SourceRowID)

	if err != nil {
		e.logger.Warn("Row resolution failed",
			"batch_run_id", batchRunID,
			"source_table", row.SourceTable,
			"source_row_id", row.SourceRowID,
			"error", err)

		if _, recErr := e.applier.ApplyRegistryFailure(input, row.SourceTable, row.SourceRowID, batchRunID); recErr != nil {
			e.logger.Error("Failed to record registry failure",
				"batch_run_id", batchRunID,
				"source_row_id", row.SourceRowID,
				"error", recErr)
			return "record-failed"
		}
		return OutcomeUnresolvedPendingRetry
	}

	rec, err := e.applier.Apply(ctx, result, row.SourceTable, row.SourceRowID, batchRunID)
	if err != nil {
		e.logger.Error("Failed to apply match result",
			"batch_run_id", batchRunID,
			"source_row_id", row.SourceRowID,
			"error", err)
		return "record-failed"
	}
	return rec.Outcome
}

func countTotal(byOutcome map[string]int) int {
	total := 0
	for _, n := range byOutcome {
		total += n
	}
	return total
}
