package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"weeklytotals/internal/core"
	"weeklytotals/internal/log"
)

// RolloverConfig holds configuration for the rollover processor
type RolloverConfig struct {
	// CheckInterval is how often to look for a week change (default: 1m)
	CheckInterval time.Duration
}

// DefaultRolloverConfig returns sensible defaults
func DefaultRolloverConfig() RolloverConfig {
	return RolloverConfig{
		CheckInterval: time.Minute,
	}
}

// RolloverResult reports what one rollover run did.
type RolloverResult struct {
	WeekKey         string
	PreviousWeekKey string
	Budget          decimal.Decimal
	PreviousTotal   decimal.Decimal
	BudgetPromoted  bool

	// Adjustment is set when this run inserted the week's adjustment.
	Adjustment        *core.Transaction
	AdjustmentSkipped bool

	SavingsAdded    decimal.Decimal
	SavingsRecorded bool
}

// RolloverProcessor carries the previous week's overage into the current
// week and banks its savings. It runs at start and again whenever the
// week changes.
type RolloverProcessor struct {
	ledger  *Ledger
	metrics MetricsRecorder
	logger  *log.Logger
	config  RolloverConfig

	runMu    sync.Mutex
	lastWeek string

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRolloverProcessor creates a new rollover processor
func NewRolloverProcessor(ledger *Ledger, metrics MetricsRecorder, logger *log.Logger, config RolloverConfig) *RolloverProcessor {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = log.Default(log.ComponentRollover)
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultRolloverConfig().CheckInterval
	}
	return &RolloverProcessor{
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// Run performs the rollover for the current week. Each step is guarded
// on its own, so running it again for the same week changes nothing.
func (p *RolloverProcessor) Run(ctx context.Context) (RolloverResult, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	weeks := p.ledger.Weeks()
	res := RolloverResult{
		WeekKey:         weeks.CurrentWeek(),
		PreviousWeekKey: weeks.PreviousWeek(),
	}

	budget, promoted, err := p.ledger.PromotePendingBudget(ctx)
	if err != nil {
		return res, fmt.Errorf("promote pending budget: %w", err)
	}
	res.BudgetPromoted = promoted
	res.Budget = budget.Amount
	if promoted {
		p.logger.InfoContext(ctx, "Pending budget applied",
			log.FieldWeekKey, res.WeekKey,
			log.FieldAmount, budget.Amount.StringFixed(2))
	}
	if !budget.IsSet {
		p.logger.DebugContext(ctx, "Budget not set, skipping rollover")
		p.lastWeek = res.WeekKey
		return res, nil
	}

	total, err := p.ledger.SumForWeek(ctx, res.PreviousWeekKey)
	if err != nil {
		return res, fmt.Errorf("sum for week %s: %w", res.PreviousWeekKey, err)
	}
	res.PreviousTotal = total

	if total.GreaterThan(budget.Amount) {
		adj := core.Transaction{
			WeekKey:      res.WeekKey,
			Category:     core.AdjustmentCategory,
			Amount:       total.Sub(budget.Amount),
			IsAdjustment: true,
		}
		created, err := p.ledger.InsertAdjustmentIfAbsent(ctx, adj, core.OriginLocal)
		switch {
		case err == nil:
			res.Adjustment = &created
			p.metrics.RolloverAdjustment(true)
			p.logger.InfoContext(ctx, "Carry-over adjustment created",
				log.NewFields().WithTransaction(created).WithOperation(log.OpRollover).ToSlice()...)
		case errors.Is(err, core.ErrAdjustmentExists):
			res.AdjustmentSkipped = true
			p.metrics.RolloverAdjustment(false)
			p.logger.DebugContext(ctx, "Adjustment already present", log.FieldWeekKey, res.WeekKey)
		default:
			return res, fmt.Errorf("insert adjustment: %w", err)
		}
	}

	delta := decimal.Zero
	if total.IsPositive() && total.LessThan(budget.Amount) {
		delta = budget.Amount.Sub(total)
	}
	recorded, err := p.ledger.RecordWeekSavings(ctx, res.WeekKey, delta)
	if err != nil {
		return res, fmt.Errorf("record savings: %w", err)
	}
	res.SavingsRecorded = recorded
	if recorded {
		res.SavingsAdded = delta
		p.metrics.SavingsRecorded(delta)
		if delta.IsPositive() {
			p.logger.InfoContext(ctx, "Savings recorded",
				log.FieldWeekKey, res.PreviousWeekKey,
				log.FieldAmount, delta.StringFixed(2))
		}
	}

	p.lastWeek = res.WeekKey
	return res, nil
}

// Start runs the rollover now and then on every week change. Returns an
// error if already running.
func (p *RolloverProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("rollover processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Rollover processor started",
		"check_interval", p.config.CheckInterval)
	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RolloverProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Rollover processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Rollover processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *RolloverProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RolloverProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.CheckInterval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.weekChanged() {
				p.runOnce(ctx)
			}
		}
	}
}

func (p *RolloverProcessor) weekChanged() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.lastWeek != p.ledger.Weeks().CurrentWeek()
}

func (p *RolloverProcessor) runOnce(ctx context.Context) {
	if _, err := p.Run(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Rollover failed",
			log.FieldOperation, log.OpRollover, log.FieldError, err)
	}
}
