package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"weeklytotals/internal/core"
	"weeklytotals/internal/log"
	"weeklytotals/internal/reconcile"
	"weeklytotals/internal/replica"
)

// SyncEngineConfig holds configuration for the sync engine
type SyncEngineConfig struct {
	// PushTimeout bounds each write to the replica (default: 10s)
	PushTimeout time.Duration
}

// DefaultSyncEngineConfig returns sensible defaults
func DefaultSyncEngineConfig() SyncEngineConfig {
	return SyncEngineConfig{
		PushTimeout: 10 * time.Second,
	}
}

// SyncEngine keeps the ledger and the replica in step. Local writes are
// pushed as they happen; every replica snapshot triggers a full
// reconciliation pass for its entity.
type SyncEngine struct {
	ledger  *Ledger
	tree    replica.Tree
	metrics MetricsRecorder
	logger  *log.Logger
	config  SyncEngineConfig

	// One pass at a time per entity.
	txMu       sync.Mutex
	categoryMu sync.Mutex
	budgetMu   sync.Mutex

	mu        sync.Mutex
	listening bool
}

// NewSyncEngine creates the engine and registers it with ledger so local
// writes are pushed.
func NewSyncEngine(ledger *Ledger, tree replica.Tree, metrics MetricsRecorder, logger *log.Logger, config SyncEngineConfig) *SyncEngine {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = log.Default(log.ComponentSync)
	}
	if config.PushTimeout <= 0 {
		config.PushTimeout = DefaultSyncEngineConfig().PushTimeout
	}
	e := &SyncEngine{
		ledger:  ledger,
		tree:    tree,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
	ledger.Observe(e)
	return e
}

// LedgerChanged pushes local writes. Writes applied from the replica are
// never sent back.
func (e *SyncEngine) LedgerChanged(ctx context.Context, ch Change) {
	if ch.Origin != core.OriginLocal {
		return
	}
	switch ch.Kind {
	case TransactionSaved:
		_ = e.PushTransaction(ctx, ch.Transaction)
	case TransactionDeleted:
		_ = e.DeleteTransaction(ctx, ch.Transaction)
	case CategorySaved:
		_ = e.PushCategory(ctx, ch.Category)
	case CategoryDeleted:
		_ = e.DeleteCategory(ctx, ch.Category.Name)
	case BudgetChanged:
		_ = e.PushBudget(ctx, ch.Budget.Amount, ch.Budget.IsSet)
	case LedgerCleared:
		_ = e.ClearAllData(ctx)
	}
}

func transactionPath(t core.Transaction) string {
	return replica.Join(replica.TransactionsPath, t.RemoteKey())
}

func categoryPath(name string) string {
	return replica.Join(replica.CategoriesPath, name)
}

// write runs one replica write under the push timeout and reports it.
func (e *SyncEngine) write(ctx context.Context, entity, op string, fn func(ctx context.Context) error, fields log.LogFields) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.PushTimeout)
	defer cancel()

	err := fn(ctx)
	e.metrics.PushResult(entity, op, err)
	if err != nil {
		fields = fields.WithOperation(op).WithError(err)
		fields[log.FieldEntity] = entity
		e.logger.ErrorContext(ctx, "Replica write failed", fields.ToSlice()...)
		return fmt.Errorf("%s %s: %w", op, entity, err)
	}
	return nil
}

// PushTransaction writes t under its createdAt key.
func (e *SyncEngine) PushTransaction(ctx context.Context, t core.Transaction) error {
	return e.write(ctx, EntityTransactions, log.OpPush, func(ctx context.Context) error {
		return e.tree.Set(ctx, transactionPath(t), reconcile.EncodeTransaction(t))
	}, log.NewFields().WithTransaction(t))
}

// DeleteTransaction removes t's key from the replica.
func (e *SyncEngine) DeleteTransaction(ctx context.Context, t core.Transaction) error {
	return e.write(ctx, EntityTransactions, log.OpDelete, func(ctx context.Context) error {
		return e.tree.Remove(ctx, transactionPath(t))
	}, log.NewFields().WithTransaction(t))
}

func (e *SyncEngine) PushCategory(ctx context.Context, c core.Category) error {
	return e.write(ctx, EntityCategories, log.OpPush, func(ctx context.Context) error {
		return e.tree.Set(ctx, categoryPath(c.Name), reconcile.EncodeCategory(c))
	}, log.LogFields{log.FieldCategory: c.Name})
}

func (e *SyncEngine) DeleteCategory(ctx context.Context, name string) error {
	return e.write(ctx, EntityCategories, log.OpDelete, func(ctx context.Context) error {
		return e.tree.Remove(ctx, categoryPath(name))
	}, log.LogFields{log.FieldCategory: name})
}

// PushBudget overwrites the replica budget.
func (e *SyncEngine) PushBudget(ctx context.Context, amount decimal.Decimal, isSet bool) error {
	return e.write(ctx, EntityBudget, log.OpPush, func(ctx context.Context) error {
		return e.tree.Set(ctx, replica.BudgetPath, reconcile.EncodeBudget(amount, isSet))
	}, log.LogFields{log.FieldAmount: amount.StringFixed(2), "is_set": isSet})
}

// ClearAllData removes the whole replica tree.
func (e *SyncEngine) ClearAllData(ctx context.Context) error {
	err := e.write(ctx, "all", log.OpClear, func(ctx context.Context) error {
		return e.tree.Remove(ctx, "")
	}, log.NewFields())
	if err == nil {
		e.logger.InfoContext(ctx, "Replica cleared")
	}
	return err
}

// IsListening reports whether StartListening has completed successfully.
func (e *SyncEngine) IsListening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listening
}

// StartListening pushes every local record, then subscribes to the three
// replica subtrees. It is a no-op when already listening. Subscriptions
// end with ctx.
func (e *SyncEngine) StartListening(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listening {
		return nil
	}

	// The first snapshot must already hold every local record.
	if err := e.bootstrap(ctx); err != nil {
		e.logger.WarnContext(ctx, "Bootstrap push incomplete",
			log.FieldOperation, log.OpBootstrap, log.FieldError, err)
	}

	subs := []struct {
		path string
		h    replica.Handler
	}{
		{replica.TransactionsPath, e.onTransactions},
		{replica.CategoriesPath, e.onCategories},
		{replica.BudgetPath, e.onBudget},
	}
	for _, s := range subs {
		if err := e.tree.Subscribe(ctx, s.path, s.h); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.path, err)
		}
	}
	e.listening = true
	e.logger.InfoContext(ctx, "Sync engine listening", log.FieldOperation, log.OpStartup)
	return nil
}

// bootstrap pushes all local data to the replica.
func (e *SyncEngine) bootstrap(ctx context.Context) error {
	txs, err := e.ledger.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	categories, err := e.ledger.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	budget, err := e.ledger.GetBudget(ctx)
	if err != nil {
		return fmt.Errorf("get budget: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		var errs []error
		for _, t := range txs {
			errs = append(errs, e.PushTransaction(ctx, t))
		}
		return errors.Join(errs...)
	})
	g.Go(func() error {
		var errs []error
		for _, c := range categories {
			errs = append(errs, e.PushCategory(ctx, c))
		}
		return errors.Join(errs...)
	})
	if budget.IsSet {
		g.Go(func() error {
			return e.PushBudget(ctx, budget.Amount, budget.IsSet)
		})
	}
	err = g.Wait()

	e.logger.InfoContext(ctx, "Bootstrap push done",
		log.FieldOperation, log.OpBootstrap,
		"transactions", len(txs),
		"categories", len(categories),
		"budget", budget.IsSet)
	return err
}

func (e *SyncEngine) onTransactions(ctx context.Context, snap replica.Snapshot) {
	if err := e.ReconcileTransactions(ctx, snap); err != nil {
		e.logger.ErrorContext(ctx, "Transaction reconciliation failed",
			log.FieldOperation, log.OpReconcile, log.FieldError, err)
	}
}

func (e *SyncEngine) onCategories(ctx context.Context, snap replica.Snapshot) {
	if err := e.ReconcileCategories(ctx, snap); err != nil {
		e.logger.ErrorContext(ctx, "Category reconciliation failed",
			log.FieldOperation, log.OpReconcile, log.FieldError, err)
	}
}

func (e *SyncEngine) onBudget(ctx context.Context, snap replica.Snapshot) {
	if err := e.ReconcileBudget(ctx, snap); err != nil {
		e.logger.ErrorContext(ctx, "Budget reconciliation failed",
			log.FieldOperation, log.OpReconcile, log.FieldError, err)
	}
}

// ReconcileTransactions brings the local transactions in line with a
// transactions snapshot. Individual write failures are logged and the
// pass continues; the next snapshot retries them.
func (e *SyncEngine) ReconcileTransactions(ctx context.Context, snap replica.Snapshot) error {
	e.txMu.Lock()
	defer e.txMu.Unlock()

	remote, skipped := reconcile.DecodeTransactions(snap.Children())
	if skipped > 0 {
		e.logger.WarnContext(ctx, "Skipped malformed remote transactions", "skipped", skipped)
	}
	local, err := e.ledger.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	plan := reconcile.Transactions(local, remote)
	e.metrics.ReconcilePass(EntityTransactions, len(plan.Updates)+len(plan.Inserts), len(plan.Deletes), skipped)
	if plan.Empty() && len(plan.Superseded) == 0 {
		return nil
	}

	for _, t := range plan.Deletes {
		if err := e.ledger.DeleteTransaction(ctx, t.ID, core.OriginReplica); err != nil && !IsNotFound(err) {
			e.logApplyError(ctx, "delete", t, err)
		}
	}
	for _, u := range plan.Updates {
		if _, err := e.ledger.UpdateTransaction(ctx, u.Transaction, core.OriginReplica); err != nil {
			e.logApplyError(ctx, "update", u.Transaction, err)
			continue
		}
		if u.Realign {
			e.logger.InfoContext(ctx, "Adjustment realigned",
				log.NewFields().WithTransaction(u.Transaction).ToSlice()...)
		}
	}
	for _, t := range plan.Inserts {
		if t.IsAdjustment {
			e.insertAdjustment(ctx, t)
			continue
		}
		if _, err := e.ledger.AddTransaction(ctx, t, core.OriginReplica); err != nil {
			e.logApplyError(ctx, "insert", t, err)
		}
	}

	// Losing adjustments are removed so other devices stop seeing them.
	for _, t := range plan.Superseded {
		_ = e.DeleteTransaction(ctx, t)
	}

	e.logger.DebugContext(ctx, "Transactions reconciled",
		log.FieldOperation, log.OpReconcile,
		"deletes", len(plan.Deletes),
		"updates", len(plan.Updates),
		"inserts", len(plan.Inserts),
		"superseded", len(plan.Superseded))
	return nil
}

// insertAdjustment inserts a remote adjustment, or realigns the week's
// adjustment if one appeared since the plan was computed.
func (e *SyncEngine) insertAdjustment(ctx context.Context, t core.Transaction) {
	existing, err := e.ledger.InsertAdjustmentIfAbsent(ctx, t, core.OriginReplica)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrAdjustmentExists) {
		e.logApplyError(ctx, "insert", t, err)
		return
	}
	t.ID = existing.ID
	if _, err := e.ledger.UpdateTransaction(ctx, t, core.OriginReplica); err != nil {
		e.logApplyError(ctx, "realign", t, err)
		return
	}
	e.logger.InfoContext(ctx, "Adjustment realigned",
		log.NewFields().WithTransaction(t).ToSlice()...)
}

func (e *SyncEngine) logApplyError(ctx context.Context, op string, t core.Transaction, err error) {
	fields := log.NewFields().WithTransaction(t).WithOperation(op).WithError(err)
	e.logger.WarnContext(ctx, "Failed to apply remote transaction", fields.ToSlice()...)
}

// ReconcileCategories brings the local categories in line with a
// categories snapshot.
func (e *SyncEngine) ReconcileCategories(ctx context.Context, snap replica.Snapshot) error {
	e.categoryMu.Lock()
	defer e.categoryMu.Unlock()

	remote, skipped := reconcile.DecodeCategories(snap.Children())
	if skipped > 0 {
		e.logger.WarnContext(ctx, "Skipped malformed remote categories", "skipped", skipped)
	}
	local, err := e.ledger.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}

	plan := reconcile.Categories(local, remote)
	e.metrics.ReconcilePass(EntityCategories, len(plan.Updates)+len(plan.Inserts), len(plan.Deletes), skipped)

	for _, c := range plan.Deletes {
		if err := e.ledger.DeleteCategory(ctx, c.Name, core.OriginReplica); err != nil && !IsNotFound(err) {
			e.logger.WarnContext(ctx, "Failed to delete category",
				log.FieldCategory, c.Name, log.FieldError, err)
		}
	}
	for _, c := range append(plan.Updates, plan.Inserts...) {
		if _, err := e.ledger.SaveCategory(ctx, c, core.OriginReplica); err != nil {
			e.logger.WarnContext(ctx, "Failed to save category",
				log.FieldCategory, c.Name, log.FieldError, err)
		}
	}
	return nil
}

// ReconcileBudget adopts a remote budget that is set and differs from the
// local one.
func (e *SyncEngine) ReconcileBudget(ctx context.Context, snap replica.Snapshot) error {
	e.budgetMu.Lock()
	defer e.budgetMu.Unlock()

	remote, ok := reconcile.DecodeBudget(snap.Value)
	if !ok {
		if snap.Exists() {
			e.metrics.ReconcilePass(EntityBudget, 0, 0, 1)
			e.logger.WarnContext(ctx, "Skipped malformed remote budget")
		}
		return nil
	}
	local, err := e.ledger.GetBudget(ctx)
	if err != nil {
		return fmt.Errorf("get budget: %w", err)
	}
	if !reconcile.Budget(local, remote) {
		e.metrics.ReconcilePass(EntityBudget, 0, 0, 0)
		return nil
	}
	e.metrics.ReconcilePass(EntityBudget, 1, 0, 0)
	if _, err := e.ledger.SetBudget(ctx, remote.Amount, true, core.OriginReplica); err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	e.logger.InfoContext(ctx, "Budget updated from replica", log.FieldAmount, remote.Amount.StringFixed(2))
	return nil
}
