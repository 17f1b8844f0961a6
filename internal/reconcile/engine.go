package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/core"
	"saldo/internal/log"
)

const DefaultMonthConcurrency = 4

// Result describes the outcome of a reconciliation run.
type Result struct {
	UserID  string
	Months  []core.MonthKey // months re-aggregated, ascending
	Balance Balance         // lifetime figures after the run
}

// Engine runs reconciliation operations against a Store.
type Engine struct {
	store            Store
	now              func() time.Time
	monthConcurrency int
	locks            *userLocks
	logger           *log.Logger
	structured       *log.StructuredLogger
}

type Option func(*Engine)

// WithClock replaces time.Now, used to find the current month.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMonthConcurrency bounds how many months one operation aggregates at
// the same time.
func WithMonthConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.monthConcurrency = n
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:            store,
		now:              time.Now,
		monthConcurrency: DefaultMonthConcurrency,
		locks:            newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.ForComponent(log.ComponentReconcile)
	}
	e.structured = log.NewStructuredLogger(e.logger)
	return e
}

// CurrentMonth returns the month the engine's clock is in.
func (e *Engine) CurrentMonth() core.MonthKey {
	return core.MonthKeyOf(e.now())
}

// AggregateMonth recomputes one month's summary from its transactions
// without touching the lifetime figures.
func (e *Engine) AggregateMonth(ctx context.Context, userID string, month core.MonthKey) (core.MonthlySummary, error) {
	if err := month.Validate(); err != nil {
		return core.MonthlySummary{}, err
	}
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return core.MonthlySummary{}, err
	}
	defer unlock()
	return e.aggregateMonth(ctx, userID, month)
}

// ResyncLifetime refolds every stored summary into savings/deficit.
func (e *Engine) ResyncLifetime(ctx context.Context, userID string) (Balance, error) {
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	defer unlock()
	return e.foldLifetime(ctx, userID)
}

// Snapshot re-aggregates every month holding an uncounted transaction and
// then refolds the lifetime figures. It writes nothing when every
// transaction is already counted.
func (e *Engine) Snapshot(ctx context.Context, userID string) (Result, error) {
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	pending, err := e.store.ListUncountedTransactions(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list uncounted transactions: %w", err)
	}
	if len(pending) == 0 {
		user, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("get user: %w", err)
		}
		return Result{UserID: userID, Balance: Balance{Savings: user.Savings, Deficit: user.Deficit}}, nil
	}

	months := make([]core.MonthKey, 0, len(pending))
	for _, tx := range pending {
		months = append(months, tx.Month())
	}
	return e.resync(ctx, log.OpSnapshot, userID, months)
}

// ResyncMonth is ResyncMonths for a single month.
func (e *Engine) ResyncMonth(ctx context.Context, userID string, month core.MonthKey) (Result, error) {
	return e.ResyncMonths(ctx, userID, month)
}

// ResyncMonths re-aggregates the given months regardless of counted flags,
// each distinct month once, and then refolds the lifetime figures once.
func (e *Engine) ResyncMonths(ctx context.Context, userID string, months ...core.MonthKey) (Result, error) {
	for _, m := range months {
		if err := m.Validate(); err != nil {
			return Result{}, err
		}
	}
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	return e.resync(ctx, log.OpResync, userID, months)
}

// Rebuild recomputes every month from the user's first transaction through
// the current month (or the latest transaction, if later) and refolds. Each
// month marks only the rows it summed. A user without transactions is reset
// to zero.
func (e *Engine) Rebuild(ctx context.Context, userID string) (Result, error) {
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	first, last, ok, err := e.store.TransactionSpan(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("find transaction span: %w", err)
	}
	if !ok {
		if err := e.store.SetLifetime(ctx, userID, core.Money{}, core.Money{}); err != nil {
			return Result{}, fmt.Errorf("reset lifetime: %w", err)
		}
		e.logger.InfoContext(ctx, "No transactions, lifetime reset", log.FieldUserID, userID)
		return Result{UserID: userID}, nil
	}

	through := e.CurrentMonth()
	if through < last {
		through = last
	}
	return e.resync(ctx, log.OpRebuild, userID, core.MonthRange(first, through))
}

// UpdateMonthBudget stores the budget of one month and patches the budget
// snapshot of that month's summary if it exists. Totals are left alone.
func (e *Engine) UpdateMonthBudget(ctx context.Context, userID string, month core.MonthKey, amount core.Money) error {
	b := core.Budget{UserID: userID, Month: month, Amount: amount}
	if err := b.Validate(); err != nil {
		return err
	}
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return e.patchMonthBudget(ctx, b)
}

// UpdateDefaultBudget changes the user's default budget and applies it to
// the current month as UpdateMonthBudget would.
func (e *Engine) UpdateDefaultBudget(ctx context.Context, userID string, amount core.Money) error {
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.store.SetDefaultBudget(ctx, userID, amount); err != nil {
		return fmt.Errorf("set default budget: %w", err)
	}
	return e.patchMonthBudget(ctx, core.Budget{UserID: userID, Month: e.CurrentMonth(), Amount: amount})
}

func (e *Engine) patchMonthBudget(ctx context.Context, b core.Budget) error {
	if err := e.store.UpsertBudget(ctx, b); err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	patched, err := e.store.SetTotalBalance(ctx, b.UserID, b.Month, b.Amount)
	if err != nil {
		return fmt.Errorf("patch summary budget: %w", err)
	}
	e.logger.InfoContext(ctx, "Month budget updated",
		log.FieldUserID, b.UserID,
		log.FieldMonth, string(b.Month),
		log.FieldAmountCents, b.Amount.Cents,
		"summary_patched", patched)
	return nil
}

// resync aggregates the distinct months in parallel and folds once they are
// all written. Callers hold the user lock.
func (e *Engine) resync(ctx context.Context, op, userID string, months []core.MonthKey) (Result, error) {
	start := time.Now()
	months = distinctMonths(months)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.monthConcurrency)
	for _, m := range months {
		g.Go(func() error {
			_, err := e.aggregateMonth(gctx, userID, m)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.structured.LogError(ctx, "Reconciliation failed", err, log.ComponentReconcile, op,
			log.NewFields().WithUser(userID).WithMonths(monthStrings(months)))
		return Result{}, err
	}

	balance, err := e.foldLifetime(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	e.structured.LogReconciled(ctx, op, userID, monthStrings(months), balance.Savings.Cents, balance.Deficit.Cents)
	e.logger.DebugContext(ctx, "Reconciliation timing",
		log.FieldUserID, userID,
		log.FieldDuration, time.Since(start).Milliseconds())

	return Result{UserID: userID, Months: months, Balance: balance}, nil
}

func (e *Engine) aggregateMonth(ctx context.Context, userID string, month core.MonthKey) (core.MonthlySummary, error) {
	txs, err := e.store.ListMonthTransactions(ctx, userID, month)
	if err != nil {
		return core.MonthlySummary{}, fmt.Errorf("list transactions for %s: %w", month, err)
	}

	debit, credit := totals(txs)

	budget, err := e.resolveBudget(ctx, userID, month)
	if err != nil {
		return core.MonthlySummary{}, err
	}

	summary := core.MonthlySummary{
		UserID:       userID,
		Month:        month,
		TotalBalance: budget,
		TotalDebit:   debit,
		TotalCredit:  credit,
	}
	if err := e.store.UpsertSummary(ctx, summary); err != nil {
		return core.MonthlySummary{}, fmt.Errorf("upsert summary for %s: %w", month, err)
	}

	// Only the transactions summed above, and only as they were summed.
	// Rows added or edited meanwhile stay uncounted for the next run.
	if len(txs) > 0 {
		if err := e.store.MarkCounted(ctx, userID, txs); err != nil {
			return core.MonthlySummary{}, fmt.Errorf("mark counted for %s: %w", month, err)
		}
	}

	e.logger.DebugContext(ctx, "Month aggregated",
		log.FieldUserID, userID,
		log.FieldMonth, string(month),
		log.FieldCount, len(txs),
		"debit_cents", debit.Cents,
		"credit_cents", credit.Cents)
	return summary, nil
}

// resolveBudget returns the month's budget, creating it from the user's
// default when missing.
func (e *Engine) resolveBudget(ctx context.Context, userID string, month core.MonthKey) (core.Money, error) {
	b, found, err := e.store.GetBudget(ctx, userID, month)
	if err != nil {
		return core.Money{}, fmt.Errorf("get budget for %s: %w", month, err)
	}
	if found {
		return b.Amount, nil
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return core.Money{}, fmt.Errorf("get user: %w", err)
	}
	b = core.Budget{UserID: userID, Month: month, Amount: user.Budget}
	if err := e.store.UpsertBudget(ctx, b); err != nil {
		return core.Money{}, fmt.Errorf("create budget for %s: %w", month, err)
	}
	return b.Amount, nil
}

func (e *Engine) foldLifetime(ctx context.Context, userID string) (Balance, error) {
	summaries, err := e.store.ListSummaries(ctx, userID)
	if err != nil {
		return Balance{}, fmt.Errorf("list summaries: %w", err)
	}
	sort.SliceStable(summaries, func(i, j int) bool { return summaries[i].Month < summaries[j].Month })

	balance := Fold(summaries)
	if err := e.store.SetLifetime(ctx, userID, balance.Savings, balance.Deficit); err != nil {
		return Balance{}, fmt.Errorf("store lifetime: %w", err)
	}
	return balance, nil
}

func distinctMonths(months []core.MonthKey) []core.MonthKey {
	seen := make(map[core.MonthKey]struct{}, len(months))
	out := make([]core.MonthKey, 0, len(months))
	for _, m := range months {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func monthStrings(months []core.MonthKey) []string {
	out := make([]string, len(months))
	for i, m := range months {
		out[i] = string(m)
	}
	return out
}
