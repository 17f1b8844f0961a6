package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"saldo/internal/core"
	"saldo/internal/storage/memory"
)

var march2025 = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

// countingStore records writes so tests can assert how often each month
// was aggregated and how often the lifetime figures were folded.
type countingStore struct {
	*memory.Store

	mu             sync.Mutex
	summaryWrites  map[core.MonthKey]int
	budgetWrites   int
	lifetimeWrites int
	failSummaries  error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(), summaryWrites: make(map[core.MonthKey]int)}
}

func (c *countingStore) UpsertSummary(ctx context.Context, s core.MonthlySummary) error {
	c.mu.Lock()
	c.summaryWrites[s.Month]++
	fail := c.failSummaries
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	return c.Store.UpsertSummary(ctx, s)
}

func (c *countingStore) UpsertBudget(ctx context.Context, b core.Budget) error {
	c.mu.Lock()
	c.budgetWrites++
	c.mu.Unlock()
	return c.Store.UpsertBudget(ctx, b)
}

func (c *countingStore) SetLifetime(ctx context.Context, userID string, savings, deficit core.Money) error {
	c.mu.Lock()
	c.lifetimeWrites++
	c.mu.Unlock()
	return c.Store.SetLifetime(ctx, userID, savings, deficit)
}

func (c *countingStore) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaryWrites = make(map[core.MonthKey]int)
	c.budgetWrites = 0
	c.lifetimeWrites = 0
}

type fixture struct {
	store  *countingStore
	engine *Engine
	seq    int
}

func newFixture(t *testing.T, defaultBudget int64) *fixture {
	t.Helper()
	store := newCountingStore()
	if err := store.CreateUser(context.Background(), core.UserAggregate{UserID: "u1", Budget: core.Cents(defaultBudget)}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &fixture{
		store:  store,
		engine: NewEngine(store, WithClock(func() time.Time { return march2025 })),
	}
}

func (f *fixture) add(t *testing.T, date core.Date, dir core.Direction, cents int64) core.Transaction {
	t.Helper()
	f.seq++
	domain := core.DebitDomains[0]
	if dir == core.Credit {
		domain = core.CreditDomains[0]
	}
	tx := core.Transaction{
		ID:        fmt.Sprintf("tx-%03d", f.seq),
		UserID:    "u1",
		Date:      date,
		Domain:    domain,
		Title:     "entry",
		Amount:    core.Cents(cents),
		Direction: dir,
	}
	if err := f.store.CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func (f *fixture) user(t *testing.T) core.UserAggregate {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u
}

func (f *fixture) summary(t *testing.T, month core.MonthKey) core.MonthlySummary {
	t.Helper()
	s, ok := f.store.GetSummary(context.Background(), "u1", month)
	if !ok {
		t.Fatalf("no summary for %s", month)
	}
	return s
}

func TestSnapshotSingleMonthScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500000)
	f.add(t, core.NewDate(2025, 3, 2), core.Debit, 120000)
	f.add(t, core.NewDate(2025, 3, 9), core.Credit, 30000)

	res, err := f.engine.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(res.Months) != 1 || res.Months[0] != "2025-03" {
		t.Fatalf("months = %v", res.Months)
	}

	s := f.summary(t, "2025-03")
	if s.TotalBalance != core.Cents(500000) || s.TotalDebit != core.Cents(120000) || s.TotalCredit != core.Cents(30000) {
		t.Fatalf("summary = %+v", s)
	}
	u := f.user(t)
	if u.Savings != core.Cents(410000) || !u.Deficit.IsZero() {
		t.Fatalf("lifetime = (%v, %v), want (4100.00, 0.00)", u.Savings, u.Deficit)
	}

	pending, _ := f.store.ListUncountedTransactions(ctx, "u1")
	if len(pending) != 0 {
		t.Fatalf("expected every transaction counted, %d pending", len(pending))
	}
}

func TestDeficitThenSurplusScenario(t *testing.T) {
	f := newFixture(t, 0)
	f.engine.now = func() time.Time { return time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC) }
	f.add(t, core.NewDate(2025, 1, 10), core.Debit, 200000)
	f.add(t, core.NewDate(2025, 2, 10), core.Credit, 300000)

	res, err := f.engine.Rebuild(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.Balance.Savings != core.Cents(100000) || !res.Balance.Deficit.IsZero() {
		t.Fatalf("balance = %+v, want savings 1000.00", res.Balance)
	}
	if u := f.user(t); u.Savings != core.Cents(100000) || !u.Deficit.IsZero() {
		t.Fatalf("stored lifetime = (%v, %v)", u.Savings, u.Deficit)
	}
}

func TestAggregateMonthIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	f.add(t, core.NewDate(2025, 2, 1), core.Debit, 2550)
	f.add(t, core.NewDate(2025, 2, 28), core.Credit, 1000)

	first, err := f.engine.AggregateMonth(ctx, "u1", "2025-02")
	if err != nil {
		t.Fatalf("AggregateMonth: %v", err)
	}
	second, err := f.engine.AggregateMonth(ctx, "u1", "2025-02")
	if err != nil {
		t.Fatalf("AggregateMonth: %v", err)
	}
	if first != second {
		t.Fatalf("not idempotent: %+v vs %+v", first, second)
	}
	if got := f.summary(t, "2025-02"); got != first {
		t.Fatalf("stored %+v, returned %+v", got, first)
	}
}

func TestAggregateEmptyMonthWritesZeroSummary(t *testing.T) {
	f := newFixture(t, 75000)
	s, err := f.engine.AggregateMonth(context.Background(), "u1", "2024-06")
	if err != nil {
		t.Fatalf("AggregateMonth: %v", err)
	}
	want := core.MonthlySummary{UserID: "u1", Month: "2024-06", TotalBalance: core.Cents(75000)}
	if s != want {
		t.Fatalf("summary = %+v, want %+v", s, want)
	}
}

func TestBudgetResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	if err := f.store.UpsertBudget(ctx, core.Budget{UserID: "u1", Month: "2025-01", Amount: core.Cents(-5000)}); err != nil {
		t.Fatal(err)
	}

	jan, err := f.engine.AggregateMonth(ctx, "u1", "2025-01")
	if err != nil {
		t.Fatal(err)
	}
	if jan.TotalBalance != core.Cents(-5000) {
		t.Errorf("existing budget row ignored: %v", jan.TotalBalance)
	}

	feb, err := f.engine.AggregateMonth(ctx, "u1", "2025-02")
	if err != nil {
		t.Fatal(err)
	}
	if feb.TotalBalance != core.Cents(100000) {
		t.Errorf("default budget not applied: %v", feb.TotalBalance)
	}
	b, found, _ := f.store.GetBudget(ctx, "u1", "2025-02")
	if !found || b.Amount != core.Cents(100000) {
		t.Errorf("budget row not created from default: %+v found=%v", b, found)
	}
}

func TestSnapshotIsNoopWhenEverythingCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	f.add(t, core.NewDate(2025, 3, 1), core.Debit, 500)
	if _, err := f.engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	f.store.reset()

	res, err := f.engine.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Months) != 0 {
		t.Errorf("expected no months, got %v", res.Months)
	}
	if len(f.store.summaryWrites) != 0 || f.store.budgetWrites != 0 || f.store.lifetimeWrites != 0 {
		t.Errorf("no-op snapshot wrote: summaries=%v budgets=%d lifetime=%d",
			f.store.summaryWrites, f.store.budgetWrites, f.store.lifetimeWrites)
	}
	if res.Balance.Savings != core.Cents(99500) {
		t.Errorf("stored balance not reported: %+v", res.Balance)
	}
}

func TestSnapshotReaggregatesWholeMonth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.add(t, core.NewDate(2025, 1, 5), core.Debit, 1000)
	if _, err := f.engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	f.add(t, core.NewDate(2025, 1, 6), core.Debit, 500)
	if _, err := f.engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := f.summary(t, "2025-01").TotalDebit; got != core.Cents(1500) {
		t.Fatalf("TotalDebit = %v, want 15.00 (absolute, not incremental)", got)
	}
	if u := f.user(t); u.Deficit != core.Cents(1500) || !u.Savings.IsZero() {
		t.Fatalf("lifetime = (%v, %v)", u.Savings, u.Deficit)
	}
}

// editingStore applies one edit right after a month has been read, the way
// another process can commit between the read and the counted flag update.
type editingStore struct {
	*countingStore
	month core.MonthKey
	once  sync.Once
	edit  func(ctx context.Context)
}

func (s *editingStore) ListMonthTransactions(ctx context.Context, userID string, month core.MonthKey) ([]core.Transaction, error) {
	txs, err := s.countingStore.ListMonthTransactions(ctx, userID, month)
	if month == s.month {
		s.once.Do(func() { s.edit(ctx) })
	}
	return txs, err
}

func TestEditDuringAggregationStaysUncounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	tx := f.add(t, core.NewDate(2025, 3, 2), core.Debit, 1200)

	store := &editingStore{countingStore: f.store, month: "2025-03"}
	store.edit = func(ctx context.Context) {
		edited := tx
		edited.Amount = core.Cents(9999)
		edited.Counted = false
		if err := store.UpdateTransaction(ctx, edited); err != nil {
			t.Errorf("edit: %v", err)
		}
	}
	engine := NewEngine(store, WithClock(func() time.Time { return march2025 }))

	if _, err := engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := f.summary(t, "2025-03").TotalDebit; got != core.Cents(1200) {
		t.Fatalf("first snapshot TotalDebit = %v, want the value it read", got)
	}
	got, _ := store.GetTransaction(ctx, "u1", tx.ID)
	if got.Counted {
		t.Fatal("transaction edited during aggregation was marked counted")
	}

	res, err := engine.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Months) != 1 || res.Months[0] != "2025-03" {
		t.Fatalf("second snapshot months = %v", res.Months)
	}
	if got := f.summary(t, "2025-03").TotalDebit; got != core.Cents(9999) {
		t.Fatalf("TotalDebit = %v, want 99.99", got)
	}
	got, _ = store.GetTransaction(ctx, "u1", tx.ID)
	if !got.Counted {
		t.Fatal("edited transaction still uncounted after second snapshot")
	}
}

func TestRebuildLeavesConcurrentEditUncounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	tx := f.add(t, core.NewDate(2025, 2, 2), core.Debit, 1200)

	store := &editingStore{countingStore: f.store, month: "2025-02"}
	store.edit = func(ctx context.Context) {
		edited := tx
		edited.Direction = core.Credit
		edited.Domain = core.CreditDomains[0]
		if err := store.UpdateTransaction(ctx, edited); err != nil {
			t.Errorf("edit: %v", err)
		}
	}
	engine := NewEngine(store, WithClock(func() time.Time { return march2025 }))

	if _, err := engine.Rebuild(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	pending, _ := store.ListUncountedTransactions(ctx, "u1")
	if len(pending) != 1 || pending[0].ID != tx.ID {
		t.Fatalf("pending after rebuild = %+v", pending)
	}

	if _, err := engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if s := f.summary(t, "2025-02"); s.TotalCredit != core.Cents(1200) || !s.TotalDebit.IsZero() {
		t.Fatalf("feb = %+v", s)
	}
}

func TestRebuildMatchesIncrementalSnapshots(t *testing.T) {
	ctx := context.Background()
	history := []struct {
		date  core.Date
		dir   core.Direction
		cents int64
	}{
		{core.NewDate(2025, 1, 3), core.Debit, 180000},
		{core.NewDate(2025, 1, 20), core.Credit, 25000},
		{core.NewDate(2025, 2, 2), core.Debit, 40000},
		{core.NewDate(2025, 2, 14), core.Debit, 99999},
		{core.NewDate(2025, 3, 1), core.Credit, 310000},
		{core.NewDate(2025, 3, 10), core.Debit, 12345},
	}

	incremental := newFixture(t, 100000)
	for _, h := range history {
		incremental.add(t, h.date, h.dir, h.cents)
		if _, err := incremental.engine.Snapshot(ctx, "u1"); err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
	}

	rebuilt := newFixture(t, 100000)
	for _, h := range history {
		rebuilt.add(t, h.date, h.dir, h.cents)
	}
	if _, err := rebuilt.engine.Rebuild(ctx, "u1"); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	for _, m := range core.MonthRange("2025-01", "2025-03") {
		if a, b := incremental.summary(t, m), rebuilt.summary(t, m); a != b {
			t.Errorf("%s: incremental %+v, rebuild %+v", m, a, b)
		}
	}
	if a, b := incremental.user(t), rebuilt.user(t); a != b {
		t.Errorf("lifetime: incremental %+v, rebuild %+v", a, b)
	}
}

func TestEditChangesOnlyItsMonth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	f.add(t, core.NewDate(2025, 1, 10), core.Debit, 50000)
	edited := f.add(t, core.NewDate(2025, 2, 10), core.Debit, 20000)
	f.add(t, core.NewDate(2025, 3, 10), core.Credit, 10000)
	if _, err := f.engine.Rebuild(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	jan, mar := f.summary(t, "2025-01"), f.summary(t, "2025-03")
	f.store.reset()

	edited.Amount = core.Cents(70000)
	edited.Counted = false
	if err := f.store.UpdateTransaction(ctx, edited); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	if len(f.store.summaryWrites) != 1 || f.store.summaryWrites["2025-02"] != 1 {
		t.Fatalf("summary writes = %v, want only 2025-02", f.store.summaryWrites)
	}
	if got := f.summary(t, "2025-02").TotalDebit; got != core.Cents(70000) {
		t.Fatalf("feb debit = %v", got)
	}
	if f.summary(t, "2025-01") != jan || f.summary(t, "2025-03") != mar {
		t.Fatalf("untouched months changed")
	}
	// jan +500, feb +300, mar +1100
	if u := f.user(t); u.Savings != core.Cents(190000) || !u.Deficit.IsZero() {
		t.Fatalf("lifetime = (%v, %v)", u.Savings, u.Deficit)
	}
}

func TestBulkDeleteAcrossTwoMonths(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	a := f.add(t, core.NewDate(2025, 1, 1), core.Debit, 100)
	b := f.add(t, core.NewDate(2025, 1, 2), core.Debit, 200)
	c := f.add(t, core.NewDate(2025, 2, 1), core.Debit, 300)
	f.add(t, core.NewDate(2025, 2, 2), core.Debit, 400)
	if _, err := f.engine.Rebuild(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	f.store.reset()

	deleted, err := f.store.DeleteTransactions(ctx, "u1", []string{a.ID, b.ID, c.ID})
	if err != nil || len(deleted) != 3 {
		t.Fatalf("delete: %v (%d rows)", err, len(deleted))
	}
	months := make([]core.MonthKey, 0, len(deleted))
	for _, tx := range deleted {
		months = append(months, tx.Month())
	}
	res, err := f.engine.ResyncMonths(ctx, "u1", months...)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Months) != 2 {
		t.Errorf("resynced months = %v", res.Months)
	}
	if f.store.summaryWrites["2025-01"] != 1 || f.store.summaryWrites["2025-02"] != 1 || len(f.store.summaryWrites) != 2 {
		t.Errorf("summary writes = %v, want one per month", f.store.summaryWrites)
	}
	if f.store.lifetimeWrites != 1 {
		t.Errorf("lifetime writes = %d, want 1", f.store.lifetimeWrites)
	}
	if got := f.summary(t, "2025-01").TotalDebit; !got.IsZero() {
		t.Errorf("jan debit = %v, want 0", got)
	}
	if u := f.user(t); u.Deficit != core.Cents(400) {
		t.Errorf("deficit = %v, want 4.00", u.Deficit)
	}
}

func TestRebuildWithoutTransactionsResets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	if err := f.store.SetLifetime(ctx, "u1", core.Cents(12345), core.Money{}); err != nil {
		t.Fatal(err)
	}
	res, err := f.engine.Rebuild(ctx, "u1")
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(res.Months) != 0 || res.Balance != (Balance{}) {
		t.Fatalf("res = %+v", res)
	}
	if u := f.user(t); !u.Savings.IsZero() || !u.Deficit.IsZero() {
		t.Fatalf("lifetime not reset: %+v", u)
	}
}

func TestRebuildRunsThroughCurrentMonth(t *testing.T) {
	f := newFixture(t, 1000)
	f.add(t, core.NewDate(2024, 12, 1), core.Debit, 100)
	res, err := f.engine.Rebuild(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := core.MonthRange("2024-12", "2025-03")
	if len(res.Months) != len(want) {
		t.Fatalf("months = %v, want %v", res.Months, want)
	}
	// four budgets of 10.00 minus 1.00 spent
	if res.Balance.Savings != core.Cents(3900) {
		t.Fatalf("savings = %v", res.Balance.Savings)
	}
}

func TestRebuildIncludesFutureDatedTransactions(t *testing.T) {
	f := newFixture(t, 0)
	f.add(t, core.NewDate(2025, 5, 1), core.Credit, 100)
	res, err := f.engine.Rebuild(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if last := res.Months[len(res.Months)-1]; last != "2025-05" {
		t.Fatalf("last month = %s", last)
	}
	if res.Balance.Savings != core.Cents(100) {
		t.Fatalf("savings = %v", res.Balance.Savings)
	}
}

func TestUpdateMonthBudgetPatchesOnlyTheSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	f.add(t, core.NewDate(2025, 3, 3), core.Debit, 5000)
	if _, err := f.engine.Snapshot(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	before := f.user(t)

	if err := f.engine.UpdateMonthBudget(ctx, "u1", "2025-03", core.Cents(200000)); err != nil {
		t.Fatal(err)
	}
	s := f.summary(t, "2025-03")
	if s.TotalBalance != core.Cents(200000) || s.TotalDebit != core.Cents(5000) {
		t.Fatalf("summary = %+v", s)
	}
	if f.user(t) != before {
		t.Fatalf("lifetime figures must not change on a budget patch")
	}

	// A month without summary only gets the budget row.
	if err := f.engine.UpdateMonthBudget(ctx, "u1", "2025-07", core.Cents(1)); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.GetSummary(ctx, "u1", "2025-07"); ok {
		t.Fatalf("budget patch must not create a summary")
	}
	if err := f.engine.UpdateMonthBudget(ctx, "u1", "2025-13", core.Cents(1)); !errors.Is(err, core.ErrInvalidMonthKey) {
		t.Fatalf("expected ErrInvalidMonthKey, got %v", err)
	}
}

func TestUpdateDefaultBudgetAppliesToCurrentMonth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	if _, err := f.engine.AggregateMonth(ctx, "u1", "2025-03"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.UpdateDefaultBudget(ctx, "u1", core.Cents(250000)); err != nil {
		t.Fatal(err)
	}
	if u := f.user(t); u.Budget != core.Cents(250000) {
		t.Fatalf("default budget = %v", u.Budget)
	}
	b, found, _ := f.store.GetBudget(ctx, "u1", "2025-03")
	if !found || b.Amount != core.Cents(250000) {
		t.Fatalf("current month budget = %+v", b)
	}
	if s := f.summary(t, "2025-03"); s.TotalBalance != core.Cents(250000) {
		t.Fatalf("summary balance = %v", s.TotalBalance)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	f := newFixture(t, 0)
	f.add(t, core.NewDate(2025, 3, 1), core.Debit, 100)
	boom := errors.New("disk full")
	f.store.failSummaries = boom

	if _, err := f.engine.Snapshot(context.Background(), "u1"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if f.store.lifetimeWrites != 0 {
		t.Fatalf("fold must not run after a failed month")
	}
	pending, _ := f.store.ListUncountedTransactions(context.Background(), "u1")
	if len(pending) != 1 {
		t.Fatalf("transaction must stay uncounted, pending=%d", len(pending))
	}
}

func TestUnknownUserFails(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.engine.AggregateMonth(context.Background(), "ghost", "2025-01"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentOperationsOnSameUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100000)
	for d := 1; d <= 20; d++ {
		f.add(t, core.NewDate(2025, 1+d%3, d), core.Debit, int64(d*100))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _, err := f.engine.Snapshot(ctx, "u1"); errs <- err }()
		go func() { defer wg.Done(); _, err := f.engine.Rebuild(ctx, "u1"); errs <- err }()
		go func() { defer wg.Done(); _, err := f.engine.ResyncMonth(ctx, "u1", "2025-02"); errs <- err }()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}

	check := newFixture(t, 100000)
	for d := 1; d <= 20; d++ {
		check.add(t, core.NewDate(2025, 1+d%3, d), core.Debit, int64(d*100))
	}
	if _, err := check.engine.Rebuild(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if f.user(t) != check.user(t) {
		t.Fatalf("concurrent result %+v differs from serial %+v", f.user(t), check.user(t))
	}
	if f.engine.locks.size() != 0 {
		t.Fatalf("locks leaked: %d", f.engine.locks.size())
	}
}
