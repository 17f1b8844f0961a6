package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/reconcile"
	"saldo/internal/storage/memory"
)

var march2025 = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

// countingStore counts month aggregations and lifetime folds.
type countingStore struct {
	*memory.Store

	mu             sync.Mutex
	summaryWrites  map[core.MonthKey]int
	lifetimeWrites int
	failUser       string
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(), summaryWrites: make(map[core.MonthKey]int)}
}

func (c *countingStore) UpsertSummary(ctx context.Context, s core.MonthlySummary) error {
	c.mu.Lock()
	c.summaryWrites[s.Month]++
	fail := c.failUser != "" && s.UserID == c.failUser
	c.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return c.Store.UpsertSummary(ctx, s)
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
	c.lifetimeWrites = 0
}

func (c *countingStore) failFor(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failUser = userID
}

// recordingPublisher collects published messages; err makes Publish fail.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ReconcileMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *amqp.ReconcileMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) messages() []*amqp.ReconcileMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.ReconcileMessage(nil), p.msgs...)
}

type fixture struct {
	store   *countingStore
	engine  *reconcile.Engine
	reports *ReportService
	ledger  *LedgerService
}

func newFixture(t *testing.T, opts ...LedgerOption) *fixture {
	t.Helper()
	store := newCountingStore()
	engine := reconcile.NewEngine(store, reconcile.WithClock(func() time.Time { return march2025 }))
	reports := NewReportService(engine, time.Minute)

	seq := 0
	base := []LedgerOption{
		WithReports(reports),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("tx-%03d", seq)
		}),
	}
	ledger := NewLedgerService(store, engine, append(base, opts...)...)

	if err := ledger.RegisterUser(context.Background(), "u1", core.Cents(500000)); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{store: store, engine: engine, reports: reports, ledger: ledger}
}

func (f *fixture) create(t *testing.T, date core.Date, dir core.Direction, cents int64) core.Transaction {
	t.Helper()
	domain := core.DebitDomains[1]
	if dir == core.Credit {
		domain = core.CreditDomains[0]
	}
	tx, err := f.ledger.CreateTransaction(context.Background(), TransactionInput{
		UserID:    "u1",
		Date:      date,
		Domain:    domain,
		Title:     "entry",
		Amount:    core.Cents(cents),
		Direction: dir,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func (f *fixture) summary(t *testing.T, month core.MonthKey) core.MonthlySummary {
	t.Helper()
	s, ok := f.store.GetSummary(context.Background(), "u1", month)
	if !ok {
		t.Fatalf("no summary for %s", month)
	}
	return s
}

func (f *fixture) user(t *testing.T) core.UserAggregate {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	return u
}
