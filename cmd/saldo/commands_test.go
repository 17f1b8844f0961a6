package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/reconcile"
	"saldo/internal/services"
	"saldo/internal/storage/memory"
)

var march2025 = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

type publisherFunc func(ctx context.Context, msg *amqp.ReconcileMessage) error

func (f publisherFunc) Publish(ctx context.Context, msg *amqp.ReconcileMessage) error {
	return f(ctx, msg)
}

func newTestApp(t *testing.T) (*app, *memory.Store, *bytes.Buffer) {
	t.Helper()
	store := memory.New()
	engine := reconcile.NewEngine(store, reconcile.WithClock(func() time.Time { return march2025 }))
	reports := services.NewReportService(engine, time.Minute)

	n := 0
	ledger := services.NewLedgerService(store, engine,
		services.WithReports(reports),
		services.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("tx%d", n)
		}))

	out := &bytes.Buffer{}
	a := newApp(ledger, reports, engine, out)
	mustRun(t, a, "register", "-user", "u1", "-budget", "1000")
	out.Reset()
	return a, store, out
}

func mustRun(t *testing.T, a *app, args ...string) {
	t.Helper()
	if err := a.run(context.Background(), args); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
}

func TestAddAndOverview(t *testing.T) {
	a, store, out := newTestApp(t)

	mustRun(t, a, "add", "-user", "u1", "-date", "2025-03-05", "-domain", core.DebitDomains[1],
		"-title", "groceries", "-amount", "250")
	if !strings.Contains(out.String(), "created tx1") {
		t.Fatalf("output = %q", out.String())
	}

	tx, err := store.GetTransaction(context.Background(), "u1", "tx1")
	if err != nil {
		t.Fatal(err)
	}
	if !tx.Counted {
		t.Fatal("transaction not reconciled after add")
	}

	out.Reset()
	mustRun(t, a, "summary", "-user", "u1")
	if !strings.Contains(out.String(), "750.00") {
		t.Fatalf("overview = %q", out.String())
	}
}

func TestUpdateMovesMonth(t *testing.T) {
	a, store, _ := newTestApp(t)
	ctx := context.Background()

	mustRun(t, a, "add", "-user", "u1", "-date", "2025-02-10", "-domain", core.DebitDomains[0],
		"-title", "rent", "-amount", "400")
	mustRun(t, a, "update", "-user", "u1", "-id", "tx1", "-date", "2025-03-01")

	feb, ok := store.GetSummary(ctx, "u1", "2025-02")
	if !ok || !feb.TotalDebit.IsZero() {
		t.Fatalf("feb = %+v, %v", feb, ok)
	}
	mar, ok := store.GetSummary(ctx, "u1", "2025-03")
	if !ok || mar.TotalDebit != core.Cents(40000) {
		t.Fatalf("mar = %+v, %v", mar, ok)
	}

	tx, _ := store.GetTransaction(ctx, "u1", "tx1")
	if tx.Title != "rent" || tx.Amount != core.Cents(40000) {
		t.Fatalf("unset flags changed the transaction: %+v", tx)
	}
}

func TestDeleteAndList(t *testing.T) {
	a, _, out := newTestApp(t)

	for _, day := range []string{"2025-03-01", "2025-03-02", "2025-03-03"} {
		mustRun(t, a, "add", "-user", "u1", "-date", day, "-domain", core.DebitDomains[2],
			"-title", "bus "+day, "-amount", "2.5")
	}
	out.Reset()
	mustRun(t, a, "delete", "-user", "u1", "-id", "tx1, tx2")
	if !strings.Contains(out.String(), "deleted 2 transactions") {
		t.Fatalf("output = %q", out.String())
	}

	out.Reset()
	mustRun(t, a, "list", "-user", "u1", "-from", "2025-03", "-to", "2025-03")
	if !strings.Contains(out.String(), "tx3") || strings.Contains(out.String(), "tx1") {
		t.Fatalf("list = %q", out.String())
	}

	if err := a.run(context.Background(), []string{"delete", "-user", "u1", "-id", "tx1"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("deleting a missing transaction: %v", err)
	}
}

func TestBudgetsAndRecalculate(t *testing.T) {
	a, store, out := newTestApp(t)
	ctx := context.Background()

	mustRun(t, a, "add", "-user", "u1", "-date", "2025-02-10", "-domain", core.DebitDomains[0],
		"-title", "rent", "-amount", "1500")
	mustRun(t, a, "budget", "-user", "u1", "-month", "2025-02", "-amount", "1200")
	mustRun(t, a, "default-budget", "-user", "u1", "-amount", "800")

	out.Reset()
	mustRun(t, a, "recalculate", "-user", "u1")
	// feb 1200-1500 = -300, mar +800
	if !strings.Contains(out.String(), "savings 500.00, deficit 0.00") {
		t.Fatalf("recalculate = %q", out.String())
	}
	u, _ := store.GetUser(ctx, "u1")
	if u.Budget != core.Cents(80000) {
		t.Fatalf("default budget = %v", u.Budget)
	}
}

func TestReconcileCommands(t *testing.T) {
	a, _, out := newTestApp(t)
	ctx := context.Background()

	mustRun(t, a, "snapshot", "-user", "u1")
	if !strings.Contains(out.String(), "nothing to reconcile") {
		t.Fatalf("snapshot = %q", out.String())
	}

	out.Reset()
	mustRun(t, a, "resync", "-user", "u1", "-months", "2025-01,2025-02")
	if !strings.Contains(out.String(), "reconciled 2025-01,2025-02") {
		t.Fatalf("resync = %q", out.String())
	}

	if err := a.run(ctx, []string{"resync", "-user", "u1", "-months", "2025-13"}); !errors.Is(err, core.ErrInvalidMonthKey) {
		t.Fatalf("bad month: %v", err)
	}
	if err := a.run(ctx, []string{"snapshot", "-user", "u1", "-async"}); err == nil {
		t.Fatal("async without publisher succeeded")
	}

	var got *amqp.ReconcileMessage
	a.publisher = publisherFunc(func(_ context.Context, msg *amqp.ReconcileMessage) error {
		got = msg
		return nil
	})
	mustRun(t, a, "resync", "-user", "u1", "-months", "2025-02", "-async")
	if got == nil || got.Action != amqp.ActionResync || len(got.Months) != 1 {
		t.Fatalf("published = %+v", got)
	}
}

func TestCommandErrors(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"no command", nil, errUsage},
		{"missing user", []string{"add", "-amount", "1"}, core.ErrEmptyUser},
		{"bad direction", []string{"domains", "-direction", "sideways"}, core.ErrInvalidDirection},
		{"bad amount", []string{"add", "-user", "u1", "-amount", "-3", "-title", "x"}, core.ErrInvalidAmount},
		{"bad domain", []string{"add", "-user", "u1", "-amount", "3", "-title", "x", "-domain", "Nope"}, core.ErrInvalidDomain},
		{"bad trend month", []string{"trend", "-user", "u1", "-month", "march"}, core.ErrInvalidMonthKey},
		{"duplicate user", []string{"register", "-user", "u1"}, core.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.run(ctx, tt.args); !errors.Is(err, tt.want) {
				t.Fatalf("run(%v) = %v, want %v", tt.args, err, tt.want)
			}
		})
	}

	if err := a.run(ctx, []string{"frobnicate"}); err == nil {
		t.Fatal("unknown command accepted")
	}
}

func TestShell(t *testing.T) {
	a, store, out := newTestApp(t)

	input := strings.Join([]string{
		`add -user u1 -date 2025-03-02 -domain "Food & Groceries" -title "weekly shop" -amount 42,10`,
		`bogus`,
		`year -user u1 -year 2025`,
		`quit`,
		`add -user u1 -amount 1 -title never`,
	}, "\n")
	if err := a.shell(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatal(err)
	}

	txs, _ := store.ListTransactions(context.Background(), "u1", core.TransactionFilter{})
	if len(txs) != 1 || txs[0].Title != "weekly shop" || txs[0].Amount != core.Cents(4210) {
		t.Fatalf("transactions = %+v", txs)
	}
	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Fatalf("shell output = %q", out.String())
	}
	if !strings.Contains(out.String(), "2025-12") {
		t.Fatalf("year output missing: %q", out.String())
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line    string
		want    []string
		wantErr bool
	}{
		{"", nil, false},
		{"  list   -user u1 ", []string{"list", "-user", "u1"}, false},
		{`add -title "two words"`, []string{"add", "-title", "two words"}, false},
		{`add -desc ""`, []string{"add", "-desc", ""}, false},
		{`add -title "open`, nil, true},
	}
	for _, tt := range tests {
		got, err := splitArgs(tt.line)
		if (err != nil) != tt.wantErr {
			t.Fatalf("splitArgs(%q) error = %v", tt.line, err)
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Fatalf("splitArgs(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
