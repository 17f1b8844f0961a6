// Package reconcile keeps monthly summaries and lifetime savings/deficit
// consistent with the raw transactions of a user.
//
// The engine only talks to the stores declared here. Every operation for a
// given user runs under that user's lock; months inside one operation are
// aggregated in parallel and folded once all of them are written.
package reconcile

import (
	"context"

	"saldo/internal/core"
)

// TransactionReader is the part of the ledger the engine needs.
type TransactionReader interface {
	ListMonthTransactions(ctx context.Context, userID string, month core.MonthKey) ([]core.Transaction, error)
	ListUncountedTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	// TransactionSpan returns the months of the earliest and latest
	// transaction. ok is false when the user has none.
	TransactionSpan(ctx context.Context, userID string) (first, last core.MonthKey, ok bool, err error)
	// MarkCounted flags the given transactions as counted, but only rows
	// whose month, amount and direction still equal the summed values. A row
	// edited after it was read stays uncounted for the next snapshot.
	MarkCounted(ctx context.Context, userID string, summed []core.Transaction) error
}

type BudgetStore interface {
	GetBudget(ctx context.Context, userID string, month core.MonthKey) (core.Budget, bool, error)
	UpsertBudget(ctx context.Context, b core.Budget) error
	ListBudgets(ctx context.Context, userID string, from, to core.MonthKey) ([]core.Budget, error)
}

type SummaryStore interface {
	UpsertSummary(ctx context.Context, s core.MonthlySummary) error
	// ListSummaries returns every summary of the user in ascending month order.
	ListSummaries(ctx context.Context, userID string) ([]core.MonthlySummary, error)
	ListSummariesBetween(ctx context.Context, userID string, from, to core.MonthKey) ([]core.MonthlySummary, error)
	// SetTotalBalance patches the budget snapshot of an existing summary and
	// reports whether a row was updated.
	SetTotalBalance(ctx context.Context, userID string, month core.MonthKey, amount core.Money) (bool, error)
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (core.UserAggregate, error)
	SetLifetime(ctx context.Context, userID string, savings, deficit core.Money) error
	SetDefaultBudget(ctx context.Context, userID string, amount core.Money) error
}

// Store is everything the engine reads and writes.
type Store interface {
	TransactionReader
	BudgetStore
	SummaryStore
	UserStore
}
