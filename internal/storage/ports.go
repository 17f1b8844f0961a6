package storage

import (
	"context"

	"saldo/internal/core"
	"saldo/internal/reconcile"
)

// Ledger covers transaction CRUD and listing. Missing rows are reported
// with core.ErrNotFound.
type Ledger interface {
	CreateTransaction(ctx context.Context, tx core.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	// DeleteTransactions removes the given transactions of the user and
	// returns the rows that existed.
	DeleteTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error)
	// ListTransactions returns matches newest first.
	ListTransactions(ctx context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error)
}

type Users interface {
	CreateUser(ctx context.Context, u core.UserAggregate) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Store is a complete backend: everything the reconciliation engine needs
// plus the ledger and user management around it.
type Store interface {
	reconcile.Store
	Ledger
	Users
	Close() error
}
