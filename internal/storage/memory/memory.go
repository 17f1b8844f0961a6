// Package memory keeps every store in process memory. It backs the
// "memory" data backend and the engine tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"saldo/internal/core"
)

type monthRef struct {
	user  string
	month core.MonthKey
}

type Store struct {
	mu        sync.RWMutex
	users     map[string]core.UserAggregate
	txs       map[string]core.Transaction
	budgets   map[monthRef]core.Budget
	summaries map[monthRef]core.MonthlySummary
}

func New() *Store {
	return &Store{
		users:     make(map[string]core.UserAggregate),
		txs:       make(map[string]core.Transaction),
		budgets:   make(map[monthRef]core.Budget),
		summaries: make(map[monthRef]core.MonthlySummary),
	}
}

func (s *Store) Close() error { return nil }

// Users

func (s *Store) CreateUser(_ context.Context, u core.UserAggregate) error {
	if u.UserID == "" {
		return core.ErrEmptyUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.UserID]; ok {
		return fmt.Errorf("user %s: %w", u.UserID, core.ErrAlreadyExists)
	}
	s.users[u.UserID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (core.UserAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return core.UserAggregate{}, fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return u, nil
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) SetLifetime(_ context.Context, userID string, savings, deficit core.Money) error {
	return s.updateUser(userID, func(u *core.UserAggregate) {
		u.Savings = savings
		u.Deficit = deficit
	})
}

func (s *Store) SetDefaultBudget(_ context.Context, userID string, amount core.Money) error {
	return s.updateUser(userID, func(u *core.UserAggregate) { u.Budget = amount })
}

func (s *Store) updateUser(userID string, fn func(*core.UserAggregate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	fn(&u)
	s.users[userID] = u
	return nil
}

// Transactions

func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tx.UserID]; !ok {
		return fmt.Errorf("user %s: %w", tx.UserID, core.ErrNotFound)
	}
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrAlreadyExists)
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.txs[tx.ID]
	if !ok || old.UserID != tx.UserID {
		return fmt.Errorf("transaction %s: %w", tx.ID, core.ErrNotFound)
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *Store) DeleteTransactions(_ context.Context, userID string, ids []string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []core.Transaction
	for _, id := range ids {
		tx, ok := s.txs[id]
		if !ok || tx.UserID != userID {
			continue
		}
		delete(s.txs, id)
		deleted = append(deleted, tx)
	}
	return deleted, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error) {
	out := s.collect(func(tx core.Transaction) bool {
		return tx.UserID == userID && f.Matches(tx)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date.Time) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListMonthTransactions(_ context.Context, userID string, month core.MonthKey) ([]core.Transaction, error) {
	return s.collect(func(tx core.Transaction) bool {
		return tx.UserID == userID && tx.Month() == month
	}), nil
}

func (s *Store) ListUncountedTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	return s.collect(func(tx core.Transaction) bool {
		return tx.UserID == userID && !tx.Counted
	}), nil
}

func (s *Store) TransactionSpan(_ context.Context, userID string) (core.MonthKey, core.MonthKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first, last core.MonthKey
	found := false
	for _, tx := range s.txs {
		if tx.UserID != userID {
			continue
		}
		m := tx.Month()
		if !found || m < first {
			first = m
		}
		if !found || m > last {
			last = m
		}
		found = true
	}
	return first, last, found, nil
}

func (s *Store) MarkCounted(_ context.Context, userID string, summed []core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, want := range summed {
		tx, ok := s.txs[want.ID]
		if !ok || tx.UserID != userID {
			continue
		}
		if tx.Month() != want.Month() || tx.Amount != want.Amount || tx.Direction != want.Direction {
			continue
		}
		tx.Counted = true
		s.txs[want.ID] = tx
	}
	return nil
}

// collect returns matching transactions in date order.
func (s *Store) collect(keep func(core.Transaction) bool) []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date.Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date.Time)
	})
	return out
}

// Budgets

func (s *Store) GetBudget(_ context.Context, userID string, month core.MonthKey) (core.Budget, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[monthRef{userID, month}]
	return b, ok, nil
}

func (s *Store) UpsertBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[monthRef{b.UserID, b.Month}] = b
	return nil
}

func (s *Store) ListBudgets(_ context.Context, userID string, from, to core.MonthKey) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Budget
	for ref, b := range s.budgets {
		if ref.user == userID && ref.month >= from && ref.month <= to {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// Summaries

func (s *Store) UpsertSummary(_ context.Context, sum core.MonthlySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[monthRef{sum.UserID, sum.Month}] = sum
	return nil
}

func (s *Store) ListSummaries(ctx context.Context, userID string) ([]core.MonthlySummary, error) {
	return s.summariesWhere(userID, func(core.MonthKey) bool { return true }), nil
}

func (s *Store) ListSummariesBetween(_ context.Context, userID string, from, to core.MonthKey) ([]core.MonthlySummary, error) {
	return s.summariesWhere(userID, func(m core.MonthKey) bool { return m >= from && m <= to }), nil
}

func (s *Store) SetTotalBalance(_ context.Context, userID string, month core.MonthKey, amount core.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := monthRef{userID, month}
	sum, ok := s.summaries[ref]
	if !ok {
		return false, nil
	}
	sum.TotalBalance = amount
	s.summaries[ref] = sum
	return true, nil
}

// GetSummary is a lookup helper used by tests and the CLI.
func (s *Store) GetSummary(_ context.Context, userID string, month core.MonthKey) (core.MonthlySummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[monthRef{userID, month}]
	return sum, ok
}

func (s *Store) summariesWhere(userID string, keep func(core.MonthKey) bool) []core.MonthlySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.MonthlySummary
	for ref, sum := range s.summaries {
		if ref.user == userID && keep(ref.month) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}
