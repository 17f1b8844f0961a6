package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/log"
	"saldo/internal/reconcile"
	"saldo/internal/storage"
)

// Publisher hands reconcile requests to a worker.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.ReconcileMessage) error
}

// Invalidator drops cached read models of a user.
type Invalidator interface {
	Invalidate(userID string)
}

// TransactionInput carries the fields of a new transaction.
type TransactionInput struct {
	UserID      string
	Date        core.Date
	Domain      string
	Title       string
	Description string
	Amount      core.Money
	Direction   core.Direction
}

// TransactionPatch lists the fields to change; nil leaves a field as is.
type TransactionPatch struct {
	Date        *core.Date
	Domain      *string
	Title       *string
	Description *string
	Amount      *core.Money
	Direction   *core.Direction
}

// LedgerService owns transaction and budget mutations and keeps the stored
// balances in step with them.
type LedgerService struct {
	store     storage.Store
	engine    *reconcile.Engine
	publisher Publisher
	reports   Invalidator
	newID     func() string
	logger    *log.Logger
}

type LedgerOption func(*LedgerService)

// WithPublisher sends mutation-triggered reconciliation through a broker
// instead of running it in-process.
func WithPublisher(p Publisher) LedgerOption {
	return func(s *LedgerService) { s.publisher = p }
}

func WithReports(r Invalidator) LedgerOption {
	return func(s *LedgerService) { s.reports = r }
}

func WithIDGenerator(f func() string) LedgerOption {
	return func(s *LedgerService) { s.newID = f }
}

func NewLedgerService(store storage.Store, engine *reconcile.Engine, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		store:  store,
		engine: engine,
		newID:  uuid.NewString,
		logger: log.ForComponent(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnAuthenticated brings the user's balances up to date after a login.
func (s *LedgerService) OnAuthenticated(ctx context.Context, userID string) (reconcile.Result, error) {
	if strings.TrimSpace(userID) == "" {
		return reconcile.Result{}, core.ErrEmptyUser
	}
	res, err := s.engine.Snapshot(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("snapshot on login: %w", err)
	}
	s.invalidate(userID)
	return res, nil
}

// RegisterUser creates the aggregate with its default budget.
func (s *LedgerService) RegisterUser(ctx context.Context, userID string, defaultBudget core.Money) error {
	if strings.TrimSpace(userID) == "" {
		return core.ErrEmptyUser
	}
	if err := s.store.CreateUser(ctx, core.UserAggregate{UserID: userID, Budget: defaultBudget}); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "User registered",
		log.FieldUserID, userID,
		log.FieldAmountCents, defaultBudget.Cents)

	s.reconcileAfterMutation(ctx, userID, amqp.ActionSnapshot, nil)
	return nil
}

// CreateTransaction stores a new uncounted transaction.
func (s *LedgerService) CreateTransaction(ctx context.Context, in TransactionInput) (core.Transaction, error) {
	tx := core.Transaction{
		ID:          s.newID(),
		UserID:      in.UserID,
		Date:        in.Date,
		Domain:      strings.TrimSpace(in.Domain),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Direction:   in.Direction,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction created",
		log.FieldUserID, tx.UserID,
		log.FieldTransaction, tx.ID,
		log.FieldMonth, string(tx.Month()),
		log.FieldDirection, string(tx.Direction),
		log.FieldAmountCents, tx.Amount.Cents)

	s.reconcileAfterMutation(ctx, tx.UserID, amqp.ActionSnapshot, nil)
	return tx, nil
}

// UpdateTransaction applies patch. Changing date, amount or direction puts
// the transaction back in the uncounted set; moving it to another month
// also re-aggregates the month it left.
func (s *LedgerService) UpdateTransaction(ctx context.Context, userID, id string, patch TransactionPatch) (core.Transaction, error) {
	old, err := s.store.GetTransaction(ctx, userID, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}

	tx := old
	if patch.Date != nil {
		tx.Date = *patch.Date
	}
	if patch.Domain != nil {
		tx.Domain = strings.TrimSpace(*patch.Domain)
	}
	if patch.Title != nil {
		tx.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		tx.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Amount != nil {
		tx.Amount = *patch.Amount
	}
	if patch.Direction != nil {
		tx.Direction = *patch.Direction
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if !tx.Date.Equal(old.Date.Time) || tx.Amount != old.Amount || tx.Direction != old.Direction {
		tx.Counted = false
	}

	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction updated",
		log.FieldUserID, userID,
		log.FieldTransaction, id,
		log.FieldMonth, string(tx.Month()))

	if oldMonth := old.Month(); oldMonth != tx.Month() {
		s.reconcileAfterMutation(ctx, userID, amqp.ActionResync, []core.MonthKey{oldMonth, tx.Month()})
	} else {
		s.reconcileAfterMutation(ctx, userID, amqp.ActionSnapshot, nil)
	}
	return tx, nil
}

// DeleteTransaction removes one transaction and re-aggregates its month.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID, id string) error {
	n, err := s.BulkDelete(ctx, userID, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// BulkDelete removes the given transactions and re-aggregates every month
// they touched in a single resync. It returns how many rows existed.
func (s *LedgerService) BulkDelete(ctx context.Context, userID string, ids []string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, core.ErrEmptyUser
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.store.DeleteTransactions(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	if len(deleted) == 0 {
		return 0, nil
	}

	seen := make(map[core.MonthKey]struct{}, len(deleted))
	var months []core.MonthKey
	for _, tx := range deleted {
		m := tx.Month()
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })

	s.logger.InfoContext(ctx, "Transactions deleted",
		log.FieldUserID, userID,
		log.FieldCount, len(deleted),
		log.FieldMonths, monthStrings(months))

	s.reconcileAfterMutation(ctx, userID, amqp.ActionResync, months)
	return len(deleted), nil
}

// ListTransactions returns the user's transactions newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, core.ErrEmptyUser
	}
	if f.Direction != "" && !f.Direction.Valid() {
		return nil, core.ErrInvalidDirection
	}
	txs, err := s.store.ListTransactions(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// Recalculate rebuilds the user's whole history synchronously.
func (s *LedgerService) Recalculate(ctx context.Context, userID string) (reconcile.Balance, error) {
	if strings.TrimSpace(userID) == "" {
		return reconcile.Balance{}, core.ErrEmptyUser
	}
	res, err := s.engine.Rebuild(ctx, userID)
	if err != nil {
		return reconcile.Balance{}, fmt.Errorf("recalculate: %w", err)
	}
	s.invalidate(userID)
	return res.Balance, nil
}

func (s *LedgerService) UpdateMonthBudget(ctx context.Context, userID string, month core.MonthKey, amount core.Money) error {
	if err := s.engine.UpdateMonthBudget(ctx, userID, month, amount); err != nil {
		return fmt.Errorf("update month budget: %w", err)
	}
	s.invalidate(userID)
	return nil
}

func (s *LedgerService) UpdateDefaultBudget(ctx context.Context, userID string, amount core.Money) error {
	if strings.TrimSpace(userID) == "" {
		return core.ErrEmptyUser
	}
	if err := s.engine.UpdateDefaultBudget(ctx, userID, amount); err != nil {
		return fmt.Errorf("update default budget: %w", err)
	}
	s.invalidate(userID)
	return nil
}

// reconcileAfterMutation never fails the caller: errors are logged and a
// later snapshot or rebuild repairs the state.
func (s *LedgerService) reconcileAfterMutation(ctx context.Context, userID string, action amqp.Action, months []core.MonthKey) {
	defer s.invalidate(userID)

	msg := amqp.NewReconcileMessage(userID, action, monthStrings(months)...)

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, msg)
		if err == nil {
			return
		}
		s.logger.WarnContext(ctx, "Publishing reconcile request failed, running inline",
			log.FieldUserID, userID,
			log.FieldAction, string(action),
			log.FieldError, err.Error())
	}

	res, err := RunReconcile(ctx, s.engine, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Reconciliation after mutation failed",
			log.FieldUserID, userID,
			log.FieldAction, string(action),
			log.FieldMonths, msg.Months,
			log.FieldError, err.Error())
		return
	}
	s.logger.DebugContext(ctx, "Reconciled after mutation",
		log.FieldUserID, userID,
		log.FieldAction, string(action),
		log.FieldMonths, monthStrings(res.Months))
}

func (s *LedgerService) invalidate(userID string) {
	if s.reports != nil {
		s.reports.Invalidate(userID)
	}
}
