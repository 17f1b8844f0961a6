package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"saldo/internal/core"

	_ "modernc.org/sqlite"
)

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite limits bound parameters per statement.
const maxIDsPerStatement = 500

const transactionColumns = `id, user_id, occurred_at, month, domain, title, description, amount_cents, direction, counted`

type SQLiteRepository struct {
	db *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite repository ready", "db_path", dbPath)
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Users

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.UserAggregate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, budget_cents, savings_cents, deficit_cents) VALUES (?, ?, ?, ?)`,
		u.UserID, u.Budget.Cents, u.Savings.Cents, u.Deficit.Cents)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UserID, translateError(err))
	}
	slog.InfoContext(ctx, "User created", "user_id", u.UserID, "budget_cents", u.Budget.Cents)
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, userID string) (core.UserAggregate, error) {
	u := core.UserAggregate{UserID: userID}
	err := r.db.QueryRowContext(ctx,
		`SELECT budget_cents, savings_cents, deficit_cents FROM users WHERE id = ?`, userID).
		Scan(&u.Budget.Cents, &u.Savings.Cents, &u.Deficit.Cents)
	if err != nil {
		return core.UserAggregate{}, fmt.Errorf("get user %s: %w", userID, translateError(err))
	}
	return u, nil
}

func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) SetLifetime(ctx context.Context, userID string, savings, deficit core.Money) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET savings_cents = ?, deficit_cents = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		savings.Cents, deficit.Cents, userID)
	if err != nil {
		return fmt.Errorf("set lifetime for %s: %w", userID, err)
	}
	return requireRow(res, "user "+userID)
}

func (r *SQLiteRepository) SetDefaultBudget(ctx context.Context, userID string, amount core.Money) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET budget_cents = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount.Cents, userID)
	if err != nil {
		return fmt.Errorf("set default budget for %s: %w", userID, err)
	}
	return requireRow(res, "user "+userID)
}

// Transactions

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, formatTime(tx.Date.Time), string(tx.Month()), tx.Domain, tx.Title,
		tx.Description, tx.Amount.Cents, string(tx.Direction), tx.Counted)
	if err != nil {
		return fmt.Errorf("create transaction: %w", translateError(err))
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"user_id", tx.UserID,
		"amount_cents", tx.Amount.Cents,
		"direction", tx.Direction,
		"month", tx.Month())
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, translateError(err))
	}
	return tx, nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions
		SET occurred_at = ?, month = ?, domain = ?, title = ?, description = ?,
			amount_cents = ?, direction = ?, counted = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ?`,
		formatTime(tx.Date.Time), string(tx.Month()), tx.Domain, tx.Title, tx.Description,
		tx.Amount.Cents, string(tx.Direction), tx.Counted, tx.ID, tx.UserID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	return requireRow(res, "transaction "+tx.ID)
}

func (r *SQLiteRepository) DeleteTransactions(ctx context.Context, userID string, ids []string) ([]core.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete: %w", err)
	}
	defer dbtx.Rollback()

	var deleted []core.Transaction
	for _, chunk := range chunkIDs(ids) {
		args := append([]any{userID}, stringArgs(chunk)...)
		where := `WHERE user_id = ? AND id IN (` + placeholders(len(chunk)) + `)`

		rows, err := dbtx.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, args...)
		if err != nil {
			return nil, fmt.Errorf("select transactions to delete: %w", err)
		}
		found, err := scanTransactions(rows)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, found...)

		if _, err := dbtx.ExecContext(ctx, `DELETE FROM transactions `+where, args...); err != nil {
			return nil, fmt.Errorf("delete transactions: %w", err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}

	slog.InfoContext(ctx, "Transactions deleted", "user_id", userID, "requested", len(ids), "deleted", len(deleted))
	return deleted, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, f core.TransactionFilter) ([]core.Transaction, error) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if f.Direction != "" {
		clauses = append(clauses, "direction = ?")
		args = append(args, string(f.Direction))
	}
	if f.Domain != "" {
		clauses = append(clauses, "domain = ?")
		args = append(args, f.Domain)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, formatTime(f.To))
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, "%"+q+"%", "%"+q+"%")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY occurred_at DESC, id`
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, f.Offset)
	}
	return r.queryTransactions(ctx, "list transactions", query, args...)
}

func (r *SQLiteRepository) ListMonthTransactions(ctx context.Context, userID string, month core.MonthKey) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "list month transactions",
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND month = ? ORDER BY occurred_at, id`,
		userID, string(month))
}

func (r *SQLiteRepository) ListUncountedTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "list uncounted transactions",
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND counted = 0 ORDER BY occurred_at, id`,
		userID)
}

func (r *SQLiteRepository) TransactionSpan(ctx context.Context, userID string) (core.MonthKey, core.MonthKey, bool, error) {
	var first, last sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MIN(month), MAX(month) FROM transactions WHERE user_id = ?`, userID).Scan(&first, &last)
	if err != nil {
		return "", "", false, fmt.Errorf("transaction span: %w", err)
	}
	if !first.Valid || !last.Valid {
		return "", "", false, nil
	}
	return core.MonthKey(first.String), core.MonthKey(last.String), true, nil
}

// MarkCounted compares each row against the summed version inside the
// UPDATE, so an edit committed by another process is never flagged.
func (r *SQLiteRepository) MarkCounted(ctx context.Context, userID string, summed []core.Transaction) error {
	if len(summed) == 0 {
		return nil
	}
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark counted: %w", err)
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx,
		`UPDATE transactions SET counted = 1
		WHERE user_id = ? AND id = ? AND month = ? AND amount_cents = ? AND direction = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark counted: %w", err)
	}
	defer stmt.Close()

	skipped := 0
	for _, tx := range summed {
		res, err := stmt.ExecContext(ctx, userID, tx.ID, string(tx.Month()), tx.Amount.Cents, string(tx.Direction))
		if err != nil {
			return fmt.Errorf("mark counted %s: %w", tx.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			skipped++
		}
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit mark counted: %w", err)
	}

	if skipped > 0 {
		slog.InfoContext(ctx, "Transactions changed while aggregating, left uncounted",
			"user_id", userID, "skipped", skipped)
	}
	return nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return txs, nil
}

// Budgets

func (r *SQLiteRepository) GetBudget(ctx context.Context, userID string, month core.MonthKey) (core.Budget, bool, error) {
	b := core.Budget{UserID: userID, Month: month}
	err := r.db.QueryRowContext(ctx,
		`SELECT amount_cents FROM budgets WHERE user_id = ? AND month = ?`, userID, string(month)).
		Scan(&b.Amount.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, false, nil
	}
	if err != nil {
		return core.Budget{}, false, fmt.Errorf("get budget %s: %w", month, err)
	}
	return b, true, nil
}

func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (user_id, month, amount_cents) VALUES (?, ?, ?)
		ON CONFLICT(user_id, month) DO UPDATE SET amount_cents = excluded.amount_cents, updated_at = CURRENT_TIMESTAMP`,
		b.UserID, string(b.Month), b.Amount.Cents)
	if err != nil {
		return fmt.Errorf("upsert budget %s: %w", b.Month, translateError(err))
	}
	return nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string, from, to core.MonthKey) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT month, amount_cents FROM budgets WHERE user_id = ? AND month BETWEEN ? AND ? ORDER BY month`,
		userID, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b := core.Budget{UserID: userID}
		var month string
		if err := rows.Scan(&month, &b.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.Month = core.MonthKey(month)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Summaries

func (r *SQLiteRepository) UpsertSummary(ctx context.Context, s core.MonthlySummary) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO monthly_summaries (user_id, month, total_balance_cents, total_debit_cents, total_credit_cents)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, month) DO UPDATE SET
			total_balance_cents = excluded.total_balance_cents,
			total_debit_cents = excluded.total_debit_cents,
			total_credit_cents = excluded.total_credit_cents,
			updated_at = CURRENT_TIMESTAMP`,
		s.UserID, string(s.Month), s.TotalBalance.Cents, s.TotalDebit.Cents, s.TotalCredit.Cents)
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", s.Month, translateError(err))
	}
	return nil
}

func (r *SQLiteRepository) ListSummaries(ctx context.Context, userID string) ([]core.MonthlySummary, error) {
	return r.querySummaries(ctx,
		`SELECT month, total_balance_cents, total_debit_cents, total_credit_cents
		FROM monthly_summaries WHERE user_id = ? ORDER BY month`, userID)
}

func (r *SQLiteRepository) ListSummariesBetween(ctx context.Context, userID string, from, to core.MonthKey) ([]core.MonthlySummary, error) {
	return r.querySummaries(ctx,
		`SELECT month, total_balance_cents, total_debit_cents, total_credit_cents
		FROM monthly_summaries WHERE user_id = ? AND month BETWEEN ? AND ? ORDER BY month`,
		userID, string(from), string(to))
}

func (r *SQLiteRepository) SetTotalBalance(ctx context.Context, userID string, month core.MonthKey, amount core.Money) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE monthly_summaries SET total_balance_cents = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND month = ?`,
		amount.Cents, userID, string(month))
	if err != nil {
		return false, fmt.Errorf("set total balance %s: %w", month, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) querySummaries(ctx context.Context, query string, userID string, args ...any) ([]core.MonthlySummary, error) {
	rows, err := r.db.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlySummary
	for rows.Next() {
		s := core.MonthlySummary{UserID: userID}
		var month string
		if err := rows.Scan(&month, &s.TotalBalance.Cents, &s.TotalDebit.Cents, &s.TotalCredit.Cents); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Month = core.MonthKey(month)
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx         core.Transaction
		occurredAt string
		month      string
		direction  string
	)
	if err := row.Scan(&tx.ID, &tx.UserID, &occurredAt, &month, &tx.Domain, &tx.Title,
		&tx.Description, &tx.Amount.Cents, &direction, &tx.Counted); err != nil {
		return core.Transaction{}, err
	}
	t, err := time.Parse(timeLayout, occurredAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
	}
	tx.Date = core.Date{Time: t}
	tx.Direction = core.Direction(direction)
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// translateError maps driver errors onto the core sentinels.
func translateError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"),
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", core.ErrAlreadyExists, err)
	case strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	return err
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}

func chunkIDs(ids []string) [][]string {
	var chunks [][]string
	for len(ids) > maxIDsPerStatement {
		chunks = append(chunks, ids[:maxIDsPerStatement])
		ids = ids[maxIDsPerStatement:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
