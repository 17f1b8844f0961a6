package reconcile

import (
	"context"
	"fmt"
	"sort"

	"saldo/internal/core"
)

// The projections below never write. They combine stored state with
// transactions not reconciled yet.

// MonthOverview reports the current month with live totals and the
// lifetime figures projected over every uncounted transaction.
//
// A counted transaction that was edited since is uncounted again, so its
// month's stored summary still holds the old version while the projection
// adds the new one. The lifetime figures count it twice until the next
// snapshot re-aggregates that month.
func (e *Engine) MonthOverview(ctx context.Context, userID string) (core.MonthOverview, error) {
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return core.MonthOverview{}, err
	}
	defer unlock()

	month := e.CurrentMonth()
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("get user: %w", err)
	}

	budget := user.Budget
	b, found, err := e.store.GetBudget(ctx, userID, month)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("get budget for %s: %w", month, err)
	}
	if found {
		budget = b.Amount
	}

	txs, err := e.store.ListMonthTransactions(ctx, userID, month)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list transactions for %s: %w", month, err)
	}
	debit, credit := totals(txs)

	pending, err := e.store.ListUncountedTransactions(ctx, userID)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list uncounted transactions: %w", err)
	}
	var delta core.Money
	for _, tx := range pending {
		delta = delta.Add(tx.Net())
	}
	projected := Balance{Savings: user.Savings, Deficit: user.Deficit}.Apply(delta)

	return core.MonthOverview{
		Month:     month,
		Budget:    budget,
		Debit:     debit,
		Credit:    credit,
		Remaining: budget.Add(credit).Sub(debit),
		Savings:   projected.Savings,
		Deficit:   projected.Deficit,
	}, nil
}

// YearOverview lists the twelve months of year. Totals are the stored
// summary plus uncounted transactions of the month. The budget is the
// month's budget row, else the summary snapshot, else zero.
func (e *Engine) YearOverview(ctx context.Context, userID string, year int) (core.YearOverview, error) {
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return core.YearOverview{}, err
	}
	defer unlock()

	months := core.YearMonths(year)
	from, to := months[0], months[len(months)-1]

	summaries, err := e.store.ListSummariesBetween(ctx, userID, from, to)
	if err != nil {
		return core.YearOverview{}, fmt.Errorf("list summaries: %w", err)
	}
	budgets, err := e.store.ListBudgets(ctx, userID, from, to)
	if err != nil {
		return core.YearOverview{}, fmt.Errorf("list budgets: %w", err)
	}
	pending, err := e.store.ListUncountedTransactions(ctx, userID)
	if err != nil {
		return core.YearOverview{}, fmt.Errorf("list uncounted transactions: %w", err)
	}

	rows := make(map[core.MonthKey]*core.YearMonth, len(months))
	out := core.YearOverview{Year: year, Months: make([]core.YearMonth, len(months))}
	for i, m := range months {
		out.Months[i].Month = m
		rows[m] = &out.Months[i]
	}

	for _, s := range summaries {
		row, ok := rows[s.Month]
		if !ok {
			continue
		}
		row.Debit = row.Debit.Add(s.TotalDebit)
		row.Credit = row.Credit.Add(s.TotalCredit)
		row.Budget = s.TotalBalance
	}
	for _, b := range budgets {
		if row, ok := rows[b.Month]; ok {
			row.Budget = b.Amount
		}
	}
	for _, tx := range pending {
		row, ok := rows[tx.Month()]
		if !ok {
			continue
		}
		switch tx.Direction {
		case core.Debit:
			row.Debit = row.Debit.Add(tx.Amount)
		case core.Credit:
			row.Credit = row.Credit.Add(tx.Amount)
		}
	}
	return out, nil
}

// DailyTrend returns spending per day of month, ascending, for days with
// at least one debit.
func (e *Engine) DailyTrend(ctx context.Context, userID string, month core.MonthKey) ([]core.DailyAmount, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}
	unlock, err := e.locks.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	txs, err := e.store.ListMonthTransactions(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", month, err)
	}
	byDay := make(map[int]core.Money)
	for _, tx := range txs {
		if tx.Direction != core.Debit {
			continue
		}
		day := tx.Date.UTC().Day()
		byDay[day] = byDay[day].Add(tx.Amount)
	}

	out := make([]core.DailyAmount, 0, len(byDay))
	for day, amount := range byDay {
		out = append(out, core.DailyAmount{Day: day, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func totals(txs []core.Transaction) (debit, credit core.Money) {
	for _, tx := range txs {
		switch tx.Direction {
		case core.Debit:
			debit = debit.Add(tx.Amount)
		case core.Credit:
			credit = credit.Add(tx.Amount)
		}
	}
	return debit, credit
}
