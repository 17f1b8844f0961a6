package google

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/sheets"
)

var summaryHeader = []string{"Month", "Budget", "Debit", "Credit", "Performance"}

const (
	savingsLabel = "Savings"
	deficitLabel = "Deficit"
)

// summaryRows lays an export out as a values matrix: a header, one row per
// month, a blank separator and the lifetime balance.
func summaryRows(exp sheets.SummaryExport) [][]interface{} {
	rows := make([][]interface{}, 0, len(exp.Summaries)+4)

	header := make([]interface{}, len(summaryHeader))
	for i, h := range summaryHeader {
		header[i] = h
	}
	rows = append(rows, header)

	for _, s := range exp.Summaries {
		rows = append(rows, []interface{}{
			string(s.Month),
			s.TotalBalance.String(),
			s.TotalDebit.String(),
			s.TotalCredit.String(),
			s.Performance().String(),
		})
	}

	rows = append(rows,
		[]interface{}{},
		[]interface{}{savingsLabel, exp.Lifetime.Savings.String()},
		[]interface{}{deficitLabel, exp.Lifetime.Deficit.String()},
	)
	return rows
}

// parseSummaryRows reads back what summaryRows wrote. Cells may come back
// as numbers or strings depending on the render option.
func parseSummaryRows(values [][]interface{}) (sheets.SummaryExport, error) {
	var exp sheets.SummaryExport
	if len(values) == 0 {
		return exp, nil
	}

	headers := toStrings(values[0])
	cols := make([]int, len(summaryHeader))
	var missing []string
	for i, h := range summaryHeader {
		cols[i] = indexOf(headers, h)
		if cols[i] == -1 {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return exp, fmt.Errorf("unexpected summary header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}

	for i := 1; i < len(values); i++ {
		raw := values[i]
		row := toStrings(raw)
		label := safeGet(row, 0)
		switch {
		case label == "":
			continue
		case strings.EqualFold(label, savingsLabel):
			m, err := cellMoney(raw, 1)
			if err != nil {
				return exp, fmt.Errorf("row %d: %w", i+1, err)
			}
			exp.Lifetime.Savings = m
			continue
		case strings.EqualFold(label, deficitLabel):
			m, err := cellMoney(raw, 1)
			if err != nil {
				return exp, fmt.Errorf("row %d: %w", i+1, err)
			}
			exp.Lifetime.Deficit = m
			continue
		}

		month, err := core.ParseMonthKey(safeGet(row, cols[0]))
		if err != nil {
			return exp, fmt.Errorf("row %d: %w", i+1, err)
		}
		s := core.MonthlySummary{Month: month}
		for j, dst := range []*core.Money{&s.TotalBalance, &s.TotalDebit, &s.TotalCredit} {
			m, err := cellMoney(raw, cols[j+1])
			if err != nil {
				return exp, fmt.Errorf("row %d: %w", i+1, err)
			}
			*dst = m
		}
		exp.Summaries = append(exp.Summaries, s)
	}
	return exp, nil
}

// sameExport compares what a sheet holds with what would be written.
func sameExport(a, b sheets.SummaryExport) bool {
	if a.Lifetime.Savings != b.Lifetime.Savings || a.Lifetime.Deficit != b.Lifetime.Deficit {
		return false
	}
	if len(a.Summaries) != len(b.Summaries) {
		return false
	}
	for i := range a.Summaries {
		x, y := a.Summaries[i], b.Summaries[i]
		if x.Month != y.Month || x.TotalBalance != y.TotalBalance ||
			x.TotalDebit != y.TotalDebit || x.TotalCredit != y.TotalCredit {
			return false
		}
	}
	return true
}

func cellMoney(row []interface{}, idx int) (core.Money, error) {
	if idx < 0 || idx >= len(row) {
		return core.Money{}, nil
	}
	switch v := row[idx].(type) {
	case nil:
		return core.Money{}, nil
	case float64:
		return core.MoneyFromDecimal(decimal.NewFromFloat(v)), nil
	case int:
		return core.MoneyFromDecimal(decimal.NewFromInt(int64(v))), nil
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		if s == "" {
			return core.Money{}, nil
		}
		cents, err := core.ParseSignedDecimalToCents(s)
		if err != nil {
			return core.Money{}, fmt.Errorf("amount %q: %w", s, err)
		}
		return core.Cents(cents), nil
	}
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx >= 0 && idx < len(arr) {
		return arr[idx]
	}
	return ""
}
