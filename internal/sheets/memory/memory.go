package memory

import (
	"context"
	"sync"

	"saldo/internal/core"
	"saldo/internal/sheets"
)

// Exporter keeps the last export per user. It stands in for Google Sheets
// in tests and local runs.
type Exporter struct {
	mu      sync.Mutex
	exports map[string]sheets.SummaryExport
	calls   int
	err     error
}

var _ sheets.SummaryExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{exports: make(map[string]sheets.SummaryExport)}
}

// FailWith makes subsequent exports return err; nil restores success.
func (e *Exporter) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *Exporter) ExportSummaries(_ context.Context, exp sheets.SummaryExport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return e.err
	}
	exp.Summaries = append([]core.MonthlySummary(nil), exp.Summaries...)
	e.exports[exp.UserID] = exp
	return nil
}

// Last returns the most recent export for userID.
func (e *Exporter) Last(userID string) (sheets.SummaryExport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exp, ok := e.exports[userID]
	return exp, ok
}

// Calls counts export attempts, failed ones included.
func (e *Exporter) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
