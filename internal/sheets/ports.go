package sheets

import (
	"context"

	"saldo/internal/core"
)

// SummaryExport is everything one user's report sheet shows.
type SummaryExport struct {
	UserID    string
	Summaries []core.MonthlySummary // ascending by month
	Lifetime  core.UserAggregate
}

// Ports for outbound adapters.
type (
	// SummaryExporter mirrors stored monthly summaries to a spreadsheet.
	SummaryExporter interface {
		ExportSummaries(ctx context.Context, exp SummaryExport) error
	}
)
