package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"saldo/internal/log"
	ports "saldo/internal/sheets"
)

// Options selects the spreadsheet and the service account used to write it.
// One of CredentialsJSON or CredentialsFile is required.
type Options struct {
	SpreadsheetID   string
	SheetName       string // base tab name; the user ID is appended
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

var _ ports.SummaryExporter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(opts.SheetName)
	if base == "" {
		base = "Saldo"
	}

	creds, err := credentialsJSON(opts)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger := log.ForComponent(log.ComponentSheets)
	logger.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", spreadsheetID, "sheet", base)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: base, logger: logger}, nil
}

func credentialsJSON(opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)

	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// ExportSummaries rewrites the user's tab unless it already shows the same
// numbers. The tab must exist.
func (c *Client) ExportSummaries(ctx context.Context, exp ports.SummaryExport) error {
	sheet := userSheetName(c.sheetBase, exp.UserID)
	rng := fmt.Sprintf("'%s'!A:E", sheet)

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if current, err := parseSummaryRows(resp.Values); err == nil && sameExport(current, exp) {
		c.logger.DebugContext(ctx, "Sheet already up to date", log.FieldUserID, exp.UserID, "sheet", sheet)
		return nil
	}

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %q: %w", sheet, err)
	}

	vr := &gsheet.ValueRange{Values: summaryRows(exp)}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, fmt.Sprintf("'%s'!A1", sheet), vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write sheet %q: %w", sheet, err)
	}

	c.logger.InfoContext(ctx, "Exported summaries to sheet",
		log.FieldUserID, exp.UserID,
		log.FieldCount, len(exp.Summaries),
		"sheet", sheet)
	return nil
}

// userSheetName appends the user to the base tab name unless it is already there.
func userSheetName(base, userID string) string {
	base = strings.TrimSpace(base)
	userID = strings.TrimSpace(userID)
	if userID == "" || strings.HasSuffix(base, " "+userID) {
		return base
	}
	return fmt.Sprintf("%s %s", base, userID)
}
