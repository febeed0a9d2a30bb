package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

// ExportBaseURL is the public export endpoint for shared spreadsheets.
const ExportBaseURL = "https://docs.google.com/spreadsheets/d"

// SheetExportSource downloads one tab of a link-shared spreadsheet through
// the export endpoint.
type SheetExportSource struct {
	DocumentID string
	GID        string
	Format     Format
	// BaseURL overrides ExportBaseURL.
	BaseURL string
	Client  *http.Client
}

// URL returns the export URL for the tab.
func (s SheetExportSource) URL() string {
	base := s.BaseURL
	if base == "" {
		base = ExportBaseURL
	}
	format := s.Format
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("%s/%s/export?format=%s&gid=%s", base, s.DocumentID, format, s.GID)
}

func (s SheetExportSource) Describe() string {
	return fmt.Sprintf("sheet %s gid %s", s.DocumentID, s.GID)
}

func (s SheetExportSource) Fetch(ctx context.Context) ([]Document, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download export: received status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}

	format := s.Format
	if format == "" {
		format = Sniff(data)
	}
	return []Document{{Name: s.Describe(), Format: format, Data: data}}, nil
}

// SheetsAPISource reads a range through the Sheets API using unformatted
// values, so dates arrive as serial numbers.
type SheetsAPISource struct {
	SpreadsheetID string
	Range         string
	// ClientOptions are passed to sheets.NewService.
	ClientOptions []option.ClientOption
}

func (s SheetsAPISource) Describe() string {
	return fmt.Sprintf("spreadsheet %s range %s", s.SpreadsheetID, s.Range)
}

func (s SheetsAPISource) Fetch(ctx context.Context) ([]Document, error) {
	srv, err := sheets.NewService(ctx, s.ClientOptions...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	resp, err := srv.Spreadsheets.Values.Get(s.SpreadsheetID, s.Range).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}

	table := pipeline.Table{Rows: make([][]any, 0, len(resp.Values))}
	for _, row := range resp.Values {
		table.Rows = append(table.Rows, row)
	}
	return []Document{{Name: s.Describe(), Table: &table}}, nil
}
