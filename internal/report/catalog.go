package report

import (
	"fmt"

	"github.com/dvloznov/ops-review/internal/config"
	"github.com/dvloznov/ops-review/internal/loader"
	"github.com/dvloznov/ops-review/internal/pipeline"
)

// PLNamePrefix is the file name prefix of monthly profit and loss exports.
const PLNamePrefix = "PL_"

// SourceProvider resolves the source of a report.
type SourceProvider interface {
	Source(report pipeline.ReportType) (loader.Source, error)
}

// Entry describes one report in the catalog.
type Entry struct {
	Report     pipeline.ReportType `json:"report"`
	Title      string              `json:"title"`
	Configured bool                `json:"configured"`
}

// Catalog maps report types onto the spreadsheets configured for them.
type Catalog struct {
	sources config.Sources
}

// NewCatalog creates a catalog from configured sources.
func NewCatalog(sources config.Sources) *Catalog {
	return &Catalog{sources: sources}
}

// Source returns the loader source of report. An unconfigured report
// yields an error wrapping loader.ErrSourceUnavailable.
func (c *Catalog) Source(report pipeline.ReportType) (loader.Source, error) {
	s := c.sources
	var docID, gid string

	switch report {
	case pipeline.ReportAccounting:
		docID, gid = s.AccountingSheetID, s.AccountingGID
	case pipeline.ReportARAging:
		docID, gid = s.AgingSheetID, s.ARAgingGID
	case pipeline.ReportAPAging:
		docID, gid = s.AgingSheetID, s.APAgingGID
	case pipeline.ReportDaysSales:
		docID, gid = s.AgingSheetID, s.DaysSalesGID
	case pipeline.ReportDaysPayable:
		docID, gid = s.AgingSheetID, s.DaysPayableGID
	case pipeline.ReportPermits:
		docID, gid = s.PermitsSheetID, s.PermitsGID
	case pipeline.ReportTimesheet:
		docID, gid = s.TimesheetSheetID, s.TimesheetGID
	case pipeline.ReportProfitLoss:
		return c.plSource()
	default:
		return nil, fmt.Errorf("Source: %s: %w", report, pipeline.ErrUnknownReport)
	}

	if docID == "" || gid == "" {
		return nil, fmt.Errorf("Source: %s: %w: no sheet configured", report, loader.ErrSourceUnavailable)
	}
	return loader.SheetExportSource{DocumentID: docID, GID: gid, Format: loader.FormatCSV}, nil
}

func (c *Catalog) plSource() (loader.Source, error) {
	years := c.sources.PLYears()
	if len(years) == 0 {
		return nil, fmt.Errorf("Source: %s: %w: no folders configured", pipeline.ReportProfitLoss, loader.ErrSourceUnavailable)
	}
	multi := make(loader.MultiSource, 0, len(years))
	for _, y := range years {
		multi = append(multi, loader.DriveFolderSource{FolderID: c.sources.PLFolders[y], NamePrefix: PLNamePrefix})
	}
	return multi, nil
}

// Entries lists every report type with its title and whether a source is
// configured.
func (c *Catalog) Entries() []Entry {
	types := pipeline.ReportTypes()
	entries := make([]Entry, 0, len(types))
	for _, r := range types {
		schema, err := pipeline.LookupSchema(r)
		if err != nil {
			continue
		}
		_, err = c.Source(r)
		entries = append(entries, Entry{Report: r, Title: schema.Title, Configured: err == nil})
	}
	return entries
}
