// Package loader fetches report spreadsheets from their sources and turns
// them into pipeline tables.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/ops-review/internal/logger"
	"github.com/dvloznov/ops-review/internal/pipeline"
)

// ErrSourceUnavailable is returned when a source cannot be fetched.
var ErrSourceUnavailable = errors.New("source unavailable")

// Document is one fetched file. Sources that read cells directly set Table
// instead of Data.
type Document struct {
	Name   string
	Format Format
	Data   []byte
	Table  *pipeline.Table
}

// Source fetches the documents behind a report.
type Source interface {
	Describe() string
	Fetch(ctx context.Context) ([]Document, error)
}

// Options controls parsing of fetched documents.
type Options struct {
	SkipRows int
	// Sheet selects a worksheet by name; empty means the first one.
	Sheet string
}

// Sheet is a parsed document.
type Sheet struct {
	Name  string
	Table pipeline.Table
}

// Result is the outcome of a load. Err wraps ErrSourceUnavailable when the
// fetch failed and pipeline.ErrNoData when the source held no rows.
type Result struct {
	Table pipeline.Table
	Err   error
}

// LoadEach fetches src and parses every document separately.
func LoadEach(ctx context.Context, src Source, opts Options) ([]Sheet, error) {
	log := logger.FromContext(ctx)

	docs, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadEach: %s: %w: %v", src.Describe(), ErrSourceUnavailable, err)
	}

	sheets := make([]Sheet, 0, len(docs))
	for _, doc := range docs {
		var table pipeline.Table
		if doc.Table != nil {
			table = skipRows(*doc.Table, opts.SkipRows)
		} else {
			table, err = Parse(doc.Data, doc.Format, opts)
			if err != nil {
				return nil, fmt.Errorf("LoadEach: %s: %w", doc.Name, err)
			}
		}
		sheets = append(sheets, Sheet{Name: doc.Name, Table: table})
	}

	log.Debug().
		Str("source", src.Describe()).
		Int("documents", len(sheets)).
		Msg("loaded source")

	return sheets, nil
}

// Load fetches src into a single table. Multiple documents are concatenated
// and must share a header.
func Load(ctx context.Context, src Source, opts Options) Result {
	sheets, err := LoadEach(ctx, src, opts)
	if err != nil {
		return Result{Err: err}
	}

	var table pipeline.Table
	for i, s := range sheets {
		if i == 0 {
			table.Header = s.Table.Header
		} else if !sameHeader(table.Header, s.Table.Header) {
			return Result{Err: fmt.Errorf("Load: %s: header of %s differs from %s", src.Describe(), s.Name, sheets[0].Name)}
		}
		table.Rows = append(table.Rows, s.Table.Rows...)
	}

	if table.Len() == 0 {
		return Result{Table: table, Err: fmt.Errorf("Load: %s: %w", src.Describe(), pipeline.ErrNoData)}
	}
	return Result{Table: table}
}

func sameHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(strings.TrimSpace(a[i]), strings.TrimSpace(b[i])) {
			return false
		}
	}
	return true
}

// MultiSource fetches several sources in order and returns all their
// documents.
type MultiSource []Source

func (m MultiSource) Describe() string {
	names := make([]string, len(m))
	for i, s := range m {
		names[i] = s.Describe()
	}
	return strings.Join(names, ", ")
}

func (m MultiSource) Fetch(ctx context.Context) ([]Document, error) {
	var docs []Document
	for _, s := range m {
		d, err := s.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Describe(), err)
		}
		docs = append(docs, d...)
	}
	return docs, nil
}
