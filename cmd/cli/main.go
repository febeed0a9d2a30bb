package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ops-review/internal/app"
	"github.com/dvloznov/ops-review/internal/cache"
	"github.com/dvloznov/ops-review/internal/config"
	"github.com/dvloznov/ops-review/internal/export"
	"github.com/dvloznov/ops-review/internal/loader"
	"github.com/dvloznov/ops-review/internal/logger"
	"github.com/dvloznov/ops-review/internal/pipeline"
	"github.com/dvloznov/ops-review/internal/report"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "help", "-h", "--help":
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	switch os.Args[1] {
	case "report":
		runReport(cfg, log)
	case "aging":
		runAging(cfg, log)
	case "series":
		runSeries(cfg, log)
	case "options":
		runOptions(cfg, log)
	case "export":
		runExport(cfg, log)
	case "refresh":
		runRefresh(cfg, log)
	case "upload":
		runUpload(cfg, log)
	case "runs":
		runRuns(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Operations Review CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  report    Print the filtered records or groups of a report")
	fmt.Println("  aging     Print the open balance per aging bucket")
	fmt.Println("  series    Print the balance series, status counts and average days of a report")
	fmt.Println("  options   Print the filter choices of a report")
	fmt.Println("  export    Write a report to an XLSX or CSV file")
	fmt.Println("  refresh   Reload a report source and record the run")
	fmt.Println("  upload    Upload a spreadsheet export to GCS")
	fmt.Println("  runs      List recent refresh runs")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nReports:")
	for _, r := range pipeline.ReportTypes() {
		fmt.Printf("  %s\n", r)
	}
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// reportFlags are shared by the commands that run a report.
type reportFlags struct {
	report   *string
	file     *string
	gcsURI   *string
	year     *int
	month    *int
	category *string
	text     *string
	start    *string
	end      *string
	segment  *string
}

func addReportFlags(fs *flag.FlagSet) *reportFlags {
	return &reportFlags{
		report:   fs.String("report", "", "Report type (see 'cli help')"),
		file:     fs.String("file", "", "Read the report from a local CSV/XLSX/XLS file instead of its configured source"),
		gcsURI:   fs.String("gcs-uri", "", "Read the report from a gs:// object instead of its configured source"),
		year:     fs.Int("year", 0, "Year filter (0 for all years)"),
		month:    fs.Int("month", -1, "Month filter, 1-12, or 0 for the complete year"),
		category: fs.String("category", "", "Comma-separated category filter"),
		text:     fs.String("q", "", "Case-insensitive text search"),
		start:    fs.String("start", "", "Start date, YYYY-MM-DD (requires -end)"),
		end:      fs.String("end", "", "End date, YYYY-MM-DD, inclusive"),
		segment:  fs.String("segment", "", "Comma-separated aging buckets, e.g. Current,1-30"),
	}
}

func (f *reportFlags) reportType(log zerolog.Logger) pipeline.ReportType {
	if *f.report == "" {
		log.Fatal().Msg("Error: -report is required")
	}
	rt := pipeline.ReportType(*f.report)
	if _, err := pipeline.LookupSchema(rt); err != nil {
		log.Fatal().Err(err).Msg("Unknown report")
	}
	return rt
}

func (f *reportFlags) criteria() (pipeline.Criteria, error) {
	var c pipeline.Criteria
	if *f.year != 0 {
		c.Year = f.year
	}
	if *f.month >= 0 {
		c.Month = f.month
	}
	c.Categories = splitList(*f.category)
	c.Text = strings.TrimSpace(*f.text)

	if *f.start != "" || *f.end != "" {
		start, err := parseDate(*f.start)
		if err != nil {
			return c, fmt.Errorf("-start: %w", err)
		}
		end, err := parseDate(*f.end)
		if err != nil {
			return c, fmt.Errorf("-end: %w", err)
		}
		c.DateRange = &pipeline.DateRange{Start: start, End: end}
	}

	for _, label := range splitList(*f.segment) {
		seg, err := pipeline.ParseSegment(label)
		if err != nil {
			return c, err
		}
		c.Segments = append(c.Segments, seg)
	}
	return c, c.Validate()
}

// service builds a report service without history. A -file or -gcs-uri
// flag replaces the configured source of the selected report.
func (f *reportFlags) service(cfg *config.Config, rt pipeline.ReportType) *report.Service {
	var sources report.SourceProvider = report.NewCatalog(cfg.Sources)
	switch {
	case *f.file != "":
		sources = overrideSource{SourceProvider: sources, report: rt, src: loader.FileSource{Path: *f.file}}
	case *f.gcsURI != "":
		sources = overrideSource{SourceProvider: sources, report: rt, src: loader.GCSSource{URI: *f.gcsURI, Storage: loader.NewGCSStorage()}}
	}
	return report.NewService(sources, cache.NewMemoryCache(0), nil, nil)
}

// overrideSource serves src for one report and defers to the catalog for
// the others.
type overrideSource struct {
	report.SourceProvider
	report pipeline.ReportType
	src    loader.Source
}

func (o overrideSource) Source(r pipeline.ReportType) (loader.Source, error) {
	if r == o.report {
		return o.src, nil
	}
	return o.SourceProvider.Source(r)
}

func runReport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	rf := addReportFlags(fs)
	by := fs.String("by", "", "Group by year, month, day, segment or a field name")
	sum := fs.String("sum", "", "Comma-separated fields to total per group")
	sortCount := fs.Bool("sort-count", false, "Sort groups by descending count")
	limit := fs.Int("limit", 50, "Maximum rows to print (0 for all)")
	fs.Parse(os.Args[2:])

	rt := rf.reportType(log)
	c, err := rf.criteria()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filters")
	}

	req := pipeline.Request{Criteria: c, GroupBy: *by, SortByCount: *sortCount}
	for _, s := range splitList(*sum) {
		req.Sum = append(req.Sum, pipeline.Field(s))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	rep, schema, err := rf.service(cfg, rt).Build(ctx, rt, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Report failed")
	}

	if rep.Empty {
		fmt.Println(rep.Message)
		return
	}

	if *by != "" {
		fields := req.Sum
		if len(fields) == 0 {
			fields = schema.SumFields
		}
		printGroups(rep.Groups, fields)
		return
	}

	printRows(schema, rep.Rows, *limit)
	fmt.Printf("\n%d records", len(rep.Rows))
	if len(rep.Rejections) > 0 {
		fmt.Printf(", %d cells rejected", len(rep.Rejections))
	}
	fmt.Println()
}

func runAging(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("aging", flag.ExitOnError)
	rf := addReportFlags(fs)
	fs.Parse(os.Args[2:])

	rt := rf.reportType(log)
	c, err := rf.criteria()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filters")
	}

	schema, _ := pipeline.LookupSchema(rt)
	if _, ok := schema.Column(pipeline.FieldPastDue); !ok {
		log.Fatal().Str("report", string(rt)).Msg("Report has no past due column")
	}
	balance := schema.BalanceField()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	req := pipeline.Request{Criteria: c, GroupBy: "segment", Sum: []pipeline.Field{balance}}
	rep, _, err := rf.service(cfg, rt).Build(ctx, rt, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Aging failed")
	}
	if rep.Empty {
		fmt.Println(rep.Message)
		return
	}

	printGroups(rep.Groups, []pipeline.Field{balance})
	fmt.Printf("\nTotal %s: %s\n", balance, pipeline.Total(rep.Groups, balance).StringFixed(2))
}

func runSeries(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("series", flag.ExitOnError)
	rf := addReportFlags(fs)
	split := fs.Bool("split", false, "Split the balance series by aging bucket")
	monthEnd := fs.Bool("month-end", false, "Chart only the last snapshot date of each month")
	fs.Parse(os.Args[2:])

	rt := rf.reportType(log)
	c, err := rf.criteria()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	req := pipeline.Request{Criteria: c, MonthEnd: *monthEnd}
	sum, err := rf.service(cfg, rt).Series(ctx, rt, req, *split)
	if err != nil {
		log.Fatal().Err(err).Msg("Series failed")
	}
	if sum.Records == 0 {
		fmt.Println(sum.Message)
		return
	}

	fmt.Printf("%d records\n", sum.Records)
	if sum.AverageDays != nil {
		fmt.Printf("Average days: %s\n", sum.AverageDays.StringFixed(1))
	}
	if len(sum.Counts) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tCOUNT")
		for _, c := range sum.Counts {
			fmt.Fprintf(w, "%s\t%d\n", c.Value, c.Count)
		}
		w.Flush()
	}
	if len(sum.Balance) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tSERIES\tBALANCE")
		for _, p := range sum.Balance {
			fmt.Fprintf(w, "%s\t%s\t%s\n", pipeline.DisplayDate(p.Date), p.Series, p.Value.StringFixed(2))
		}
		w.Flush()
	}
}

func runOptions(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("options", flag.ExitOnError)
	rf := addReportFlags(fs)
	fs.Parse(os.Args[2:])

	rt := rf.reportType(log)
	month := *rf.month
	if month < 0 {
		month = pipeline.MonthCompleteYear
	}

	ctx := logger.WithContext(context.Background(), log)
	opts, err := rf.service(cfg, rt).Options(ctx, rt, *rf.year, month)
	if err != nil {
		log.Fatal().Err(err).Msg("Options failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(opts); err != nil {
		log.Fatal().Err(err).Msg("Failed to print options")
	}
}

func runExport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	rf := addReportFlags(fs)
	formatName := fs.String("format", "xlsx", "Export format: xlsx or csv")
	out := fs.String("out", "", "Output path (defaults to <report>.<format>)")
	by := fs.String("by", "", "Add a summary sheet grouped by this key (xlsx only)")
	fs.Parse(os.Args[2:])

	rt := rf.reportType(log)
	format, err := export.ParseFormat(*formatName)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid format")
	}
	c, err := rf.criteria()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filters")
	}
	if *out == "" {
		*out = format.Filename(rt)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	req := pipeline.Request{Criteria: c, GroupBy: *by}
	if err := rf.service(cfg, rt).Export(ctx, rt, req, format, f); err != nil {
		f.Close()
		log.Fatal().Err(err).Msg("Export failed")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output file")
	}

	fmt.Printf("Wrote %s\n", *out)
}

func runRefresh(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	reportName := fs.String("report", "", "Report type to refresh (empty refreshes every configured report)")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log, app.Options{History: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize report service")
	}
	defer a.Close()

	if *reportName == "" {
		if err := a.Service.RefreshAll(ctx); err != nil {
			log.Fatal().Err(err).Msg("Refresh failed")
		}
		fmt.Println("Refresh completed successfully.")
		return
	}

	res, err := a.Service.Refresh(ctx, pipeline.ReportType(*reportName))
	if err != nil {
		log.Fatal().Err(err).Msg("Refresh failed")
	}
	fmt.Printf("Refreshed %s: %d rows, %d kept, %d rejected, %d skipped, %d snapshots (run %s)\n",
		res.Report, res.Stats.RowsIn, res.Stats.Kept, res.Stats.Rejected, res.Stats.Skipped, res.Snapshots, res.RunID)
}

func runUpload(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", cfg.Bucket, "GCS bucket name (or set GCS_BUCKET env)")
	reportName := fs.String("report", "", "Report the file belongs to")
	objectName := fs.String("object", "", "GCS object name (defaults to uploads/<report>/<date>/<filename>)")
	filePath := fs.String("file", "", "Path to local spreadsheet export")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH [-report TYPE]")
	}
	if _, ok := loader.FormatFromName(*filePath); !ok {
		log.Fatal().Str("file", *filePath).Msg("File is not a CSV, XLSX or XLS export")
	}

	if *objectName == "" {
		r := *reportName
		if r == "" {
			r = "misc"
		}
		*objectName = loader.UploadObjectName(r, *filePath, time.Now())
	}

	ctx := logger.WithContext(context.Background(), log)

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := loader.NewGCSStorage().UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to gs://%s/%s\n", filepath.Base(*filePath), *bucketName, *objectName)
}

func runRuns(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	reportName := fs.String("report", "", "Only list runs of this report")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log, app.Options{History: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize report service")
	}
	defer a.Close()
	if a.Repo == nil {
		log.Fatal().Msg("BigQuery is not available")
	}

	runs, err := a.Service.Runs(ctx, *reportName, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tREPORT\tSTATUS\tSTARTED\tKEPT\tREJECTED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Report, r.Status, r.StartedTS.Format(time.RFC3339),
			nullInt(r.Kept.Valid, r.Kept.Int64), nullInt(r.Rejected.Valid, r.Rejected.Int64),
			r.ErrorMessage)
	}
	tw.Flush()
}

func printRows(schema pipeline.Schema, rows []pipeline.Row, limit int) {
	fields := schema.Fields()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(export.Headers(schema, fields), "\t"))
	for i, row := range rows {
		if limit > 0 && i == limit {
			break
		}
		cells := make([]string, len(fields))
		for j, f := range fields {
			cells[j] = row[f]
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	if limit > 0 && len(rows) > limit {
		fmt.Printf("... %d more\n", len(rows)-limit)
	}
}

func printGroups(groups []pipeline.Group, fields []pipeline.Field) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	header := []string{"GROUP", "COUNT"}
	for _, f := range fields {
		header = append(header, strings.ToUpper(string(f)))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
	for _, g := range groups {
		cells := []string{g.Key.Label, fmt.Sprint(g.Count)}
		for _, f := range fields {
			cells = append(cells, g.Sum(f).StringFixed(2))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t")+"\t")
	}
	tw.Flush()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, fmt.Errorf("date is required")
	}
	return civil.ParseDate(s)
}

func nullInt(valid bool, n int64) string {
	if !valid {
		return "-"
	}
	return fmt.Sprint(n)
}
