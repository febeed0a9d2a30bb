package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port            string
	LogLevel        string
	ProjectID       string
	Dataset         string
	Bucket          string
	RedisAddr       string
	RedisPassword   string
	CacheTTL        time.Duration
	RefreshSchedule string
	Sources         Sources
}

// Sources locates the spreadsheet exports behind each report.
type Sources struct {
	AccountingSheetID string
	AccountingGID     string
	AgingSheetID      string
	ARAgingGID        string
	APAgingGID        string
	DaysSalesGID      string
	DaysPayableGID    string
	PermitsSheetID    string
	PermitsGID        string
	TimesheetSheetID  string
	TimesheetGID      string
	// PLFolders maps a fiscal year to the Drive folder holding its monthly P&L files.
	PLFolders map[int]string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()
	return NewConfig()
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	ttl, err := strconv.Atoi(getEnv("CACHE_TTL_SECONDS", "600"))
	if err != nil || ttl < 0 {
		return nil, fmt.Errorf("CACHE_TTL_SECONDS must be a non-negative integer, got %q", os.Getenv("CACHE_TTL_SECONDS"))
	}

	folders, err := ParseFolderIDs(getEnv("PL_FOLDER_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("PL_FOLDER_IDS: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ProjectID:       getEnv("GCP_PROJECT", "ops-review"),
		Dataset:         getEnv("BQ_DATASET", "ops_review"),
		Bucket:          getEnv("GCS_BUCKET", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		CacheTTL:        time.Duration(ttl) * time.Second,
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "@every 10m"),
		Sources: Sources{
			AccountingSheetID: getEnv("ACCOUNTING_SHEET_ID", ""),
			AccountingGID:     getEnv("ACCOUNTING_GID", "0"),
			AgingSheetID:      getEnv("AGING_SHEET_ID", ""),
			ARAgingGID:        getEnv("AR_AGING_GID", ""),
			APAgingGID:        getEnv("AP_AGING_GID", ""),
			DaysSalesGID:      getEnv("DAYS_SALES_GID", ""),
			DaysPayableGID:    getEnv("DAYS_PAYABLE_GID", ""),
			PermitsSheetID:    getEnv("PERMITS_SHEET_ID", ""),
			PermitsGID:        getEnv("PERMITS_GID", "0"),
			TimesheetSheetID:  getEnv("TIMESHEET_SHEET_ID", ""),
			TimesheetGID:      getEnv("TIMESHEET_GID", "0"),
			PLFolders:         folders,
		},
	}

	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT is required")
	}
	if cfg.RefreshSchedule == "" {
		return nil, fmt.Errorf("REFRESH_SCHEDULE is required")
	}

	return cfg, nil
}

// ParseFolderIDs parses "2023=folderA,2024=folderB".
func ParseFolderIDs(s string) (map[int]string, error) {
	folders := make(map[int]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		year, id, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not year=folderID", part)
		}
		y, err := strconv.Atoi(strings.TrimSpace(year))
		if err != nil {
			return nil, fmt.Errorf("entry %q has invalid year: %w", part, err)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("entry %q has empty folder ID", part)
		}
		folders[y] = id
	}
	return folders, nil
}

// PLYears returns the configured P&L years in ascending order.
func (s Sources) PLYears() []int {
	years := make([]int, 0, len(s.PLFolders))
	for y := range s.PLFolders {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
