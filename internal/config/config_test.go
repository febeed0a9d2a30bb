package config

import (
	"testing"
	"time"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("CACHE_TTL_SECONDS", "600")
	t.Setenv("PL_FOLDER_IDS", "")
	t.Setenv("REFRESH_SCHEDULE", "@every 10m")
	t.Setenv("GCP_PROJECT", "ops-review")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", cfg.CacheTTL)
	}
	if cfg.RefreshSchedule != "@every 10m" {
		t.Errorf("RefreshSchedule = %q", cfg.RefreshSchedule)
	}
	if len(cfg.Sources.PLFolders) != 0 {
		t.Errorf("expected no P&L folders, got %v", cfg.Sources.PLFolders)
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad ttl", "CACHE_TTL_SECONDS", "ten"},
		{"negative ttl", "CACHE_TTL_SECONDS", "-1"},
		{"bad folders", "PL_FOLDER_IDS", "2024"},
		{"empty project", "GCP_PROJECT", ""},
		{"empty schedule", "REFRESH_SCHEDULE", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CACHE_TTL_SECONDS", "600")
			t.Setenv("PL_FOLDER_IDS", "")
			t.Setenv("GCP_PROJECT", "ops-review")
			t.Setenv("REFRESH_SCHEDULE", "@every 10m")
			t.Setenv(tt.key, tt.val)

			if _, err := NewConfig(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestParseFolderIDs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[int]string
		wantErr bool
	}{
		{"empty", "", map[int]string{}, false},
		{"two years", "2023=abc, 2024=def", map[int]string{2023: "abc", 2024: "def"}, false},
		{"trailing comma", "2024=def,", map[int]string{2024: "def"}, false},
		{"missing separator", "2024def", nil, true},
		{"bad year", "twenty=def", nil, true},
		{"empty id", "2024=", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFolderIDs(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFolderIDs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for y, id := range tt.want {
				if got[y] != id {
					t.Errorf("year %d = %q, want %q", y, got[y], id)
				}
			}
		})
	}
}

func TestSources_PLYears(t *testing.T) {
	s := Sources{PLFolders: map[int]string{2025: "c", 2023: "a", 2024: "b"}}
	got := s.PLYears()
	want := []int{2023, 2024, 2025}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PLYears() = %v, want %v", got, want)
		}
	}
}
