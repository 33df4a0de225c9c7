package cliconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Address:           "mailbox://app/logs",
				BatchPostingLimit: intPtr(25),
				Period:            "5s",
				Gzip:              &trueVal,
			},
			changed: map[string]bool{},
			expected: Config{
				Address:           "mailbox://app/logs",
				BatchPostingLimit: 25,
				Period:            5 * time.Second,
				Gzip:              true,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Address:           "mailbox://file",
				BatchPostingLimit: intPtr(25),
			},
			changed: map[string]bool{"address": true},
			initial: Config{
				Address:           "mailbox://flag",
				BatchPostingLimit: 5,
			},
			expected: Config{
				Address:           "mailbox://flag", // unchanged because flag was set
				BatchPostingLimit: 25,
			},
		},
		{
			name:       "zero values leave defaults alone",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    Config{BatchPostingLimit: 5, Period: 2 * time.Second},
			expected:   Config{BatchPostingLimit: 5, Period: 2 * time.Second},
		},
		{
			name:       "returns error for negative batch size",
			fileConfig: FileConfig{BatchPostingLimit: intPtr(-2)},
			changed:    map[string]bool{},
			initial:    Config{BatchPostingLimit: 5},
			wantErr:    true,
		},
		{
			name:       "returns error for negative max retries",
			fileConfig: FileConfig{MaxRetries: intPtr(-1)},
			changed:    map[string]bool{},
			wantErr:    true,
		},
		{
			name:       "explicit zero is applied",
			fileConfig: FileConfig{QueueLimit: intPtr(0), MaxRetries: intPtr(0)},
			changed:    map[string]bool{},
			initial:    Config{QueueLimit: 100, MaxRetries: 3},
			expected:   Config{QueueLimit: 0, MaxRetries: 0},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{ShutdownTimeout: "forever"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
		{
			name: "handles all field types correctly",
			fileConfig: FileConfig{
				Address:           "forward://127.0.0.1:24224/app",
				BatchPostingLimit: intPtr(10),
				Period:            "1s",
				QueueLimit:        intPtr(50),
				DeliveryTimeout:   "2s",
				ShutdownTimeout:   "3s",
				MaxRetries:        intPtr(2),
				RetryBackoff:      "10ms",
				RetryBackoffMax:   "1s",
				MinimumLevel:      "Error",
				Gzip:              &falseVal,
				Files:             []string{"/var/log/app.log"},
				Once:              &trueVal,
				MetricsListen:     "127.0.0.1:9100",
				LogLevel:          "warn",
			},
			changed: map[string]bool{},
			initial: Config{Gzip: true},
			expected: Config{
				Address:           "forward://127.0.0.1:24224/app",
				BatchPostingLimit: 10,
				Period:            time.Second,
				QueueLimit:        50,
				DeliveryTimeout:   2 * time.Second,
				ShutdownTimeout:   3 * time.Second,
				MaxRetries:        2,
				RetryBackoff:      10 * time.Millisecond,
				RetryBackoffMax:   time.Second,
				MinimumLevel:      "Error",
				Gzip:              false,
				Files:             []string{"/var/log/app.log"},
				Once:              true,
				MetricsListen:     "127.0.0.1:9100",
				LogLevel:          "warn",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyFileConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyFileConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && !reflect.DeepEqual(cfg, tt.expected) {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
address = "https://collector.example.com/ingest"
batch_posting_limit = 50
period = "5s"
queue_limit = 10000
minimum_level = "Information"
gzip = true
files = ["/var/log/a.log", "/var/log/b.log"]
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Address != "https://collector.example.com/ingest" {
		t.Errorf("Address = %v", fc.Address)
	}
	if fc.BatchPostingLimit == nil || *fc.BatchPostingLimit != 50 {
		t.Errorf("BatchPostingLimit = %v, want 50", fc.BatchPostingLimit)
	}
	if fc.Period != "5s" {
		t.Errorf("Period = %v, want 5s", fc.Period)
	}
	if fc.QueueLimit == nil || *fc.QueueLimit != 10000 {
		t.Errorf("QueueLimit = %v, want 10000", fc.QueueLimit)
	}
	if fc.MaxRetries != nil {
		t.Errorf("MaxRetries = %v, want nil when absent", *fc.MaxRetries)
	}
	if fc.MinimumLevel != "Information" {
		t.Errorf("MinimumLevel = %v, want Information", fc.MinimumLevel)
	}
	if fc.Gzip == nil || *fc.Gzip != true {
		t.Errorf("Gzip = %v, want true", fc.Gzip)
	}
	if len(fc.Files) != 2 {
		t.Errorf("Files = %v, want 2 entries", fc.Files)
	}
	if fc.Once != nil {
		t.Errorf("Once = %v, want nil when absent", fc.Once)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
address = "mailbox://x"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".logsink") {
		t.Errorf("DefaultConfigPath() = %v, should contain .logsink", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}
	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
