package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "storage", map[string]bool{"storage": true}},
		{"multiple", "storage,cache", map[string]bool{"storage": true, "cache": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " storage , cache ", map[string]bool{"storage": true, "cache": true}},
		{"uppercase normalized", "STORAGE,Cache", map[string]bool{"storage": true, "cache": true}},
		{"empty segments", "storage,,cache", map[string]bool{"storage": true, "cache": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("len(got) = %d, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	// Save and restore.
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("storage,cache")

	if !Enabled("storage") {
		t.Error("storage should be enabled")
	}
	if !Enabled("cache") {
		t.Error("cache should be enabled")
	}
	if Enabled("config") {
		t.Error("config should not be enabled")
	}
	if Enabled("all") {
		t.Error("all should not be enabled (not in categories)")
	}
	if got := Categories(); len(got) != 2 || got[0] != "cache" || got[1] != "storage" {
		t.Errorf("Categories() = %v, want [cache storage]", got)
	}
}

func TestEnabled_All(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("all")

	if !Enabled("storage") {
		t.Error("storage should be enabled via 'all'")
	}
	if !Enabled("cache") {
		t.Error("cache should be enabled via 'all'")
	}
	if !Enabled("anything") {
		t.Error("anything should be enabled via 'all'")
	}
}

func TestEnabled_Empty(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	if Enabled("storage") {
		t.Error("nothing should be enabled when no categories set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "json", slog.LevelInfo))
	logger.Info("resolved", "client_id", "svc-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["client_id"] != "svc-1" {
		t.Errorf("client_id = %v, want svc-1", rec["client_id"])
	}
}

func TestNewHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "text", slog.LevelWarn))
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at WARN level: %q", buf.String())
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	// Should not panic or produce output.
	Log("storage", "test message", "key", "value")
	Trace("storage", "trace message", "key", "value")
}

func TestSetCategories(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("cache")
	restore := SetCategories("auth")
	if !Enabled("auth") || Enabled("cache") {
		t.Errorf("after SetCategories: Categories() = %v, want [auth]", Categories())
	}
	restore()
	if Enabled("auth") || !Enabled("cache") {
		t.Errorf("after restore: Categories() = %v, want [cache]", Categories())
	}
}
