package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// TestConfig represents a test configuration structure.
type TestConfig struct {
	Config string `help:"Config file path"`

	StringField   string        `toml:"test.string_field" env:"STRING_FIELD"`
	BoolField     bool          `toml:"test.bool_field" env:"BOOL_FIELD"`
	IntField      int           `toml:"test.int_field" env:"INT_FIELD"`
	FloatField    float64       `toml:"test.float_field" env:"FLOAT_FIELD"`
	DurationField time.Duration `toml:"test.duration_field" env:"DURATION_FIELD"`
	SliceField    []string      `toml:"test.slice_field" env:"SLICE_FIELD"`

	NestedString string `toml:"nested.value" env:"NESTED_VALUE"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "pipewire-0"
bool_field = true
int_field = 42
float_field = 2.5
duration_field = "50ms"
slice_field = ["RGB", "RGBA", "BGRx"]

[nested]
value = "nested value"
`)

	config := &TestConfig{Config: path}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := &TestConfig{
		Config:        path,
		StringField:   "pipewire-0",
		BoolField:     true,
		IntField:      42,
		FloatField:    2.5,
		DurationField: 50 * time.Millisecond,
		SliceField:    []string{"RGB", "RGBA", "BGRx"},
		NestedString:  "nested value",
	}
	if !reflect.DeepEqual(config, want) {
		t.Errorf("LoadConfig() = %+v, want %+v", config, want)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("PWTEXTURE_STRING_FIELD", "env string")
	t.Setenv("PWTEXTURE_BOOL_FIELD", "false")
	t.Setenv("PWTEXTURE_INT_FIELD", "123")
	t.Setenv("PWTEXTURE_FLOAT_FIELD", "0.5")
	t.Setenv("PWTEXTURE_DURATION_FIELD", "2s")
	t.Setenv("PWTEXTURE_SLICE_FIELD", "a,b,c")
	t.Setenv("PWTEXTURE_NESTED_VALUE", "env nested")

	config := &TestConfig{BoolField: true}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := &TestConfig{
		StringField:   "env string",
		IntField:      123,
		FloatField:    0.5,
		DurationField: 2 * time.Second,
		SliceField:    []string{"a", "b", "c"},
		NestedString:  "env nested",
	}
	if !reflect.DeepEqual(config, want) {
		t.Errorf("LoadConfig() = %+v, want %+v", config, want)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
[test]
string_field = "toml value"
int_field = 1
duration_field = 250
`)
	t.Setenv("PWTEXTURE_INT_FIELD", "2")
	t.Setenv("PWTEXTURE_STRING_FIELD", "env value")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("string-field", "", "")
	if err := cmd.Flags().Set("string-field", "flag value"); err != nil {
		t.Fatalf("Set flag: %v", err)
	}

	config := &TestConfig{Config: path, StringField: "flag value"}
	if err := LoadConfig(config, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.StringField != "flag value" {
		t.Errorf("StringField = %q, CLI flag should win", config.StringField)
	}
	if config.IntField != 2 {
		t.Errorf("IntField = %d, env should override TOML", config.IntField)
	}
	if config.DurationField != 250*time.Millisecond {
		t.Errorf("DurationField = %v, bare TOML number should be milliseconds", config.DurationField)
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"pipewire": map[string]any{"remote": "pipewire-0"},
		"top":      "level",
	}

	tests := []struct {
		path string
		want any
	}{
		{"pipewire.remote", "pipewire-0"},
		{"top", "level"},
		{"pipewire.missing", nil},
		{"top.deeper", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSetFieldValueIgnoresMismatchedTypes(t *testing.T) {
	s := &TestConfig{IntField: 7, DurationField: time.Second}
	v := reflect.ValueOf(s).Elem()

	setFieldValue(v.FieldByName("IntField"), "not a number")
	setFieldValue(v.FieldByName("DurationField"), "soon")
	setFieldValueFromString(v.FieldByName("BoolField"), "maybe")

	if s.IntField != 7 || s.DurationField != time.Second || s.BoolField {
		t.Errorf("mismatched values changed fields: %+v", s)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":               "port",
		"PipewireRemote":     "pipewire-remote",
		"RelayFrameReserve":  "relay-frame-reserve",
		"CaptureLeakyQueue":  "capture-leaky-queue",
		"LoggingLevel":       "logging-level",
		"PipewireMediaRole":  "pipewire-media-role",
		"HostPollBudget":     "host-poll-budget",
		"MetricsEnabled":     "metrics-enabled",
		"PipewireIncludeApp": "pipewire-include-app",
		"LoggingAPI":         "logging-api",
		"HostFPS":            "host-fps",
		"HTTPTimeout":        "http-timeout",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	config := &TestConfig{Config: filepath.Join(t.TempDir(), "nonexistent.toml")}
	if err := LoadConfig(config, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeConfig(t, "[test\ninvalid toml syntax\n")
	if err := LoadConfig(&TestConfig{Config: path}, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    map[string]string
		level   string
	}{
		{
			name: "flat module keys",
			content: `
[logging]
level = "warn"
format = "json"
session = "debug"
capture = "error"
`,
			want:  map[string]string{"session": "debug", "capture": "error"},
			level: "warn",
		},
		{
			name: "modules table",
			content: `
[logging]
level = "debug"

[logging.modules]
negotiator = "info"
`,
			want:  map[string]string{"negotiator": "info"},
			level: "debug",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadLoggingConfig(writeConfig(t, tt.content))
			if cfg.Level != tt.level {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.level)
			}
			if !reflect.DeepEqual(cfg.Modules, tt.want) {
				t.Errorf("Modules = %v, want %v", cfg.Modules, tt.want)
			}
		})
	}
}

func TestReadLoggingConfigErrors(t *testing.T) {
	if _, err := ReadLoggingConfig(writeConfig(t, "[logging\n")); err == nil {
		t.Error("ReadLoggingConfig accepted invalid TOML")
	}
	if _, err := ReadLoggingConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("ReadLoggingConfig accepted a missing file")
	}

	cfg := LoadLoggingConfig("")
	if cfg.Level != "info" || cfg.Format != "text" || len(cfg.Modules) != 0 {
		t.Errorf("default config = %+v", cfg)
	}
}
