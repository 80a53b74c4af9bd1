package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_HistoryLimit_TooLow(t *testing.T) {
	cfg := Defaults()
	cfg.General.HistoryLimit = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for historyLimit=0")
	}
}

func TestValidate_MaxConcurrentMessages_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxConcurrentMessages = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentMessages=0")
	}

	cfg = Defaults()
	cfg.General.MaxConcurrentMessages = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentMessages=999")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Web.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.Web.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_MissingAssistantBaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.Assistant.BaseURL = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty assistant.baseUrl")
	}
}

func TestValidate_TelegramEnabledWithoutToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Assistant.BaseURL = "http://assistant.test:9000"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Assistant.BaseURL != "http://assistant.test:9000" {
		t.Fatalf("expected 'http://assistant.test:9000', got %q", loaded.Assistant.BaseURL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"historyLimit": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for historyLimit=0")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("EDGECHAT_TEST_TOKEN", "tok-from-env")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"channels": {
			"telegram": {"enabled": true, "token": "${EDGECHAT_TEST_TOKEN}"}
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tok-from-env" {
		t.Fatalf("expected env-expanded token, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("EDGECHAT_UNSET_VAR")
	got := ExpandEnvVars("${EDGECHAT_UNSET_VAR:-fallback}")
	if got != "fallback" {
		t.Fatalf("expected 'fallback', got %q", got)
	}
}

func TestExpandEnvVars_KeepsUnknown(t *testing.T) {
	os.Unsetenv("EDGECHAT_UNSET_VAR")
	got := ExpandEnvVars("${EDGECHAT_UNSET_VAR}")
	if got != "${EDGECHAT_UNSET_VAR}" {
		t.Fatalf("expected literal kept, got %q", got)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "general.logLevel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "info" {
		t.Fatalf("expected 'info', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "assistant.baseUrl", "http://other:9999"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Assistant.BaseURL != "http://other:9999" {
		t.Fatalf("expected 'http://other:9999', got %q", cfg.Assistant.BaseURL)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.cli.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Channels.CLI.Enabled {
		t.Fatal("expected channels.cli.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.historyLimit", "50"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.General.HistoryLimit != 50 {
		t.Fatalf("expected 50, got %d", cfg.General.HistoryLimit)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Assistant.APIKey = "sk-1234567890abcdefghijklmnop"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Assistant.APIKey == cfg.Assistant.APIKey {
		t.Fatal("assistant API key should be masked")
	}
	// Verify original is untouched
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "assistant.baseUrl", "store.dbPath"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[1] != "123" || list[3] != "456" {
		t.Fatalf("unexpected values: %v", list)
	}
}
