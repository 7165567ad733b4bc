package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// clearEnv unsets every variable the loader reads so host settings cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix+"_") || name == EnvGeminiAPIKeyShared || name == EnvAPIKeyLegacy {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Host() != DefaultHost {
		t.Errorf("Host() = %q, want %q", cfg.Host(), DefaultHost)
	}
	if len(cfg.AllowedOrigins()) != 0 {
		t.Errorf("AllowedOrigins() = %v, want none", cfg.AllowedOrigins())
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("LogLevel() = %q, want %q", cfg.LogLevel(), DefaultLogLevel)
	}
	if cfg.GeminiAPIKey() != "" {
		t.Errorf("GeminiAPIKey() = %q, want empty", cfg.GeminiAPIKey())
	}
	if cfg.GeminiModel() != DefaultGeminiModel {
		t.Errorf("GeminiModel() = %q", cfg.GeminiModel())
	}
	if cfg.GeminiTemperature() != DefaultGeminiTemperature {
		t.Errorf("GeminiTemperature() = %v", cfg.GeminiTemperature())
	}
	if cfg.GeminiTimeout() != DefaultGeminiTimeout {
		t.Errorf("GeminiTimeout() = %v", cfg.GeminiTimeout())
	}
	if cfg.ChatHistoryMaxChars() != DefaultChatHistoryMaxChars {
		t.Errorf("ChatHistoryMaxChars() = %d", cfg.ChatHistoryMaxChars())
	}
	if cfg.UploadMaxBytes() != DefaultUploadMaxBytes {
		t.Errorf("UploadMaxBytes() = %d", cfg.UploadMaxBytes())
	}
	if cfg.SessionIdleTTL() != DefaultSessionIdleTTL {
		t.Errorf("SessionIdleTTL() = %v", cfg.SessionIdleTTL())
	}
	if cfg.AnalysisTimeout() != DefaultAnalysisTimeout {
		t.Errorf("AnalysisTimeout() = %v", cfg.AnalysisTimeout())
	}
	if cfg.Offline() {
		t.Error("Offline() = true, want false by default")
	}
}

func TestNew_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv("INTEL_GEMINI_MODEL", "gemini-2.5-pro")
	t.Setenv("INTEL_GEMINI_TIMEOUT", "45s")
	t.Setenv("INTEL_GEMINI_REQUESTS_PER_MINUTE", "12")
	t.Setenv("INTEL_SESSION_IDLE_TTL", "2h")
	t.Setenv("INTEL_UPLOAD_MAX_BYTES", "1048576")
	t.Setenv("INTEL_HOST", "0.0.0.0")
	t.Setenv("INTEL_CORS_ALLOWED_ORIGINS", "https://player.example.com/, https://edit.example.com")
	t.Setenv("INTEL_OFFLINE", "true")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != 9090 {
		t.Errorf("Port() = %d, want 9090", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() = %q, want debug", cfg.LogLevel())
	}
	if cfg.GeminiModel() != "gemini-2.5-pro" {
		t.Errorf("GeminiModel() = %q", cfg.GeminiModel())
	}
	if cfg.GeminiTimeout() != 45*time.Second {
		t.Errorf("GeminiTimeout() = %v", cfg.GeminiTimeout())
	}
	if cfg.GeminiRequestsPerMinute() != 12 {
		t.Errorf("GeminiRequestsPerMinute() = %d", cfg.GeminiRequestsPerMinute())
	}
	if cfg.SessionIdleTTL() != 2*time.Hour {
		t.Errorf("SessionIdleTTL() = %v", cfg.SessionIdleTTL())
	}
	if cfg.UploadMaxBytes() != 1048576 {
		t.Errorf("UploadMaxBytes() = %d", cfg.UploadMaxBytes())
	}
	if cfg.Host() != "0.0.0.0" {
		t.Errorf("Host() = %q, want 0.0.0.0", cfg.Host())
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[0] != "https://player.example.com" || origins[1] != "https://edit.example.com" {
		t.Errorf("AllowedOrigins() = %v", origins)
	}
	if !cfg.Offline() {
		t.Error("Offline() = false, want true from INTEL_OFFLINE")
	}
}

func TestNew_APIKeyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"legacy only", map[string]string{EnvAPIKeyLegacy: "legacy"}, "legacy"},
		{"shared beats legacy", map[string]string{EnvAPIKeyLegacy: "legacy", EnvGeminiAPIKeyShared: "shared"}, "shared"},
		{"prefixed beats all", map[string]string{EnvAPIKeyLegacy: "legacy", EnvGeminiAPIKeyShared: "shared", EnvGeminiAPIKey: "prefixed"}, "prefixed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := New()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.GeminiAPIKey() != tt.want {
				t.Errorf("GeminiAPIKey() = %q, want %q", cfg.GeminiAPIKey(), tt.want)
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		value   string
		wantKey string
	}{
		{"port too high", EnvPort, "70000", KeyPort},
		{"port zero", EnvPort, "0", KeyPort},
		{"unknown log level", EnvLogLevel, "chatty", KeyLogLevel},
		{"negative rpm", "INTEL_GEMINI_REQUESTS_PER_MINUTE", "-1", KeyGeminiRPM},
		{"temperature out of range", "INTEL_GEMINI_TEMPERATURE", "3.5", KeyGeminiTemperature},
		{"zero ttl", "INTEL_SESSION_IDLE_TTL", "0s", KeySessionIdleTTL},
		{"zero upload limit", "INTEL_UPLOAD_MAX_BYTES", "0", KeyUploadMaxBytes},
		{"blank host", "INTEL_HOST", " ", KeyHost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := New()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.env, tt.value)
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error %q does not mention %s", err, tt.wantKey)
			}
		})
	}
}

func TestLoad_ConfigFileAndOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "intel.yaml")
	content := "port: 7000\ngemini:\n  model: file-model\n  timeout: 90s\nchat:\n  history_max_chars: 500\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(EnvPort, "7001")

	v := viper.New()
	v.Set(KeyConfigFile, path)
	v.Set(KeyLogLevel, "warn")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != 7001 {
		t.Errorf("Port() = %d, want env override 7001", cfg.Port())
	}
	if cfg.GeminiModel() != "file-model" {
		t.Errorf("GeminiModel() = %q, want file-model", cfg.GeminiModel())
	}
	if cfg.GeminiTimeout() != 90*time.Second {
		t.Errorf("GeminiTimeout() = %v, want 90s", cfg.GeminiTimeout())
	}
	if cfg.ChatHistoryMaxChars() != 500 {
		t.Errorf("ChatHistoryMaxChars() = %d, want 500", cfg.ChatHistoryMaxChars())
	}
	if cfg.LogLevel() != "warn" {
		t.Errorf("LogLevel() = %q, want warn", cfg.LogLevel())
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	v := viper.New()
	v.Set(KeyConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(v); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
