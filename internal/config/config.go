// Package config provides configuration management for the intel service.
// Values come from defaults, an optional config file, INTEL_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 8787
	DefaultLogLevel            = "info"
	DefaultGeminiBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel         = "gemini-3-flash-preview"
	DefaultGeminiTemperature   = 0.1
	DefaultGeminiTimeout       = 5 * time.Minute
	DefaultGeminiRPM           = 0 // unlimited
	DefaultChatHistoryMaxChars = 16000
	DefaultUploadMaxBytes      = 200 * 1024 * 1024 // 200MB
	DefaultSessionIdleTTL      = 30 * time.Minute
	DefaultAnalysisTimeout     = 10 * time.Minute

	// Environment variable prefix; "gemini.api_key" maps to INTEL_GEMINI_API_KEY
	EnvPrefix = "INTEL"

	// Environment variable names
	EnvPort         = "INTEL_PORT"
	EnvLogLevel     = "INTEL_LOG_LEVEL"
	EnvGeminiAPIKey = "INTEL_GEMINI_API_KEY"

	// Fallback key variables honoured when INTEL_GEMINI_API_KEY is unset
	EnvGeminiAPIKeyShared = "GEMINI_API_KEY"
	EnvAPIKeyLegacy       = "API_KEY"
)

// Configuration keys
const (
	KeyConfigFile          = "config"
	KeyHost                = "host"
	KeyPort                = "port"
	KeyLogLevel            = "log_level"
	KeyGeminiAPIKey        = "gemini.api_key"
	KeyGeminiBaseURL       = "gemini.base_url"
	KeyGeminiModel         = "gemini.model"
	KeyGeminiTemperature   = "gemini.temperature"
	KeyGeminiTimeout       = "gemini.timeout"
	KeyGeminiRPM           = "gemini.requests_per_minute"
	KeyChatHistoryMaxChars = "chat.history_max_chars"
	KeyUploadMaxBytes      = "upload.max_bytes"
	KeySessionIdleTTL      = "session.idle_ttl"
	KeyAnalysisTimeout     = "analysis.timeout"
	KeyCORSAllowedOrigins  = "cors.allowed_origins"
	KeyOffline             = "offline"
)

// Config defines the application configuration interface
type Config interface {
	Host() string
	Port() int
	LogLevel() string
	GeminiAPIKey() string
	GeminiBaseURL() string
	GeminiModel() string
	GeminiTemperature() float64
	GeminiTimeout() time.Duration
	GeminiRequestsPerMinute() int
	ChatHistoryMaxChars() int
	UploadMaxBytes() int64
	SessionIdleTTL() time.Duration
	AnalysisTimeout() time.Duration
	AllowedOrigins() []string
	Offline() bool
}

// ViperConfig is a validated snapshot of the layered configuration
type ViperConfig struct {
	host              string
	port              int
	logLevel          string
	geminiAPIKey      string
	geminiBaseURL     string
	geminiModel       string
	geminiTemperature float64
	geminiTimeout     time.Duration
	geminiRPM         int
	historyMaxChars   int
	uploadMaxBytes    int64
	sessionIdleTTL    time.Duration
	analysisTimeout   time.Duration
	allowedOrigins    []string
	offline           bool
}

// New loads configuration from defaults and the environment
func New() (*ViperConfig, error) {
	return Load(viper.New())
}

// Load reads configuration through v. Callers may bind flags on v first.
func Load(v *viper.Viper) (*ViperConfig, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyGeminiAPIKey, EnvGeminiAPIKey, EnvGeminiAPIKeyShared, EnvAPIKeyLegacy); err != nil {
		return nil, fmt.Errorf("bind %s: %w", KeyGeminiAPIKey, err)
	}

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &ViperConfig{
		host:              strings.TrimSpace(v.GetString(KeyHost)),
		port:              v.GetInt(KeyPort),
		logLevel:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		geminiAPIKey:      strings.TrimSpace(v.GetString(KeyGeminiAPIKey)),
		geminiBaseURL:     strings.TrimRight(v.GetString(KeyGeminiBaseURL), "/"),
		geminiModel:       v.GetString(KeyGeminiModel),
		geminiTemperature: v.GetFloat64(KeyGeminiTemperature),
		geminiTimeout:     v.GetDuration(KeyGeminiTimeout),
		geminiRPM:         v.GetInt(KeyGeminiRPM),
		historyMaxChars:   v.GetInt(KeyChatHistoryMaxChars),
		uploadMaxBytes:    v.GetInt64(KeyUploadMaxBytes),
		sessionIdleTTL:    v.GetDuration(KeySessionIdleTTL),
		analysisTimeout:   v.GetDuration(KeyAnalysisTimeout),
		allowedOrigins:    splitOrigins(v.GetStringSlice(KeyCORSAllowedOrigins)),
		offline:           v.GetBool(KeyOffline),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHost, DefaultHost)
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyGeminiBaseURL, DefaultGeminiBaseURL)
	v.SetDefault(KeyGeminiModel, DefaultGeminiModel)
	v.SetDefault(KeyGeminiTemperature, DefaultGeminiTemperature)
	v.SetDefault(KeyGeminiTimeout, DefaultGeminiTimeout)
	v.SetDefault(KeyGeminiRPM, DefaultGeminiRPM)
	v.SetDefault(KeyChatHistoryMaxChars, DefaultChatHistoryMaxChars)
	v.SetDefault(KeyUploadMaxBytes, DefaultUploadMaxBytes)
	v.SetDefault(KeySessionIdleTTL, DefaultSessionIdleTTL)
	v.SetDefault(KeyAnalysisTimeout, DefaultAnalysisTimeout)
	v.SetDefault(KeyCORSAllowedOrigins, []string{})
	v.SetDefault(KeyOffline, false)
}

// splitOrigins flattens comma separated entries, as INTEL_CORS_ALLOWED_ORIGINS
// arrives as a single string.
func splitOrigins(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			origin = strings.TrimRight(strings.TrimSpace(origin), "/")
			if origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}

func (c *ViperConfig) validate() error {
	var errs []error
	if c.host == "" {
		errs = append(errs, fmt.Errorf("invalid %s: must not be empty", KeyHost))
	}
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, fmt.Errorf("invalid %s: port must be between 1 and 65535", KeyPort))
	}
	switch c.logLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid %s: %q", KeyLogLevel, c.logLevel))
	}
	if c.geminiModel == "" {
		errs = append(errs, fmt.Errorf("invalid %s: must not be empty", KeyGeminiModel))
	}
	if c.geminiTemperature < 0 || c.geminiTemperature > 2 {
		errs = append(errs, fmt.Errorf("invalid %s: must be between 0 and 2", KeyGeminiTemperature))
	}
	if c.geminiRPM < 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must not be negative", KeyGeminiRPM))
	}
	if c.historyMaxChars < 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must not be negative", KeyChatHistoryMaxChars))
	}
	if c.uploadMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid %s: must be positive", KeyUploadMaxBytes))
	}
	for key, d := range map[string]time.Duration{
		KeyGeminiTimeout:   c.geminiTimeout,
		KeySessionIdleTTL:  c.sessionIdleTTL,
		KeyAnalysisTimeout: c.analysisTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: duration must be positive", key))
		}
	}
	return errors.Join(errs...)
}

// Host returns the listen address; loopback unless explicitly widened
func (c *ViperConfig) Host() string {
	return c.host
}

// Port returns the HTTP server port
func (c *ViperConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *ViperConfig) LogLevel() string {
	return c.logLevel
}

// GeminiAPIKey returns the model API key
func (c *ViperConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *ViperConfig) GeminiBaseURL() string {
	return c.geminiBaseURL
}

func (c *ViperConfig) GeminiModel() string {
	return c.geminiModel
}

func (c *ViperConfig) GeminiTemperature() float64 {
	return c.geminiTemperature
}

func (c *ViperConfig) GeminiTimeout() time.Duration {
	return c.geminiTimeout
}

// GeminiRequestsPerMinute returns the outbound request budget; 0 disables limiting
func (c *ViperConfig) GeminiRequestsPerMinute() int {
	return c.geminiRPM
}

// ChatHistoryMaxChars caps the rendered conversation sent with each chat; 0 disables the cap
func (c *ViperConfig) ChatHistoryMaxChars() int {
	return c.historyMaxChars
}

func (c *ViperConfig) UploadMaxBytes() int64 {
	return c.uploadMaxBytes
}

func (c *ViperConfig) SessionIdleTTL() time.Duration {
	return c.sessionIdleTTL
}

func (c *ViperConfig) AnalysisTimeout() time.Duration {
	return c.analysisTimeout
}

// AllowedOrigins lists browser origins accepted in addition to loopback ones
func (c *ViperConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

// Offline reports whether the canned stub client replaces the hosted model.
// It must be requested explicitly; a missing API key is an error otherwise.
func (c *ViperConfig) Offline() bool {
	return c.offline
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
