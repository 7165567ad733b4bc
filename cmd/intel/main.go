package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heimdex/heimdex-intel/internal/analysis"
	"github.com/heimdex/heimdex-intel/internal/config"
	"github.com/heimdex/heimdex-intel/internal/logging"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app carries the state shared by subcommands once flags are parsed.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

func rootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "intel",
		Short:         "Video intelligence service: detections, playback sync and grounded chat",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", config.Version, config.GitCommit, config.BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a YAML, TOML or JSON config file")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("model", config.DefaultGeminiModel, "Gemini model identifier")
	flags.Bool("offline", false, "answer with canned stub results instead of calling Gemini")

	for key, flag := range map[string]string{
		config.KeyConfigFile:  "config",
		config.KeyLogLevel:    "log-level",
		config.KeyGeminiModel: "model",
		config.KeyOffline:     "offline",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(a.v)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.cfg = cfg
		a.logger = logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())
		slog.SetDefault(a.logger)
		return nil
	}

	root.AddCommand(serveCommand(a), analyzeCommand(a))
	return root
}

// analysisClient returns the Gemini client, or the canned stub when offline
// mode was requested. A missing API key is an error otherwise.
func (a *app) analysisClient() (analysis.Client, string, error) {
	logger := logging.WithComponent(a.logger, "analysis")
	if a.cfg.Offline() {
		logger.Warn("offline mode requested, results are canned stub output")
		return analysis.NewStubClient(logger), "offline", nil
	}
	if a.cfg.GeminiAPIKey() == "" {
		return nil, "", fmt.Errorf("%w: set %s or pass --offline", analysis.ErrEmptyAPIKey, config.EnvGeminiAPIKey)
	}

	client, err := analysis.NewGeminiClient(analysis.GeminiConfig{
		APIKey:            a.cfg.GeminiAPIKey(),
		BaseURL:           a.cfg.GeminiBaseURL(),
		Model:             a.cfg.GeminiModel(),
		Temperature:       a.cfg.GeminiTemperature(),
		Timeout:           a.cfg.GeminiTimeout(),
		RequestsPerMinute: a.cfg.GeminiRequestsPerMinute(),
		HistoryMaxChars:   a.cfg.ChatHistoryMaxChars(),
		Logger:            logger,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create Gemini client: %w", err)
	}
	logger.Info("gemini client ready",
		"model", client.Model(),
		"api_key", logging.SanitizeToken(a.cfg.GeminiAPIKey()),
		"requests_per_minute", a.cfg.GeminiRequestsPerMinute(),
	)
	return client, client.Model(), nil
}
