package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/fetcher/internal/core/config"
	"github.com/vietddude/fetcher/internal/telemetry"
)

var (
	cfgPath string
	isDebug bool
	tracing bool

	// appCfg is loaded once before any command runs.
	appCfg *config.AppConfig

	// shutdownTracing is set by the root pre-run when --trace is given.
	shutdownTracing func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "fetcher",
	Short: "Retrying fetcher",
	Long: `Fetcher fetches resources over HTTP and gRPC, retrying failed attempts
with exponential backoff. It can run one-shot fetches or poll configured jobs,
keeping an audit log and a dead-letter queue of fetches that never succeeded.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&tracing, "trace", false, "log OpenTelemetry spans")
}

func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := loadConfig(cmd)
	if err != nil {
		stylelog.InitDefault()
		return err
	}
	appCfg = cfg
	initLogging(cfg.Logging)

	if tracing {
		shutdownTracing = telemetry.Install(telemetry.Config{ServiceName: "fetcher"}, slog.Default())
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if shutdownTracing == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return shutdownTracing(ctx)
}

// loadConfig reads --config. A missing default file is not an error, so
// one-shot commands work without any configuration.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !cmd.Flags().Changed("config") && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func initLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if isDebug {
		level = slog.LevelDebug
	} else {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(cfg.Level)); err == nil {
			level = parsed
		}
	}

	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}
