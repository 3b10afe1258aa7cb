package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hunchbank/supportd/internal/output"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/risk"
	"github.com/hunchbank/supportd/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "supportd",
	Short: "Customer-support automation with human review",
	Long: `supportd processes incoming customer-support email: it classifies
intent, scores refund requests for fraud, auto-handles the safe cases,
and queues everything risky for human review. Reviewers work the queue
through the CLI, the HTTP API, or MCP tools.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/supportd/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "supportd")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SUPPORTD")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "supportd")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "supportd.db"))
	viper.SetDefault("pid_path", filepath.Join(defaultConfigDir, "supportd.pid"))

	viper.SetDefault("api.port", 8080)

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	viper.SetDefault("pipeline.confidence_threshold", 0.9)
	viper.SetDefault("pipeline.poll_interval", "60s")
	viper.SetDefault("pipeline.high_risk_intents",
		[]string{"refund_request", "payment_dispute", "subscription_cancel"})

	viper.SetDefault("risk.confidence_medium", 0.6)
	viper.SetDefault("risk.amount_medium", 500)
	viper.SetDefault("risk.amount_high", 1000)

	viper.SetDefault("refund.auto_approve_score", 0.3)
	viper.SetDefault("refund.auto_approve_amount_cents", 2000)
	viper.SetDefault("refund.history_window", "1440h")

	viper.SetDefault("notify.buffer", 100)
	viper.SetDefault("notify.recipients", []string{})
	viper.SetDefault("notify.urgent_recipients", []string{})

	viper.SetDefault("smtp.primary.host", "")
	viper.SetDefault("smtp.primary.port", 587)
	viper.SetDefault("smtp.primary.username", "")
	viper.SetDefault("smtp.primary.password", "")
	viper.SetDefault("smtp.primary.from", "")
	viper.SetDefault("smtp.fallback.host", "")
	viper.SetDefault("smtp.fallback.port", 587)
	viper.SetDefault("smtp.fallback.username", "")
	viper.SetDefault("smtp.fallback.password", "")
	viper.SetDefault("smtp.fallback.from", "")

	viper.SetDefault("slack.webhook_url", "")
	viper.SetDefault("slack.channel", "")
	viper.SetDefault("slack.urgent_channel", "")

	viper.SetDefault("payments.fake", false)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version commands run without a db.
}

// rootRun handles `supportd` with no subcommand: show the stats dashboard.
func rootRun(cmd *cobra.Command) error {
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return reviewStatsRun()
}

// getStore returns the shared store, initializing it on first call. When the
// SQLite database cannot be opened, a memory store keeps the process useful
// for the current run; the degradation is reported once.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err == nil {
		if merr := s.Migrate(rootCmd.Context()); merr == nil {
			dataStore = s
			return dataStore, nil
		} else {
			_ = s.Close()
			err = fmt.Errorf("migrate database: %w", merr)
		}
	}

	ui.Warning("database unavailable, state will not survive restart: %v", err)
	dataStore = store.NewMemoryStore()
	return dataStore, nil
}

// newSystem builds the review system over the shared store for CLI use.
// Commands that only read or decide reviews need no notifier or bus.
func newSystem() (*review.System, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	assessor := risk.NewAssessor(riskConfig())
	sys := review.NewSystem(assessor, review.NewQueue(s), nil, s, nil, newLogger())
	return sys, s, nil
}

func riskConfig() risk.Config {
	cfg := risk.DefaultConfig()
	if intents := viper.GetStringSlice("pipeline.high_risk_intents"); len(intents) > 0 {
		cfg.HighRiskIntents = intents
	}
	if v := viper.GetFloat64("risk.confidence_medium"); v > 0 {
		cfg.ConfidenceMedium = v
	}
	if v := viper.GetFloat64("risk.amount_medium"); v > 0 {
		cfg.AmountMedium = v
	}
	if v := viper.GetFloat64("risk.amount_high"); v > 0 {
		cfg.AmountHigh = v
	}
	return cfg
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
