package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hunchbank/supportd/internal/api"
	"github.com/hunchbank/supportd/internal/daemon"
	"github.com/hunchbank/supportd/internal/events"
	"github.com/hunchbank/supportd/internal/handlers"
	"github.com/hunchbank/supportd/internal/mailbox"
	"github.com/hunchbank/supportd/internal/notify"
	"github.com/hunchbank/supportd/internal/payments"
	"github.com/hunchbank/supportd/internal/pipeline"
	"github.com/hunchbank/supportd/internal/retry"
	"github.com/hunchbank/supportd/internal/review"
	"github.com/hunchbank/supportd/internal/risk"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supportd daemon",
	Long: `Run the full processing daemon: the email pipeline, the notification
dispatcher, and the HTTP API. Messages are accepted over
POST /api/v1/emails and polled by the pipeline.

A PID file prevents a second daemon from starting against the same
database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			port, _ := cmd.Flags().GetInt("port")
			viper.Set("api.port", port)
		}
		return runDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("port", "p", 8080, "API port to listen on")
}

func runDaemon(parent context.Context) error {
	logger := newLogger()

	pf := daemon.NewPIDFile(viper.GetString("pid_path"))
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	st, err := getStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cls := newClassifier()
	if cls == nil {
		return fmt.Errorf("anthropic API key not configured (set SUPPORTD_ANTHROPIC_API_KEY or anthropic.api_key)")
	}

	bus := events.NewBus()
	dispatcher := notify.NewDispatcher(notifyChannels(logger), st, logger, viper.GetInt("notify.buffer"))
	dispatcher.Start()
	defer dispatcher.Stop()

	assessor := risk.NewAssessor(riskConfig())
	system := review.NewSystem(assessor, review.NewQueue(st), dispatcher, st, bus, logger)

	var refunds *handlers.RefundHandler
	if viper.GetBool("payments.fake") {
		refunds = handlers.NewRefundHandler(payments.NewFakeClient(), risk.NewScorer(), refundConfig(), logger)
		logger.Warn("using fake payments client, refunds are not real")
	}

	fetcher := mailbox.NewMemoryFetcher()
	pipe := pipeline.New(fetcher, cls, system, refunds, st, bus, pipelineConfig(), logger)

	apiServer := api.NewServer(system, st, logger)
	apiServer.SetIngest(fetcher.Deliver)

	addr := fmt.Sprintf(":%d", viper.GetInt("api.port"))
	httpSrv := &http.Server{Addr: addr, Handler: apiServer.Router()}

	ctx, stop := signal.NotifyContext(parent, shutdownSignals()...)
	defer stop()

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	go func() { _ = pipe.Run(ctx) }()

	ui.Success("supportd running (pid %d), API on %s", os.Getpid(), addr)

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		return fmt.Errorf("api server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", "error", err)
	}
	return nil
}

func pipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ConfidenceThreshold = viper.GetFloat64("pipeline.confidence_threshold")
	cfg.PollInterval = viper.GetDuration("pipeline.poll_interval")
	if intents := viper.GetStringSlice("pipeline.high_risk_intents"); len(intents) > 0 {
		cfg.HighRiskIntents = intents
	}
	return cfg
}

func refundConfig() handlers.RefundConfig {
	cfg := handlers.DefaultRefundConfig()
	cfg.AutoApproveScore = viper.GetFloat64("refund.auto_approve_score")
	cfg.AutoApproveAmountCents = viper.GetInt64("refund.auto_approve_amount_cents")
	if w := viper.GetDuration("refund.history_window"); w > 0 {
		cfg.HistoryWindow = w
	}
	return cfg
}

// notifyChannels builds the configured notification channels. An unconfigured
// channel is simply absent; a daemon with no channels still queues reviews.
func notifyChannels(logger *slog.Logger) []notify.Channel {
	var channels []notify.Channel

	email := emailConfig()
	if email.Primary.Configured() {
		channels = append(channels, notify.NewEmailChannel(email, logger))
	}

	slack := slackConfig()
	if slack.WebhookURL != "" {
		channels = append(channels, notify.NewSlackChannel(slack, logger))
	}

	if len(channels) == 0 {
		logger.Warn("no notification channels configured")
	}
	return channels
}

func emailConfig() notify.EmailConfig {
	return notify.EmailConfig{
		Primary:          smtpProfile("smtp.primary"),
		Fallback:         smtpProfile("smtp.fallback"),
		Recipients:       viper.GetStringSlice("notify.recipients"),
		UrgentRecipients: viper.GetStringSlice("notify.urgent_recipients"),
		Retry:            retry.Default(),
	}
}

func smtpProfile(prefix string) notify.SMTPProfile {
	return notify.SMTPProfile{
		Host:     viper.GetString(prefix + ".host"),
		Port:     viper.GetInt(prefix + ".port"),
		Username: viper.GetString(prefix + ".username"),
		Password: viper.GetString(prefix + ".password"),
		From:     viper.GetString(prefix + ".from"),
	}
}

func slackConfig() notify.SlackConfig {
	return notify.SlackConfig{
		WebhookURL:    viper.GetString("slack.webhook_url"),
		Channel:       viper.GetString("slack.channel"),
		UrgentChannel: viper.GetString("slack.urgent_channel"),
	}
}
