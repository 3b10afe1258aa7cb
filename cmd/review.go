package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hunchbank/supportd/internal/output"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the human-review queue",
	Long: `List, inspect, and decide pending reviews.

Running bare 'supportd review' is the same as 'supportd review list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun()
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun()
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show full detail for one review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(args[0])
	},
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Approve a pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewAcceptRun(args[0])
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRejectRun(args[0])
	},
}

var reviewModifyCmd = &cobra.Command{
	Use:   "modify <id> <intent>",
	Short: "Correct a review's intent and approve it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewModifyRun(args[0], args[1])
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate review statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewStatsRun()
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewAcceptCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewModifyCmd)
	reviewCmd.AddCommand(reviewStatsCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewListRun() error {
	sys, _, err := newSystem()
	if err != nil {
		return err
	}

	pending, err := sys.Pending(context.Background())
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		ui.Info("No pending reviews.")
		return nil
	}

	table := ui.Table([]string{"ID", "From", "Intent", "Conf", "Risk", "Age"})
	for _, r := range pending {
		table.Append([]string{
			output.Cyan(r.ID),
			r.Email.From,
			r.Intent,
			fmt.Sprintf("%.2f", r.Confidence),
			output.RiskColor(string(r.RiskLevel)),
			timeAgo(r.CreatedAt),
		})
	}
	table.Render()
	return nil
}

func reviewShowRun(id string) error {
	sys, _, err := newSystem()
	if err != nil {
		return err
	}
	ctx := context.Background()

	r, err := sys.Get(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Review:     %s\n", output.Cyan(r.ID))
	fmt.Fprintf(ui.Out, "Status:     %s\n", output.StatusColor(string(r.Status)))
	fmt.Fprintf(ui.Out, "From:       %s\n", r.Email.From)
	fmt.Fprintf(ui.Out, "Subject:    %s\n", r.Email.Subject)
	fmt.Fprintf(ui.Out, "Intent:     %s (confidence %.2f)\n", r.Intent, r.Confidence)
	fmt.Fprintf(ui.Out, "Risk level: %s\n", output.RiskColor(string(r.RiskLevel)))
	fmt.Fprintf(ui.Out, "Created:    %s (%s)\n", r.CreatedAt.Format(time.RFC3339), timeAgo(r.CreatedAt))
	if r.ProcessedAt != nil {
		fmt.Fprintf(ui.Out, "Processed:  %s\n", r.ProcessedAt.Format(time.RFC3339))
	}

	if r.Assessment != nil {
		fmt.Fprintf(ui.Out, "\nFraud score: %s\n", output.ScoreColor(r.Assessment.FraudScore))
		if len(r.Assessment.RiskFactors) > 0 {
			fmt.Fprintf(ui.Out, "Factors:     %s\n", strings.Join(r.Assessment.RiskFactors, ", "))
		}
		if r.Assessment.ChargeID != "" {
			fmt.Fprintf(ui.Out, "Charge:      %s ($%.2f requested)\n",
				r.Assessment.ChargeID, float64(r.Assessment.AmountCents)/100)
		}
	}

	if len(r.Entities) > 0 {
		fmt.Fprintln(ui.Out, "\nExtracted details:")
		keys := make([]string, 0, len(r.Entities))
		for k := range r.Entities {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(ui.Out, "  %s: %s\n", k, r.Entities[k])
		}
	}

	fmt.Fprintf(ui.Out, "\n%s\n", r.Email.Body)

	history, err := sys.History(ctx, id)
	if err == nil && len(history) > 0 {
		fmt.Fprintln(ui.Out, "\nHistory:")
		for _, h := range history {
			line := fmt.Sprintf("  %s  %s", h.Timestamp.Format("2006-01-02 15:04"), h.Action)
			if h.Details != "" {
				line += "  " + h.Details
			}
			fmt.Fprintln(ui.Out, line)
		}
	}
	return nil
}

func reviewAcceptRun(id string) error {
	sys, _, err := newSystem()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would accept review %s", id)
		return nil
	}

	out, err := sys.Accept(context.Background(), id)
	if err != nil {
		return err
	}
	ui.Success("Accepted %s (%s)", id, out.Intent)
	return nil
}

func reviewRejectRun(id string) error {
	sys, _, err := newSystem()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would reject review %s", id)
		return nil
	}

	if _, err := sys.Reject(context.Background(), id); err != nil {
		return err
	}
	ui.Success("Rejected %s", id)
	return nil
}

func reviewModifyRun(id, intent string) error {
	sys, _, err := newSystem()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would modify review %s to intent %s", id, intent)
		return nil
	}

	out, err := sys.Modify(context.Background(), id, intent)
	if err != nil {
		return err
	}
	ui.Success("Modified %s, approved as %s", id, out.Intent)
	return nil
}

func reviewStatsRun() error {
	sys, _, err := newSystem()
	if err != nil {
		return err
	}

	stats, err := sys.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Pending:    %d\n", stats.TotalPending)
	fmt.Fprintf(ui.Out, "Processed:  %d (%s %d / %s %d / %s %d)\n",
		stats.TotalProcessed,
		output.Green("accepted"), stats.Accepted,
		output.Red("rejected"), stats.Rejected,
		output.Cyan("modified"), stats.Modified)
	fmt.Fprintf(ui.Out, "Risk:       %s %d / %s %d / %s %d\n",
		output.RiskColor("high"), stats.HighRisk,
		output.RiskColor("medium"), stats.MediumRisk,
		output.RiskColor("low"), stats.LowRisk)
	fmt.Fprintf(ui.Out, "Today:      %d\n", stats.TodayCount)

	if len(stats.IntentCounts) > 0 {
		fmt.Fprintln(ui.Out, "\nBy intent:")
		intents := make([]string, 0, len(stats.IntentCounts))
		for intent := range stats.IntentCounts {
			intents = append(intents, intent)
		}
		sort.Strings(intents)
		table := ui.Table([]string{"Intent", "Count"})
		for _, intent := range intents {
			table.Append([]string{intent, fmt.Sprintf("%d", stats.IntentCounts[intent])})
		}
		table.Render()
	}
	return nil
}

// timeAgo formats a timestamp as a coarse relative duration.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
