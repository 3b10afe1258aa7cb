package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hunchbank/supportd/internal/models"
	"github.com/hunchbank/supportd/internal/output"
)

var activityLimit int

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent system activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return activityRun()
	},
}

func init() {
	activityCmd.Flags().IntVar(&activityLimit, "limit", 20, "Maximum entries to show")
	rootCmd.AddCommand(activityCmd)
}

func activityRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	entries, err := s.RecentActivity(context.Background(), activityLimit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		ui.Info("No activity recorded.")
		return nil
	}

	for _, e := range entries {
		fmt.Fprintf(ui.Out, "%s  %s  %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			activityMarker(e.Kind),
			e.Message)
	}
	return nil
}

func activityMarker(kind models.ActivityKind) string {
	switch kind {
	case models.ActivitySuccess:
		return output.Green("ok")
	case models.ActivityWarning:
		return output.Yellow("warn")
	case models.ActivityError:
		return output.Red("err")
	default:
		return output.Cyan("info")
	}
}
