package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hunchbank/supportd/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API without the processing pipeline",
	Long: `Start the HTTP API server only. Useful for working an existing review
queue from the dashboard without running the email pipeline.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, st, err := newSystem()
		if err != nil {
			return err
		}

		srv := api.NewServer(sys, st, newLogger())
		addr := fmt.Sprintf(":%d", viper.GetInt("api.port"))
		ui.Info("Serving API at http://localhost%s", addr)
		return http.ListenAndServe(addr, srv.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("api.port", serveCmd.Flags().Lookup("port"))
}
