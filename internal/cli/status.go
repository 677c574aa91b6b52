package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusJob   string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent fetch outcomes",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusJob, "job", "", "only fetches of this job")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 20, "number of records")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if appCfg.Database.URL == "" {
		return fmt.Errorf("status reads the fetch log, set database.url in %s", cfgPath)
	}

	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	records, err := app.FetchLog().ListRecent(ctx, statusJob, statusLimit)
	if err != nil {
		return fmt.Errorf("failed to query fetch log: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tJOB\tOUTCOME\tATTEMPTS\tSTATUS\tDURATION\tTARGET")
	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			rec.CreatedAt.Format(time.RFC3339), rec.Name, rec.Outcome, rec.Attempts,
			rec.StatusCode, rec.Duration.Round(time.Millisecond), rec.Target)
	}
	return w.Flush()
}
