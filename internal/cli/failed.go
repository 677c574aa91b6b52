package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/fetcher/internal/control"
)

var (
	failedJob   string
	replayLimit int
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Inspect and replay dead-lettered fetches",
}

var failedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending failed fetches",
	Args:  cobra.NoArgs,
	RunE:  runFailedList,
}

var failedReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Fetch pending failed fetches again and resolve the ones that succeed",
	Args:  cobra.NoArgs,
	RunE:  runFailedReplay,
}

var failedResolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Mark a failed fetch resolved without fetching it",
	Args:  cobra.ExactArgs(1),
	RunE:  runFailedResolve,
}

func init() {
	failedCmd.PersistentFlags().StringVar(&failedJob, "job", "", "only entries of this job")
	failedReplayCmd.Flags().IntVar(&replayLimit, "limit", 0, "replay at most this many entries (0 = all)")

	failedCmd.AddCommand(failedListCmd, failedReplayCmd, failedResolveCmd)
	rootCmd.AddCommand(failedCmd)
}

// openApp builds the app for commands that only need its storage.
func openApp(ctx context.Context) (*control.App, error) {
	if appCfg.Database.URL == "" && appCfg.Redis.URL == "" {
		return nil, fmt.Errorf("no persistent store configured, set database.url or redis.url in %s", cfgPath)
	}
	return control.NewApp(ctx, appCfg)
}

func runFailedList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := app.FailedFetches().GetAll(ctx, failedJob)
	if err != nil {
		return fmt.Errorf("failed to list failed fetches: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tTARGET\tOUTCOME\tATTEMPTS\tRETRIES\tLAST ATTEMPT\tERROR")
	for _, ff := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			ff.ID, ff.Name, ff.Request.Target, ff.Outcome, ff.Attempts, ff.RetryCount,
			ff.LastAttempt.Format(time.RFC3339), truncate(ff.Error, 60))
	}
	return w.Flush()
}

func runFailedReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Replay(ctx, failedJob, replayLimit)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "resolved=%d failed=%d skipped=%d\n",
		report.Resolved, report.Failed, report.Skipped)
	return err
}

func runFailedResolve(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.FailedFetches().MarkResolved(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", args[0])
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
