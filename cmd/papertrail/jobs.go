package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/papertrail/internal/services"
)

var (
	staleOlderThan time.Duration
	listLimit      int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect ingest jobs",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print a job with its step detail as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.Jobs.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the latest jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		jobs, err := a.Jobs.Recent(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		printJobs(jobs)
		return nil
	},
}

var jobsStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List processing jobs that stopped making progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		olderThan := staleOlderThan
		if olderThan == 0 {
			olderThan = a.Config.StaleAfter
		}
		jobs, err := a.Jobs.Stale(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Printf("No processing job older than %s.\n", olderThan)
			return nil
		}
		printJobs(jobs)
		return nil
	},
}

func init() {
	jobsStaleCmd.Flags().DurationVar(&staleOlderThan, "older-than", 0, "staleness threshold (default STALE_AFTER)")
	jobsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 50, "number of jobs")
	jobsCmd.AddCommand(jobsStatusCmd, jobsListCmd, jobsStaleCmd)
}

func printJobs(jobs []services.JobView) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tSTEP\tPROGRESS\tUPDATED\tFILE")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			j.ID, j.Status, j.CurrentStep, j.Progress, j.UpdatedAt.Local().Format(time.DateTime), j.Filename)
	}
	_ = tw.Flush()
}
