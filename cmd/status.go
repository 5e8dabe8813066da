package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a research job and its worker runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "status")
		}
		runs, err := st.ListWorkerRuns(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"job": job, "worker_runs": runs})
		}

		formatJobStatus(os.Stdout, job, runs)
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List research jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		propertyID, _ := cmd.Flags().GetString("property")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			Status:     model.JobStatus(strings.ToUpper(status)),
			PropertyID: propertyID,
			Limit:      limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("jobs: unknown status %q", status)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the job and worker runs as JSON")

	jobsCmd.Flags().String("status", "", "filter by status (pending, in_progress, completed, failed)")
	jobsCmd.Flags().String("property", "", "filter by research property ID")
	jobsCmd.Flags().Int("limit", 50, "max number of jobs to display")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobStatus writes a job header and its worker runs to out.
func formatJobStatus(out io.Writer, job *model.AgenticJob, runs []model.WorkerRun) {
	_, _ = fmt.Fprintf(out, "Job:       %s\n", job.ID)
	_, _ = fmt.Fprintf(out, "Trace:     %s\n", job.TraceID)
	_, _ = fmt.Fprintf(out, "Property:  %s\n", job.ResearchPropertyID)
	_, _ = fmt.Fprintf(out, "Status:    %s (%d%%)\n", job.Status, job.Progress)
	_, _ = fmt.Fprintf(out, "Strategy:  %s\n", job.Strategy)
	if job.CurrentStep != "" {
		_, _ = fmt.Fprintf(out, "Step:      %s\n", job.CurrentStep)
	}
	if job.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
	}
	_, _ = fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil && job.CompletedAt != nil {
		_, _ = fmt.Fprintf(out, "Duration:  %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}

	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo worker runs recorded.")
		return
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WAVE\tWORKER\tSTATUS\tRUNTIME\tCOST\tWEB\tERRORS")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%dms\t$%.4f\t%d\t%s\n",
			r.Wave, r.WorkerName, r.Status, r.RuntimeMS, r.CostUSD, r.WebCalls, strings.Join(r.Errors, "; "))
	}
	_ = w.Flush()
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.AgenticJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROPERTY\tSTATUS\tPROGRESS\tSTRATEGY\tCREATED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			shortID(j.ID), shortID(j.ResearchPropertyID), j.Status, j.Progress, j.Strategy,
			j.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
