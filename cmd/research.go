package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/property-research/internal/model"
	"github.com/sells-group/property-research/internal/research"
)

var researchCmd = &cobra.Command{
	Use:   "research <address>",
	Short: "Research a property address",
	Long:  "Submits a research job for the address and runs it to completion. The dossier is printed to stdout, or written to --output.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		req, err := researchRequest(cmd, args[0])
		if err != nil {
			return err
		}

		env, err := initResearch(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		job, sum, err := env.Orchestrator.Research(ctx, req)
		if err != nil {
			if job != nil {
				zap.L().Warn("job left unfinished; continue with `resume`", zap.String("job_id", job.ID))
			}
			return eris.Wrap(err, "research")
		}
		return reportRun(cmd, env, job, sum)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Continue an interrupted research job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initResearch(ctx, "research")
		if err != nil {
			return err
		}
		defer env.Close()

		job, sum, err := env.Orchestrator.Resume(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resume")
		}
		return reportRun(cmd, env, job, sum)
	},
}

// researchRequest builds a Request from the research command's flags.
func researchRequest(cmd *cobra.Command, address string) (research.Request, error) {
	strategy, _ := cmd.Flags().GetString("strategy")
	groups, _ := cmd.Flags().GetStringSlice("groups")
	maxWorkers, _ := cmd.Flags().GetInt("max-workers")
	maxCost, _ := cmd.Flags().GetFloat64("max-cost")
	maxDuration, _ := cmd.Flags().GetDuration("max-duration")
	assume, _ := cmd.Flags().GetStringToString("assume")

	assumptions, err := parseAssumptions(assume)
	if err != nil {
		return research.Request{}, err
	}

	req := research.Request{
		Address:     address,
		Strategy:    model.Strategy(strategy),
		Assumptions: assumptions,
		Limits: model.JobLimits{
			MaxWorkers:  maxWorkers,
			MaxCostUSD:  maxCost,
			MaxDuration: maxDuration,
		},
	}
	if cmd.Flags().Changed("groups") {
		req.Limits.Groups = groups
	}
	return req, nil
}

// parseAssumptions converts key=value overrides to numbers where possible.
func parseAssumptions(kv map[string]string) (map[string]any, error) {
	if len(kv) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		if strings.TrimSpace(k) == "" {
			return nil, eris.New("assume: empty key")
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out, nil
}

// reportRun prints the run summary and writes the dossier.
func reportRun(cmd *cobra.Command, env *researchEnv, job *model.AgenticJob, sum *research.Summary) error {
	formatSummary(os.Stderr, job, sum)

	d, err := env.Store.GetDossier(cmd.Context(), job.ID)
	if err != nil {
		return eris.Wrap(err, "load dossier")
	}
	if d == nil {
		fmt.Fprintln(os.Stderr, "No dossier was written.")
		if sum.Status == model.JobStatusFailed {
			return eris.Errorf("job %s failed: %s", job.ID, sum.ErrorMessage)
		}
		return nil
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = io.WriteString(os.Stdout, d.Markdown)
		return err
	}
	if err := os.WriteFile(output, []byte(d.Markdown), 0o644); err != nil {
		return eris.Wrapf(err, "write dossier %s", output)
	}
	zap.L().Info("dossier written", zap.String("path", output), zap.Int("citations", len(d.Citations)))
	return nil
}

// formatSummary writes the job outcome and a per-worker table to w.
func formatSummary(out io.Writer, job *model.AgenticJob, sum *research.Summary) {
	_, _ = fmt.Fprintf(out, "Job %s: %s (cost $%.4f, %d web calls, %d evidence)\n",
		job.ID, sum.Status, sum.CostUSD, sum.WebCalls, sum.EvidenceInserted)
	if sum.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "Error: %s\n", sum.ErrorMessage)
	}
	if sum.HaltedReason != "" {
		_, _ = fmt.Fprintf(out, "Halted: %s\n", sum.HaltedReason)
	}

	names := make([]string, 0, len(sum.Workers))
	for name := range sum.Workers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		wi, wj := sum.Workers[names[i]], sum.Workers[names[j]]
		if wi.Wave != wj.Wave {
			return wi.Wave < wj.Wave
		}
		return names[i] < names[j]
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "WAVE\tWORKER\tSTATUS\tRUNTIME\tCOST\tUNKNOWNS\tERRORS")
	for _, name := range names {
		ws := sum.Workers[name]
		wave := strconv.Itoa(ws.Wave)
		if ws.Wave < 0 {
			wave = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\t%d\t%s\n",
			wave, name, ws.Status,
			(time.Duration(ws.RuntimeMS) * time.Millisecond).String(),
			ws.CostUSD, len(ws.Unknowns), strings.Join(ws.Errors, "; "))
	}
	_ = w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{researchCmd, resumeCmd} {
		c.Flags().StringP("output", "o", "", "write the dossier markdown to this file")
	}

	researchCmd.Flags().String("strategy", "", "underwriting strategy: flip, rental or brrrr (default from config)")
	researchCmd.Flags().StringSlice("groups", nil, "optional worker groups to enable (e.g. extensive)")
	researchCmd.Flags().Int("max-workers", 0, "max workers to schedule (0 = config default)")
	researchCmd.Flags().Float64("max-cost", 0, "max spend in USD (0 = config default)")
	researchCmd.Flags().Duration("max-duration", 0, "max wall-clock time (0 = config default)")
	researchCmd.Flags().StringToString("assume", nil, "underwriting assumption overrides (e.g. rehab_per_sqft=30)")

	rootCmd.AddCommand(researchCmd)
	rootCmd.AddCommand(resumeCmd)
}
