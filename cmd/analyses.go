package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/store"
)

var analysesCmd = &cobra.Command{
	Use:   "analyses",
	Short: "Inspect recorded analyses",
	Long:  "Commands for listing, viewing, and summarizing analyses saved in the audit store.",
}

// openStore opens and migrates the configured store, failing when it is
// disabled.
func openStore(cmd *cobra.Command) (store.Store, error) {
	st, err := initStore(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("store.driver is none; enable sqlite or postgres to record analyses")
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// -- analyses list --

var analysesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded analyses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		decision, _ := cmd.Flags().GetString("decision")
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := st.ListAnalyses(cmd.Context(), store.AnalysisFilter{
			Decision: model.Decision(decision),
			Limit:    limit,
		})
		if err != nil {
			return eris.Wrap(err, "analyses list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No analyses found.")
			return nil
		}

		formatAnalysesList(os.Stdout, list)
		return nil
	},
}

// -- analyses show --

var analysesShowCmd = &cobra.Command{
	Use:   "show <analysis-id>",
	Short: "Show full details of an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a, err := st.GetAnalysis(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "analyses show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	},
}

// -- analyses stats --

var analysesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate decision statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		list, err := st.ListAnalyses(cmd.Context(), store.AnalysisFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "analyses stats")
		}

		formatAnalysisStats(os.Stdout, computeAnalysisStats(list))
		return nil
	},
}

func init() {
	analysesListCmd.Flags().String("decision", "", "filter by decision (approved, rejected, conditional, pending)")
	analysesListCmd.Flags().Int("limit", 50, "max number of analyses to display")

	analysesCmd.AddCommand(analysesListCmd)
	analysesCmd.AddCommand(analysesShowCmd)
	analysesCmd.AddCommand(analysesStatsCmd)
	rootCmd.AddCommand(analysesCmd)
}

// analysisStats holds aggregate statistics over a set of analyses.
type analysisStats struct {
	Total         int
	ByDecision    map[model.Decision]int
	Degraded      int
	AvgConfidence float64
	AvgLatencyMS  float64
	TotalTokens   int
}

func computeAnalysisStats(list []pipeline.Analysis) analysisStats {
	s := analysisStats{Total: len(list), ByDecision: make(map[model.Decision]int)}
	if len(list) == 0 {
		return s
	}

	var conf, latency float64
	for _, a := range list {
		s.ByDecision[a.Result.Decision]++
		if len(a.Warnings) > 0 {
			s.Degraded++
		}
		conf += a.Result.Confidence
		latency += float64(a.Result.ProcessingTime)
		s.TotalTokens += a.Result.TokenUsage
	}
	s.AvgConfidence = conf / float64(len(list))
	s.AvgLatencyMS = latency / float64(len(list))
	return s
}

// formatAnalysesList writes a tabular list of analyses to out.
func formatAnalysesList(out io.Writer, list []pipeline.Analysis) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDECISION\tCONFIDENCE\tCREATED\tQUERY")
	for _, a := range list {
		id := a.ID
		if len(id) > 8 {
			id = id[:8]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n",
			id,
			a.Result.Decision,
			a.Result.Confidence,
			a.CreatedAt.Format("2006-01-02 15:04"),
			truncate(a.Query, 60),
		)
	}
	_ = w.Flush()
}

// formatAnalysisStats writes aggregate statistics to out.
func formatAnalysisStats(out io.Writer, s analysisStats) {
	_, _ = fmt.Fprintf(out, "Analyses:       %d\n", s.Total)
	for _, d := range []model.Decision{model.DecisionApproved, model.DecisionRejected, model.DecisionConditional, model.DecisionPending} {
		_, _ = fmt.Fprintf(out, "  %-13s %d\n", d+":", s.ByDecision[d])
	}
	_, _ = fmt.Fprintf(out, "Degraded:       %d\n", s.Degraded)
	_, _ = fmt.Fprintf(out, "Avg confidence: %.2f\n", s.AvgConfidence)
	_, _ = fmt.Fprintf(out, "Avg latency:    %.0fms\n", s.AvgLatencyMS)
	_, _ = fmt.Fprintf(out, "Tokens:         %d\n", s.TotalTokens)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
