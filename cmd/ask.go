package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/model"
	"github.com/sells-group/policy-qa/internal/pipeline"
	"github.com/sells-group/policy-qa/internal/webhook"
)

var askCmd = &cobra.Command{
	Use:   `ask "<question>"`,
	Short: "Analyze one question against policy documents",
	Example: `  policy-qa ask "46-year-old male, knee replacement surgery in Pune, policy started 3 months ago" --doc policy.pdf
  policy-qa ask "What is the grace period for premium payment?" --doc https://example.com/policy.pdf --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		docs, _ := cmd.Flags().GetStringSlice("doc")
		hookURL, _ := cmd.Flags().GetString("webhook")
		asJSON, _ := cmd.Flags().GetBool("json")
		if hookURL == "" {
			hookURL = cfg.Webhook.URL
		}
		if hookURL != "" {
			if _, err := webhook.ValidateURL(hookURL); err != nil {
				return err
			}
		}

		env, err := initApp(ctx, cfg, "ask")
		if err != nil {
			return err
		}
		defer env.Close()

		a, err := env.Analyzer.Analyze(ctx, args[0], docs)
		if err != nil && !pipeline.IsExplainError(err) {
			if hookURL != "" && pipeline.IsAnalysisError(err) {
				_ = env.Webhooks.Send(ctx, hookURL, webhook.NewPayload(webhook.EventError, webhook.Data{
					Query:     args[0],
					Documents: docs,
					Error:     err.Error(),
				}))
			}
			return eris.Wrap(err, "ask")
		}

		if env.Store != nil {
			if serr := env.Store.SaveAnalysis(ctx, a); serr != nil {
				zap.L().Warn("save analysis failed", zap.String("id", a.ID), zap.Error(serr))
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(a); err != nil {
				return eris.Wrap(err, "encode analysis")
			}
		} else {
			formatAnalysis(os.Stdout, a)
		}

		if hookURL != "" {
			if err := env.Webhooks.Send(ctx, hookURL, webhook.NewPayload(webhook.EventAnalysisComplete, webhook.Data{
				Query:     a.Query,
				Documents: a.Documents,
				Result:    a.Result,
			})); err != nil {
				return eris.Wrap(err, "analysis complete but webhook delivery failed")
			}
		}
		return nil
	},
}

func decisionColor(d model.Decision) *color.Color {
	switch d {
	case model.DecisionApproved:
		return color.New(color.FgGreen, color.Bold)
	case model.DecisionRejected:
		return color.New(color.FgRed, color.Bold)
	case model.DecisionConditional:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}

// formatAnalysis writes a human-readable verdict to out.
func formatAnalysis(out io.Writer, a *pipeline.Analysis) {
	r := a.Result
	label := color.New(color.Faint).SprintFunc()

	_, _ = fmt.Fprintf(out, "%s %s\n", label("Decision:  "), decisionColor(r.Decision).Sprint(strings.ToUpper(string(r.Decision))))
	if r.Rule != "" {
		_, _ = fmt.Fprintf(out, "%s %s\n", label("Rule:      "), r.Rule)
	}
	if r.Amount != nil {
		_, _ = fmt.Fprintf(out, "%s %.2f\n", label("Amount:    "), *r.Amount)
	}
	_, _ = fmt.Fprintf(out, "%s %.2f\n", label("Confidence:"), r.Confidence)
	_, _ = fmt.Fprintf(out, "%s %s\n", label("Clauses:   "), strings.Join(r.Justification, ", "))
	_, _ = fmt.Fprintf(out, "%s %dms, %d tokens\n", label("Took:      "), r.ProcessingTime, r.TokenUsage)

	if p := a.Parsed; len(p.ExtractedEntities) > 0 {
		_, _ = fmt.Fprintf(out, "%s %s\n", label("Extracted: "), strings.Join(p.ExtractedEntities, "; "))
	}
	if r.LLMAnswer != "" {
		_, _ = fmt.Fprintf(out, "\n%s\n", r.LLMAnswer)
	}
	for _, w := range a.Warnings {
		_, _ = fmt.Fprintf(out, "%s %s\n", color.YellowString("warning:"), w)
	}
}

func init() {
	askCmd.Flags().StringSlice("doc", nil, "document reference (URL or path); repeatable")
	askCmd.Flags().String("webhook", "", "webhook URL to notify (default from config)")
	askCmd.Flags().Bool("json", false, "print the full analysis as JSON")
	rootCmd.AddCommand(askCmd)
}
