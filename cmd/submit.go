package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/pkg/hackrx"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit documents and questions to a remote HackRX endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if base, _ := cmd.Flags().GetString("base-url"); base != "" {
			cfg.HackRX.BaseURL = base
		}
		if err := cfg.Validate("submit"); err != nil {
			return err
		}

		docs, _ := cmd.Flags().GetStringSlice("doc")
		questions, _ := cmd.Flags().GetStringArray("question")

		client := hackrx.NewClient(cfg.HackRX.BaseURL, cfg.HackRX.Token)
		resp, err := client.Run(ctx, hackrx.Request{Documents: docs, Questions: questions})
		if err != nil {
			return eris.Wrap(err, "submit")
		}

		zap.L().Info("submission complete",
			zap.String("status", resp.Status),
			zap.Int("answers", len(resp.Data.Answers)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	submitCmd.Flags().StringSlice("doc", nil, "document reference; repeatable")
	submitCmd.Flags().StringArray("question", nil, "question to ask; repeatable")
	submitCmd.Flags().String("base-url", "", "API base URL (default from config hackrx.base_url)")
	rootCmd.AddCommand(submitCmd)
}
