package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "policy-qa",
	Short: "Answer insurance policy questions from policy documents",
	Long:  "Indexes policy documents into clauses, ranks them against a question, applies waiting-period rules and explains the verdict.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; real environment variables still apply.
		_ = godotenv.Load()

		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
