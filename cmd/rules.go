package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/policy-qa/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Print the active rule table",
	Long:  "Loads the rule table from rules.path (or the built-in table), validates it, and prints it as YAML.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			cfg.Rules.Path = path
		}
		table, err := buildRules(cfg.Rules)
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		if err := enc.Encode(table); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stderr, "%d rules, missing duration policy: %s\n", len(table.Rules), missingPolicy())
		return nil
	},
}

func missingPolicy() rules.MissingDuration {
	if cfg.Rules.MissingDuration == "" {
		return rules.MissingReject
	}
	return rules.MissingDuration(cfg.Rules.MissingDuration)
}

func init() {
	rulesCmd.Flags().String("file", "", "rule table to validate and print (default from config rules.path)")
	rootCmd.AddCommand(rulesCmd)
}
