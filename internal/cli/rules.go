package cli

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/spf13/cobra"
)

var listRulesFile string

// rulesCmd groups reason rule commands
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect reason rule tables",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the reason rule table as YAML",
	Long: `Print the reason rule table that a run would use, in the layout
accepted by --rules. Without --rules the built-in table is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := buildEngine(listRulesFile)
		if err != nil {
			return err
		}
		data, err := rules.Marshal(engine.GetLoadedRules())
		if err != nil {
			return fmt.Errorf("error marshaling rules: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rulesListCmd.Flags().StringVar(&listRulesFile, "rules", "", "YAML reason rule table to validate and print")

	rulesCmd.AddCommand(rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}
