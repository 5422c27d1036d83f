package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective job configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configuration a run would use",
	Long: `Assemble the job configuration exactly like 'run' would (from flags,
config file and environment) and print it without starting anything.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildRunConfig()
		if err != nil {
			return err
		}

		var out []byte
		if IsJSONOutput() {
			out, err = json.MarshalIndent(cfg, "", "  ")
		} else {
			out, err = yaml.Marshal(cfg)
		}
		if err != nil {
			return err
		}

		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	// config show accepts the same configuration flags as run
	addRunFlags(configShowCmd)
}
