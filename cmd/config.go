package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michael-liumh/mysqlbackup/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print a sample configuration file",
	Long: `Print a starting-point YAML configuration to stdout.

Save it to one of the config search locations and adjust:
  ./mysqlbackup.yaml
  $HOME/.mysqlbackup/mysqlbackup.yaml
  /etc/mysqlbackup/mysqlbackup.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, err := config.SampleYAML()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), sample)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
