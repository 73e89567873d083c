package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/FluoroSim/internal/input"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the operator key bindings",
	Long: `List the keys understood by the display window and the terminal while the
simulator is running. Every command can also be sent with
POST /api/commands/<command>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(cmd.OutOrStdout(), keyTable())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}

func keyTable() string {
	rows := make([][]string, 0, len(input.Bindings))
	for _, b := range input.Bindings {
		rows = append(rows, []string{b.Label, b.Description, b.Command.String()})
	}
	return renderTable([]string{"Key", "Action", "Command"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft})
}
