package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(portfoliosCmd)
}

var portfoliosCmd = &cobra.Command{
	Use:   "portfolios",
	Short: "Prints the named portfolios on the account.",
	Run: func(cmd *cobra.Command, args []string) {
		client := login(cmd.Context(), readConfig())

		folios, err := client.Portfolios(cmd.Context())
		if err != nil {
			fatal("failed to list portfolios", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "Portfolio"})

		for _, folio := range folios {
			t.AppendRow(table.Row{folio.ID, folio.Name})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
