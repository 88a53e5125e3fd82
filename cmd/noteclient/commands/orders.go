package commands

import (
	"fmt"
	"os"

	"noteclient/lib/orderlog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(ordersCmd)
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Lists the orders recorded in the local order log.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()

		store, err := orderlog.Open(cfg.OrderLog)
		if err != nil {
			fatal("failed to open the order log", err)
		}
		defer store.Close()

		records, err := store.Orders(cmd.Context())
		if err != nil {
			fatal("failed to read the order log", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Order", "Portfolio", "Placed", "Notes", "Total"})

		for _, rec := range records {
			total := 0.0
			for _, amount := range rec.Loans {
				total += amount
			}
			t.AppendRow(table.Row{
				rec.OrderID,
				rec.Portfolio,
				rec.PlacedAt.Format("2006-01-02 15:04"),
				len(rec.Loans),
				fmt.Sprintf("$%.2f", total),
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
