package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Prints the cash available for investing.",
	Run: func(cmd *cobra.Command, args []string) {
		client := login(cmd.Context(), readConfig())

		cash, err := client.CashBalance(cmd.Context())
		if err != nil {
			fatal("failed to get cash balance", err)
		}
		fmt.Printf("$%.2f\n", cash)
	},
}
