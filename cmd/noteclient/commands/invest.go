package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"noteclient/lib/invest"
	"noteclient/lib/orderlog"

	"github.com/antzucaro/matchr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var investFlags struct {
	cash       *float64
	minPercent *float64
	maxPercent *float64
	maxPerNote *float64
	execute    *bool
	portfolio  *string
}

func init() {
	investFlags.cash = investCmd.Flags().Float64("cash", 0, "The amount to invest.")
	investFlags.minPercent = investCmd.Flags().Float64("min-percent", 0, "Lower bound of the target average yield.")
	investFlags.maxPercent = investCmd.Flags().Float64("max-percent", 25, "Upper bound of the target average yield.")
	investFlags.maxPerNote = investCmd.Flags().Float64("max-per-note", 25, "Cap on the amount invested in a single note.")
	investFlags.execute = investCmd.Flags().Bool("execute", false, "Place the order instead of just printing the option.")
	investFlags.portfolio = investCmd.Flags().String("portfolio", "", "Assign the invested notes to this portfolio.")
	investCmd.MarkFlagRequired("cash")
	rootCmd.AddCommand(investCmd)
}

// closestPortfolio finds the existing portfolio most similar to the
// requested name, so a typo is caught before it creates a new bucket.
func closestPortfolio(name string, existing []invest.Portfolio) string {
	best := ""
	bestSimilarity := 0.0
	for _, folio := range existing {
		if folio.Name == name {
			return ""
		}
		similarity := matchr.JaroWinkler(name, folio.Name, false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			best = folio.Name
		}
	}
	if bestSimilarity < 0.85 {
		return ""
	}
	return best
}

var investCmd = &cobra.Command{
	Use:   "invest --cash <amount> [--min-percent n] [--max-percent n]",
	Short: "Builds a diversified portfolio of notes and optionally places the order.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		client := login(cmd.Context(), cfg)

		if *investFlags.portfolio != "" {
			existing, err := client.Portfolios(cmd.Context())
			if err != nil {
				fatal("failed to list portfolios", err)
			}
			if suggestion := closestPortfolio(*investFlags.portfolio, existing); suggestion != "" {
				slog.Warn(
					"portfolio does not exist yet, a new one will be created",
					"requested", *investFlags.portfolio,
					"similar", suggestion,
				)
			}
		}

		option, err := client.BuildPortfolio(cmd.Context(), invest.BuildOptions{
			Cash:          *investFlags.cash,
			MinPercent:    *investFlags.minPercent,
			MaxPercent:    *investFlags.maxPercent,
			MaxPerNote:    *investFlags.maxPerNote,
			AutoInvest:    *investFlags.execute,
			PortfolioName: *investFlags.portfolio,
		})
		if err != nil {
			fatal("failed to build a portfolio", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Loan", "Grade", "Term", "Amount"})
		for _, frac := range option.Fractions {
			t.AppendRow(table.Row{frac.ID, frac.Grade, frac.Term, fmt.Sprintf("$%.2f", frac.InvestAmount)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		fmt.Printf("average yield: %.2f%%, %d notes\n", option.Percentage, len(option.Fractions))

		if !*investFlags.execute {
			return
		}
		fmt.Printf("order #%d placed\n", option.OrderID)

		store, err := orderlog.Open(cfg.OrderLog)
		if err != nil {
			fatal("order placed but the order log could not be opened", err)
		}
		defer store.Close()

		loans := map[int]float64{}
		for _, frac := range option.Fractions {
			loans[frac.ID] = frac.InvestAmount
		}
		err = store.RecordOrder(cmd.Context(), orderlog.Record{
			OrderID:   option.OrderID,
			Portfolio: *investFlags.portfolio,
			PlacedAt:  time.Now(),
			Loans:     loans,
		})
		if err != nil {
			fatal("order placed but could not be recorded locally", err)
		}
	},
}
