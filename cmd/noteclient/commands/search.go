package commands

import (
	"fmt"
	"os"
	"strings"

	"noteclient/lib/filter"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var searchFlags struct {
	grades          *string
	term36          *bool
	term60          *bool
	fundingProgress *int
	includeExisting *bool
	startIndex      *int
}

func init() {
	searchFlags.grades = searchCmd.Flags().String("grades", "", "Comma-separated grade letters A-G to include, empty for all.")
	searchFlags.term36 = searchCmd.Flags().Bool("term36", true, "Include 36 month loans.")
	searchFlags.term60 = searchCmd.Flags().Bool("term60", true, "Include 60 month loans.")
	searchFlags.fundingProgress = searchCmd.Flags().Int("funding-progress", 0, "Minimum funding progress percentage.")
	searchFlags.includeExisting = searchCmd.Flags().Bool("include-existing", false, "Include loans already invested in.")
	searchFlags.startIndex = searchCmd.Flags().Int("start", 0, "Result index to page from.")
	rootCmd.AddCommand(searchCmd)
}

func filterFromFlags() (*filter.Filter, error) {
	f := filter.New()
	f.Term.Year3 = *searchFlags.term36
	f.Term.Year5 = *searchFlags.term60
	f.FundingProgress = *searchFlags.fundingProgress
	f.ExcludeExisting = !*searchFlags.includeExisting

	for _, letter := range strings.Split(*searchFlags.grades, ",") {
		letter = strings.ToUpper(strings.TrimSpace(letter))
		switch letter {
		case "":
		case "A":
			f.Grades.A = true
		case "B":
			f.Grades.B = true
		case "C":
			f.Grades.C = true
		case "D":
			f.Grades.D = true
		case "E":
			f.Grades.E = true
		case "F":
			f.Grades.F = true
		case "G":
			f.Grades.G = true
		default:
			return nil, fmt.Errorf("unknown grade %q", letter)
		}
	}

	f.Normalize()
	return f, nil
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Searches for loan notes matching a filter.",
	Run: func(cmd *cobra.Command, args []string) {
		f, err := filterFromFlags()
		if err != nil {
			fatal("bad filter flags", err)
		}
		client := login(cmd.Context(), readConfig())

		result, err := client.Search(cmd.Context(), f, *searchFlags.startIndex)
		if err != nil {
			fatal("search failed", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Loan", "Grade", "Term", "Funded %", "Status"})

		for _, loan := range result.Loans {
			t.AppendRow(table.Row{
				loan.ID,
				loan.Grade,
				loan.Term,
				fmt.Sprintf("%.0f", loan.FundedPercent()),
				loan.Status,
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
		fmt.Printf("%d of %d records\n", len(result.Loans), result.TotalRecords)
	},
}
