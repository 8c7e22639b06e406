package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"tandem/internal/usage"
)

// usageCmd reports cumulative model consumption
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show cumulative token usage and cost for this workspace",
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	_, st, _, err := openSessions(workspace)
	if err != nil {
		return err
	}
	defer st.Close()

	ledger := usage.NewTracker(st).Totals()
	if ledger.Calls == 0 {
		fmt.Println("No model calls recorded yet.")
		return nil
	}

	fmt.Printf("Model calls: %d\n", ledger.Calls)
	fmt.Printf("Tokens:      %d in / %d out", ledger.Tokens.InputTokens, ledger.Tokens.OutputTokens)
	if ledger.Tokens.CacheReadTokens > 0 {
		fmt.Printf(" (%d cache reads)", ledger.Tokens.CacheReadTokens)
	}
	fmt.Printf("\nCost:        $%.4f\n", ledger.Cost)
	fmt.Printf("Updated:     %s\n\n", ledger.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	models := make([]string, 0, len(ledger.PerModel))
	for m := range ledger.PerModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		t := ledger.PerModel[m]
		fmt.Printf("  %-36s %5d calls  %9d tokens  $%.4f\n", m, t.Calls, t.Tokens.Total(), t.Cost)
	}
	return nil
}
