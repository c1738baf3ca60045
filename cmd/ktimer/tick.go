package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/ktimer/internal/accrual"
	"github.com/goodtune/ktimer/internal/policy"
	"github.com/spf13/cobra"
)

var (
	tickJSON bool
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single accounting cycle",
	Long: `Run one accounting cycle: add the configured interval to every active,
monitored user's minutes for today, launch the policy command for anyone over
their limit, save the ledger and exit.`,
	Args: cobra.NoArgs,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().BoolVar(&tickJSON, "json", false, "Print the cycle summary as JSON")
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, logger, _ := loadConfig()

	acct, err := newAccounting(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := acct.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	result := acct.engine.RunCycle(context.Background())

	if tickJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printCycleResult(result)
	return nil
}

// printCycleResult prints the cycle summary with colors
func printCycleResult(result accrual.CycleResult) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Printf("Cycle %s on %s\n", result.ID, result.Date)

	if len(result.Decisions) == 0 {
		fmt.Println("  no monitored users active")
	}
	for _, d := range result.Decisions {
		line := fmt.Sprintf("  %-16s %d of %d minutes used", d.User, d.Used, d.Limit)
		if d.Action == policy.ActionEnforce {
			_, _ = red.Println(line + "  (over limit)")
		} else {
			_, _ = green.Println(line)
		}
	}

	if result.Degraded {
		_, _ = yellow.Println("  configuration unavailable, all users treated as unmonitored")
	}
	for _, err := range result.Errors {
		_, _ = yellow.Printf("  warning: %v\n", err)
	}
}
