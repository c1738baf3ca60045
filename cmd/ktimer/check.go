package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/policy"
	"github.com/spf13/cobra"
)

var (
	checkDate string
	checkDay  string
	checkUsed int
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] USER",
	Short: "Check the limit and policy decision for a user",
	Long:  `Check what limit applies to a user on a day and what ktimer would do at the current (or a hypothetical) usage. Nothing is accrued.`,
	Example: `  ktimer check alice
  ktimer check alice --day saturday --used 90
  ktimer -c config.yaml check alice --date 2024-12-24`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDate, "date", "", "Date to check (YYYY-MM-DD) - defaults to today")
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - the next such day from today")
	checkCmd.Flags().IntVar(&checkUsed, "used", -1, "Minutes used - defaults to the ledger value")
	checkCmd.MarkFlagsMutuallyExclusive("date", "day")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	user := identity.Normalize(args[0])

	date, err := parseCheckDate(calendar.Today(calendar.RealClock{}), checkDate, checkDay)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	snap, err := buildSnapshot(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build quotas: %w", err)
	}

	used := checkUsed
	if used < 0 {
		store, err := openStorage(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer func() { _ = store.Close() }()

		l := ledger.New(store, logger)
		if _, err := l.Load(context.Background()); err != nil {
			return err
		}
		used = l.Used(user, date)
	}

	pe, err := policy.NewEngine(nil, logger)
	if err != nil {
		return err
	}

	limit := snap.Resolve(user, date)
	printDecision(pe.Decide(context.Background(), user, date, limit, used), cfg.PolicyCommand())
	return nil
}

// parseCheckDate resolves the --date and --day flags relative to today
func parseCheckDate(today calendar.Date, dateStr, dayStr string) (calendar.Date, error) {
	if dateStr != "" {
		d, err := calendar.ParseDate(dateStr)
		if err != nil {
			return calendar.Date{}, fmt.Errorf("invalid date: %s", dateStr)
		}
		return d, nil
	}

	if dayStr == "" {
		return today, nil
	}

	target, err := calendar.ParseWeekday(dayStr)
	if err != nil {
		return calendar.Date{}, err
	}

	daysUntilTarget := int(target - today.Weekday())
	if daysUntilTarget < 0 {
		daysUntilTarget += calendar.DaysPerWeek
	}
	return today.AddDays(daysUntilTarget), nil
}

// printDecision prints the check result with colors
func printDecision(d policy.Decision, cmd policy.Command) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("TIME LIMIT CHECK")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("User:       %s\n", d.User)
	fmt.Printf("Date:       %s (%s)\n", d.Date, d.Date.Weekday())
	if d.Monitored {
		fmt.Printf("Limit:      %d minutes\n", d.Limit)
	} else {
		fmt.Printf("Limit:      (not monitored)\n")
	}
	fmt.Printf("Used:       %d minutes\n", d.Used)
	fmt.Println()

	_, _ = cyan.Print("Decision:   ")
	switch d.Action {
	case policy.ActionAllow:
		_, _ = green.Println("ALLOW")
		fmt.Printf("            → %s\n", d.Reason)
	case policy.ActionEnforce:
		_, _ = red.Println("ENFORCE")
		fmt.Printf("            → %s\n", d.Reason)
		if cmd.IsZero() {
			fmt.Println("            → No policy command configured, overrun is only logged")
		} else {
			fmt.Printf("            → Would run: %s\n", cmd)
		}
	case policy.ActionSkip:
		_, _ = yellow.Println("SKIP")
		fmt.Println("            → User has no schedule, minutes are not counted")
	default:
		fmt.Printf("UNKNOWN (%s)\n", d.Action)
	}

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
