package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/hours-engine/accrual"
	"github.com/warp/hours-engine/carryover"
	"github.com/warp/hours-engine/ledger"
)

func init() {
	rootCmd.AddCommand(carryoverCmd, accrualCmd, finalizeCmd, contractsCmd, todayCmd, balanceCmd)
	contractsCmd.AddCommand(contractsListCmd, contractsImportCmd)

	carryoverCmd.Flags().Int("year", 0, "Year to close (default: previous year)")
	carryoverCmd.Flags().String("employee", "", "Close a single employee")
	carryoverCmd.Flags().Int("concurrency", 0, "Employees closed in parallel (default: HOURS_CARRYOVER_CONCURRENCY)")

	accrualCmd.Flags().Int("year", 0, "Year (default: year of the previous month)")
	accrualCmd.Flags().Int("month", 0, "Month 1-12 (default: previous month)")
	accrualCmd.Flags().String("employee", "", "Accrue a single employee")

	finalizeCmd.Flags().String("date", "", "Day to finalize, YYYY-MM-DD (default: yesterday)")

	todayCmd.Flags().String("employee", "", "Employee ID")
	todayCmd.Flags().String("at", "", "Instant to compute at, RFC3339 (default: now)")
	todayCmd.MarkFlagRequired("employee")
	balanceCmd.Flags().String("employee", "", "Employee ID")
	balanceCmd.Flags().Int("year", 0, "Year (default: current year)")
	balanceCmd.MarkFlagRequired("employee")
}

// ─── carryover ──────────────────────────────────────────────────────────────

var carryoverCmd = &cobra.Command{
	Use:   "carryover",
	Short: "Close a year: carry balances over up to the contract cap, expire the rest",
	Long: `Run the year-end close for every active employee. Already closed
employee/category pairs are skipped, so the command can be re-run after a
partial failure.`,
	Args: cobra.NoArgs,
	RunE: runCarryover,
}

func runCarryover(cmd *cobra.Command, args []string) error {
	year, _ := cmd.Flags().GetInt("year")
	employee, _ := cmd.Flags().GetString("employee")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	e, closeFn, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := e.RunCarryover(cmd.Context(), carryover.Options{
		Year:        year,
		EmployeeID:  ledger.EmployeeID(employee),
		Concurrency: concurrency,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Year-end close %d\n", report.Year)
	fmt.Fprintf(out, "  processed:    %d\n", report.Processed)
	fmt.Fprintf(out, "  succeeded:    %d\n", report.Succeeded)
	fmt.Fprintf(out, "  failed:       %d\n", report.Failed)
	fmt.Fprintf(out, "  skipped:      %d\n", report.Skipped)
	fmt.Fprintf(out, "  duration:     %s\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "  success rate: %.1f%%\n", report.SuccessRate)

	var failed []carryover.Run
	for _, item := range report.Items {
		for _, run := range item.Categories {
			if run.Status == carryover.StatusFailed {
				failed = append(failed, run)
			}
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(out, "\nFailures:")
		tw := table(out)
		fmt.Fprintln(tw, "EMPLOYEE\tCATEGORY\tERROR")
		for _, run := range failed {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", run.EmployeeID, run.Category, run.Error)
		}
		tw.Flush()
		return fmt.Errorf("%d employee(s) failed", report.Failed)
	}
	return nil
}

// ─── accrual ────────────────────────────────────────────────────────────────

var accrualCmd = &cobra.Command{
	Use:   "accrual",
	Short: "Post a month of vacation and permission accrual",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetInt("year")
		month, _ := cmd.Flags().GetInt("month")
		employee, _ := cmd.Flags().GetString("employee")
		if month < 0 || month > 12 {
			return fmt.Errorf("--month must be between 1 and 12")
		}

		e, closeFn, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := e.RunAccrual(cmd.Context(), accrual.Options{
			Year:       year,
			Month:      time.Month(month),
			EmployeeID: ledger.EmployeeID(employee),
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Accrual %d-%02d: %d posted, %d skipped, %d failed\n",
			report.Year, int(report.Month), report.Posted, report.Skipped, report.Failed)
		tw := table(out)
		fmt.Fprintln(tw, "EMPLOYEE\tCATEGORY\tHOURS\tSTATUS")
		for _, entry := range report.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.EmployeeID, entry.Category, entry.Hours.StringFixed(2), entry.Status)
		}
		return tw.Flush()
	},
}

// ─── finalize ───────────────────────────────────────────────────────────────

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Finalize a day's attendance and post overtime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")

		e, closeFn, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		var day time.Time
		if date != "" {
			d, err := ledger.ParseDate(date)
			if err != nil {
				return err
			}
			day = time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, e.Location)
		}
		report, err := e.FinalizeDay(cmd.Context(), day)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Finalized %s: %d processed, %d saved, %d skipped, %d failed\n",
			report.At.In(e.Location).Format(ledger.DateLayout), report.Processed, report.Saved, report.Skipped, report.Failed)
		return nil
	},
}

// ─── contracts ──────────────────────────────────────────────────────────────

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Manage contract types",
}

var contractsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contract types (presets and stored)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeFn, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		types, err := e.Contracts(cmd.Context())
		if err != nil {
			return err
		}
		tw := table(cmd.OutOrStdout())
		fmt.Fprintln(tw, "NAME\tVACATION\tPERMISSION\tMAX CARRYOVER\tWEEKLY\tDAILY")
		for _, t := range types {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", t.Name,
				t.AnnualVacationHours.StringFixed(0), t.AnnualPermissionHours.StringFixed(0),
				t.MaxCarryoverHours.StringFixed(0), t.WeeklyHours.StringFixed(0), t.DailyHours.StringFixed(0))
		}
		return tw.Flush()
	},
}

var contractsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import [[contract]] tables from a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		e, closeFn, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		types, err := e.ImportContracts(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d contract type(s)\n", len(types))
		return nil
	},
}

// ─── today / balance ────────────────────────────────────────────────────────

var todayCmd = &cobra.Command{
	Use:   "today --employee ID",
	Short: "Show an employee's real-time hours",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		employee, _ := cmd.Flags().GetString("employee")
		atFlag, _ := cmd.Flags().GetString("at")
		var at time.Time
		if atFlag != "" {
			t, err := time.Parse(time.RFC3339, atFlag)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			at = t
		}

		e, closeFn, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		snap, err := e.Today(cmd.Context(), ledger.EmployeeID(employee), at, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %s (%s)\n", snap.Date.Format(ledger.DateLayout), snap.Status, snap.WorkType)
		if snap.IsWorkingDay {
			fmt.Fprintf(out, "  shift:     %s-%s\n", snap.Start, snap.End)
		}
		fmt.Fprintf(out, "  worked:    %s / %s\n", snap.ActualHours.StringFixed(2), snap.ContractHours.StringFixed(2))
		fmt.Fprintf(out, "  remaining: %s\n", snap.RemainingHours.StringFixed(2))
		fmt.Fprintf(out, "  balance:   %s\n", snap.BalanceHours.StringFixed(2))
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance --employee ID",
	Short: "Show an employee's balances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		employee, _ := cmd.Flags().GetString("employee")
		year, _ := cmd.Flags().GetInt("year")

		e, closeFn, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		balances, err := e.Balances(cmd.Context(), ledger.EmployeeID(employee), year)
		if err != nil {
			return err
		}
		tw := table(cmd.OutOrStdout())
		fmt.Fprintln(tw, "CATEGORY\tYEAR\tACCRUED\tUSED\tCURRENT\tPENDING\tAVAILABLE")
		for _, b := range balances {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", b.Category, b.Year,
				b.TotalAccrued.StringFixed(2), b.TotalUsed.StringFixed(2), b.Current.StringFixed(2),
				b.Pending.StringFixed(2), b.Available().StringFixed(2))
		}
		return tw.Flush()
	},
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
