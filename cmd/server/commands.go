package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/leave"
)

func init() {
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(tokenCmd)

	allocateCmd.Flags().Int("year", 0, "Year to allocate (default: current year)")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
}

// ─── seed ───────────────────────────────────────────────────────────────────

var seedCmd = &cobra.Command{
	Use:   "seed SCENARIO",
	Short: "Reset the store and load a demo scenario",
	Long: `Reset the store and load one of the demo scenarios:
department, exam-clash, hod-escalation, half-days.
Refused when demo mode is disabled.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if !a.cfg.EnableDemo {
		return fmt.Errorf("demo scenarios are disabled (LEAVE_ENABLE_DEMO=false)")
	}
	if err := a.handler.Seed(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded scenario %s\n", args[0])
	return nil
}

// ─── allocate ───────────────────────────────────────────────────────────────

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Run bulk allocation once",
	Long: `Give every directory member an entry for each applicable leave type at
the type's yearly maximum. Existing entries are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runAllocate,
}

func runAllocate(cmd *cobra.Command, args []string) error {
	year, _ := cmd.Flags().GetInt("year")
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if year == 0 {
		year = time.Now().Year()
	}
	result, err := a.service.BulkAllocate(cmd.Context(), leave.System, year)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Year %d: %d members, %d entries created, %d already present\n",
		result.Year, result.Members, result.Created, result.Skipped)
	return nil
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token USER_ID",
	Short: "Print a bearer token for a directory member",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func runToken(cmd *cobra.Command, args []string) error {
	ttl, _ := cmd.Flags().GetDuration("ttl")
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	member, err := a.store.GetMember(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	token, err := api.IssueToken(a.cfg.JWTSecret, member.Actor(), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
