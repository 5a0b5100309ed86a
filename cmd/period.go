package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/focus"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
)

var (
	periodSession     string
	periodInterrupted bool
)

var periodCmd = &cobra.Command{
	Use:     "period",
	Aliases: []string{"p"},
	Short:   "Start, end and list focus periods within a session",
}

var periodStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a focus period on the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return periodStartRun(cmd.Context())
	},
}

var periodEndCmd = &cobra.Command{
	Use:   "end [period-id]",
	Short: "End a focus period (default: the active session's open period)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return periodEndRun(cmd.Context(), args)
	},
}

var periodListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the periods of a session",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return periodListRun(cmd.Context())
	},
}

func init() {
	periodCmd.PersistentFlags().StringVar(&periodSession, "session", "", "Session id (default: the active session)")
	periodEndCmd.Flags().BoolVar(&periodInterrupted, "interrupted", false, "Record the period as interrupted")

	periodCmd.AddCommand(periodStartCmd, periodEndCmd, periodListCmd)
	rootCmd.AddCommand(periodCmd)
}

func periodSessionID(ctx context.Context, a *app) (string, error) {
	if periodSession != "" {
		return periodSession, nil
	}
	return sessionArg(ctx, a, nil)
}

func periodStartRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	sessionID, err := periodSessionID(ctx, a)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would start a focus period on session %s", sessionID)
		return nil
	}

	p, err := a.engine.StartPeriod(ctx, currentUser(), sessionID, nil)
	if err != nil {
		return explain(err)
	}
	ui.Success("Period %s started at %s", output.Cyan(p.ID), output.Time(&p.StartTime, a.location))
	return nil
}

func periodEndRun(ctx context.Context, args []string) error {
	a, err := getApp()
	if err != nil {
		return err
	}

	var periodID string
	if len(args) == 1 {
		periodID = args[0]
	} else {
		sessionID, err := periodSessionID(ctx, a)
		if err != nil {
			return err
		}
		open, err := a.engine.ActivePeriod(ctx, currentUser(), sessionID)
		if err != nil {
			return err
		}
		if open == nil {
			return fmt.Errorf("session %s has no open period", sessionID)
		}
		periodID = open.ID
	}
	if dryRun {
		ui.DryRunMsg("Would end period %s (interrupted=%t)", periodID, periodInterrupted)
		return nil
	}

	interrupted := periodInterrupted
	p, err := a.engine.EndPeriod(ctx, periodID, focus.EndPeriodInput{UserID: currentUser(), IsInterrupted: &interrupted})
	if err != nil {
		return explain(err)
	}
	ui.Success("Period %s ended after %s (interrupted: %s)",
		output.Cyan(p.ID), output.Minutes(p.Minutes()), output.InterruptedColor(p.IsInterrupted))
	return nil
}

func periodListRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	sessionID, err := periodSessionID(ctx, a)
	if err != nil {
		return err
	}
	periods, err := a.engine.ListPeriods(ctx, currentUser(), sessionID)
	if err != nil {
		return explain(err)
	}
	if len(periods) == 0 {
		ui.Info("No periods on session %s", sessionID)
		return nil
	}

	table := ui.Table([]string{"ID", "Start", "End", "Duration", "Interrupted"})
	for _, p := range periods {
		table.Append(periodRow(p, a))
	}
	return table.Render()
}
