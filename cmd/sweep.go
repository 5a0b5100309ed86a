package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Force-close zombie periods and sessions once",
	Long: `Close focus periods left open longer than zombie.threshold, marking them
interrupted with a duration equal to the threshold, and sessions idle longer
than zombie.session_threshold. 'arzu serve' runs this on zombie.interval.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sweepRun(cmd.Context())
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "One-time repair of historical focus data",
	Long: `Close every zombie period and session regardless of batch size, then clamp
closed period durations into [0, zombie.threshold]. The original value of a
clamped duration is kept in raw_duration_min. Safe to run more than once.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return repairRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(repairCmd)
}

func sweepRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would close periods open longer than %s", a.reconciler.Threshold())
		return nil
	}

	res, err := a.reconciler.Sweep(ctx)
	if err != nil {
		return err
	}
	ui.Success("Closed %d periods and %d sessions", res.ClosedPeriods, res.ClosedSessions)
	if res.Failed > 0 {
		ui.Warning("%d records could not be closed; see the log", res.Failed)
	}
	return nil
}

func repairRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would repair zombie records and clamp durations to [0, %s]", a.reconciler.Threshold())
		return nil
	}

	rep, err := a.reconciler.Repair(ctx)
	if err != nil {
		return err
	}
	table := ui.Table([]string{"Action", "Count"})
	table.Append([]string{"Force-closed periods", fmt.Sprintf("%d", rep.ForceClosedPeriods)})
	table.Append([]string{"Force-closed sessions", fmt.Sprintf("%d", rep.ForceClosedSessions)})
	table.Append([]string{"Clamped durations", fmt.Sprintf("%d", rep.ClampedDurations)})
	if rep.Failed > 0 {
		table.Append([]string{"Failed", output.Red(fmt.Sprintf("%d", rep.Failed))})
	}
	return table.Render()
}
