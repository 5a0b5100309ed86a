package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/focus"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
)

var (
	sessionTask      int64
	sessionPlanned   int
	sessionCompleted bool
	sessionRecompute bool
	sessionLimit     int
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"s"},
	Short:   "Start, end and inspect pomodoro sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionActiveRun(cmd.Context())
	},
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session (fails if one is already open)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionStartRun(cmd.Context())
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session (default: the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionEndRun(cmd.Context(), args)
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun(cmd.Context())
	},
}

var sessionActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the active session and its open period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionActiveRun(cmd.Context())
	},
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats [session-id]",
	Short: "Summarize the focus periods of a session (default: the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionStatsRun(cmd.Context(), args)
	},
}

func init() {
	sessionStartCmd.Flags().Int64Var(&sessionTask, "task", 0, "Task id the session works on")
	sessionStartCmd.Flags().IntVar(&sessionPlanned, "planned", focus.DefaultPlannedMinutes, "Planned minutes")
	sessionEndCmd.Flags().BoolVar(&sessionCompleted, "completed", false, "Mark the underlying task as finished")
	sessionEndCmd.Flags().BoolVar(&sessionRecompute, "recompute", false, "Replace planned minutes with the summed focus time")
	sessionListCmd.Flags().IntVar(&sessionLimit, "limit", 20, "Maximum sessions to list (0 = all)")

	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd, sessionListCmd, sessionActiveCmd, sessionStatsCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionStartRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	in := focus.StartSessionInput{UserID: currentUser(), PlannedMinutes: sessionPlanned}
	if sessionTask != 0 {
		in.TaskID = &sessionTask
	}
	if dryRun {
		ui.DryRunMsg("Would start a %d minute session for user %d", sessionPlanned, in.UserID)
		return nil
	}

	sess, err := a.engine.StartSession(ctx, in)
	if err != nil {
		return explain(err)
	}
	ui.Success("Session %s started (%d min planned)", output.Cyan(sess.ID), sess.PlannedDurationMinutes)
	return nil
}

func sessionEndRun(ctx context.Context, args []string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	id, err := sessionArg(ctx, a, args)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would end session %s", id)
		return nil
	}

	sess, err := a.engine.EndSession(ctx, id, focus.EndSessionInput{
		UserID:            currentUser(),
		CompletedFlag:     sessionCompleted,
		RecomputeDuration: sessionRecompute,
	})
	if err != nil {
		return explain(err)
	}
	ui.Success("Session %s ended at %s", output.Cyan(sess.ID), output.Time(sess.CompletedAt, a.location))

	if open, err := a.engine.ActivePeriod(ctx, currentUser(), id); err == nil && open != nil {
		ui.Warning("Period %s is still open; end it with 'arzu period end'", open.ID)
	}
	return nil
}

func sessionListRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	sessions, err := a.engine.ListSessions(ctx, currentUser(), sessionLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Task", "Planned", "Started", "Completed", "State", "Done"})
	for _, s := range sessions {
		table.Append([]string{
			s.ID,
			taskLabel(s.TaskID),
			fmt.Sprintf("%dm", s.PlannedDurationMinutes),
			output.Time(&s.StartedAt, a.location),
			output.Time(s.CompletedAt, a.location),
			output.StateColor(s.IsOpen()),
			fmt.Sprintf("%t", s.CompletedFlag),
		})
	}
	return table.Render()
}

func sessionActiveRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	return showActive(ctx, a, currentUser())
}

// showActive prints the user's open session and open period, if any.
func showActive(ctx context.Context, a *app, userID int64) error {
	sess, err := a.engine.ActiveSession(ctx, userID)
	if err != nil {
		return err
	}
	if sess == nil {
		ui.Info("No active session for user %d", userID)
		return nil
	}

	fmt.Fprintf(ui.Out, "Session   %s\n", output.Cyan(sess.ID))
	fmt.Fprintf(ui.Out, "Task      %s\n", taskLabel(sess.TaskID))
	fmt.Fprintf(ui.Out, "Planned   %dm\n", sess.PlannedDurationMinutes)
	fmt.Fprintf(ui.Out, "Started   %s\n", output.Time(&sess.StartedAt, a.location))

	p, err := a.engine.ActivePeriod(ctx, userID, sess.ID)
	if err != nil {
		return err
	}
	if p == nil {
		fmt.Fprintf(ui.Out, "Period    %s\n", output.Yellow("none"))
		return nil
	}
	fmt.Fprintf(ui.Out, "Period    %s since %s\n", output.Cyan(p.ID), output.Time(&p.StartTime, a.location))
	return nil
}

func sessionStatsRun(ctx context.Context, args []string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	id, err := sessionArg(ctx, a, args)
	if err != nil {
		return err
	}
	st, err := a.engine.SessionPeriodStats(ctx, currentUser(), id)
	if err != nil {
		return explain(err)
	}

	fmt.Fprintf(ui.Out, "Session        %s\n", output.Cyan(st.SessionID))
	fmt.Fprintf(ui.Out, "Periods        %d (%d closed, %d open)\n", st.PeriodCount, st.ClosedCount, st.OpenCount)
	fmt.Fprintf(ui.Out, "Interrupted    %d\n", st.InterruptedCount)
	fmt.Fprintf(ui.Out, "Focus time     %s of %dm planned\n", output.Minutes(st.TotalFocusMinutes), st.PlannedMinutes)
	fmt.Fprintf(ui.Out, "Average        %s\n", output.Minutes(st.AveragePeriodMinutes))
	fmt.Fprintf(ui.Out, "Longest        %s\n", output.Minutes(st.LongestPeriodMinutes))
	fmt.Fprintf(ui.Out, "Focus index    %s\n", output.FocusIndexColor(st.FocusIndex))
	return nil
}

// sessionArg resolves an explicit session id or falls back to the user's
// active session.
func sessionArg(ctx context.Context, a *app, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	sess, err := a.engine.ActiveSession(ctx, currentUser())
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", fmt.Errorf("no active session for user %d; pass a session id", currentUser())
	}
	return sess.ID, nil
}

func taskLabel(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

// explain adds a hint naming the blocking record to conflict errors.
func explain(err error) error {
	var fe *focus.Error
	if !errors.As(err, &fe) || fe.Kind != focus.KindConflict {
		return err
	}
	switch {
	case fe.Period != nil && fe.Period.IsOpen():
		return fmt.Errorf("%w (end it with 'arzu period end %s')", err, fe.Period.ID)
	case fe.Session != nil && fe.Session.IsOpen():
		return fmt.Errorf("%w (end it with 'arzu session end %s')", err, fe.Session.ID)
	}
	return err
}

// periodRow renders one period for tables.
func periodRow(p *models.FocusPeriod, a *app) []string {
	duration := "-"
	if p.DurationMinutes != nil {
		duration = output.Minutes(*p.DurationMinutes)
	}
	return []string{
		p.ID,
		output.Time(&p.StartTime, a.location),
		output.Time(p.EndTime, a.location),
		duration,
		output.InterruptedColor(p.IsInterrupted),
	}
}
