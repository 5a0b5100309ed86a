package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

var (
	taskCategory string
	taskPriority string
	briefSession string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Record tasks and task change-log entries used by habit statistics",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Record a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskAddRun(cmd.Context(), strings.Join(args, " "))
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task with its sessions and periods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskRmRun(cmd.Context(), args[0])
	},
}

var taskLogCmd = &cobra.Command{
	Use:   "log <task-id> <type> [content...]",
	Short: "Append a change-log entry to a task",
	Long: `Append a change-log entry to a task. Types 1-4 are problematic edits
counted by habit statistics:

  1 delete_reason    2 category_change
  3 priority_change  4 due_date_change
  5-8 remarks (general, progress, blocker, review)`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskLogRun(cmd.Context(), args[0], args[1], strings.Join(args[2:], " "))
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task with its focus totals and change log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return taskShowRun(cmd.Context(), args[0])
	},
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskCategory, "category", "c", "", "Category: work, study, life, health")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "", "Priority label")
	taskLogCmd.Flags().StringVar(&briefSession, "session", "", "Session id (default: the task's latest session)")

	taskCmd.AddCommand(taskAddCmd, taskRmCmd, taskLogCmd, taskShowCmd)
	rootCmd.AddCommand(taskCmd)
}

func parseTaskID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}

// parseBriefType accepts a type number or its name.
func parseBriefType(raw string) (models.BriefType, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		t := models.BriefType(n)
		if !t.Valid() {
			return 0, fmt.Errorf("brief type must be between 1 and 8, got %d", n)
		}
		return t, nil
	}
	for t := models.BriefTypeDeleteReason; t <= models.BriefTypeRemarkReview; t++ {
		if t.String() == raw {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown brief type %q", raw)
}

func taskAddRun(ctx context.Context, title string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	t := &models.Task{
		UserID:   currentUser(),
		Title:    title,
		Category: models.TaskCategory(taskCategory),
		Priority: taskPriority,
	}
	if dryRun {
		ui.DryRunMsg("Would record task %q", title)
		return nil
	}
	if err := a.engine.CreateTask(ctx, t); err != nil {
		return err
	}
	ui.Success("Task %d recorded", t.ID)
	return nil
}

func taskRmRun(ctx context.Context, raw string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	id, err := parseTaskID(raw)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete task %d with its sessions and periods", id)
		return nil
	}
	if err := a.engine.DeleteTask(ctx, currentUser(), id); err != nil {
		return err
	}
	ui.Success("Task %d deleted", id)
	return nil
}

func taskLogRun(ctx context.Context, rawID, rawType, content string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	id, err := parseTaskID(rawID)
	if err != nil {
		return err
	}
	bt, err := parseBriefType(rawType)
	if err != nil {
		return err
	}
	b := &models.BriefLog{TaskID: id, UserID: currentUser(), Type: bt, Content: content}
	if briefSession != "" {
		b.SessionID = &briefSession
	}
	if dryRun {
		ui.DryRunMsg("Would log %s on task %d", bt, id)
		return nil
	}
	if err := a.engine.LogBrief(ctx, b); err != nil {
		return err
	}
	ui.Success("Logged %s on task %d", bt, id)
	return nil
}

func taskShowRun(ctx context.Context, raw string) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	id, err := parseTaskID(raw)
	if err != nil {
		return err
	}
	t, err := a.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.UserID != currentUser() {
		return fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	totals, err := a.store.TaskTotals(ctx, id)
	if err != nil {
		return err
	}
	logs, err := a.store.ListBriefLogs(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Task %d  %s\n", t.ID, output.Cyan(t.Title))
	fmt.Fprintf(ui.Out, "  Category     %s\n", orDash(string(t.Category)))
	fmt.Fprintf(ui.Out, "  Sessions     %d (%dm planned)\n", totals.SessionCount, totals.PlannedMinutes)
	fmt.Fprintf(ui.Out, "  Focus time   %s over %d periods (%d interrupted)\n",
		output.Minutes(totals.FocusMinutes), totals.ClosedPeriodCount, totals.InterruptedCount)

	if len(logs) == 0 {
		return nil
	}
	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"When", "Type", "Content"})
	for _, b := range logs {
		table.Append([]string{output.Time(&b.CreatedAt, a.location), b.Type.String(), b.Content})
	}
	return table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
