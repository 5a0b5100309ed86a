package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

var (
	reportFormat string
	exportType   string
	exportLimit  int
	exportDays   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, YAML, CSV, or Markdown",
	Long:  "Export sessions, focus periods, or daily focus totals in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, yaml, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "sessions", "Data type: sessions, periods, daily")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "Maximum sessions to export (0 = all)")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "Days of daily totals to export")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}

	switch exportType {
	case "sessions":
		return exportSessions(ctx, a.store)
	case "periods":
		return exportPeriods(ctx, a.store)
	case "daily":
		return exportDaily(ctx, a.store)
	default:
		return fmt.Errorf("unknown export type: %s (use: sessions, periods, daily)", exportType)
	}
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 1, 64)
}

func optBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAMLTo renders v as YAML using the field names of its JSON form.
func writeYAMLTo(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func exportSessions(ctx context.Context, s store.Store) error {
	sessions, err := s.ListSessions(ctx, currentUser(), exportLimit)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []*models.PomodoroSession{}
	}

	switch reportFormat {
	case "json":
		return writeJSONTo(ui.Out, sessions)
	case "yaml":
		return writeYAMLTo(ui.Out, sessions)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "TaskID", "PlannedMinutes", "StartedAt", "CompletedAt", "Completed"})
		for _, sess := range sessions {
			w.Write([]string{sess.ID, taskLabel(sess.TaskID), strconv.Itoa(sess.PlannedDurationMinutes),
				optTime(&sess.StartedAt), optTime(sess.CompletedAt), strconv.FormatBool(sess.CompletedFlag)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Sessions")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| ID | Planned | Started | Completed |")
		fmt.Fprintln(ui.Out, "|----|---------|---------|-----------|")
		for _, sess := range sessions {
			fmt.Fprintf(ui.Out, "| %s | %dm | %s | %s |\n", sess.ID, sess.PlannedDurationMinutes,
				optTime(&sess.StartedAt), optTime(sess.CompletedAt))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportPeriods(ctx context.Context, s store.Store) error {
	sessions, err := s.ListSessions(ctx, currentUser(), exportLimit)
	if err != nil {
		return err
	}
	periods := []*models.FocusPeriod{}
	for _, sess := range sessions {
		ps, err := s.ListPeriods(ctx, sess.ID)
		if err != nil {
			return err
		}
		periods = append(periods, ps...)
	}

	switch reportFormat {
	case "json":
		return writeJSONTo(ui.Out, periods)
	case "yaml":
		return writeYAMLTo(ui.Out, periods)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "SessionID", "StartTime", "EndTime", "DurationMinutes", "Interrupted", "RawDurationMinutes"})
		for _, p := range periods {
			w.Write([]string{p.ID, p.SessionID, optTime(&p.StartTime), optTime(p.EndTime),
				optFloat(p.DurationMinutes), optBool(p.IsInterrupted), optFloat(p.RawDurationMinutes)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Focus Periods")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Session | Start | Minutes | Interrupted |")
		fmt.Fprintln(ui.Out, "|---------|-------|---------|-------------|")
		for _, p := range periods {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s |\n", p.SessionID, optTime(&p.StartTime),
				optFloat(p.DurationMinutes), optBool(p.IsInterrupted))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportDaily(ctx context.Context, s store.Store) error {
	if exportDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	to := clock.Real{}.Now()
	from := to.AddDate(0, 0, -exportDays)
	totals, err := s.DailyTotals(ctx, currentUser(), from, to)
	if err != nil {
		return err
	}
	if totals == nil {
		totals = []store.DailyTotals{}
	}

	switch reportFormat {
	case "json":
		return writeJSONTo(ui.Out, totals)
	case "yaml":
		return writeYAMLTo(ui.Out, totals)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"Date", "FocusMinutes", "Periods"})
		for _, d := range totals {
			w.Write([]string{d.Date, strconv.FormatFloat(d.FocusMinutes, 'f', 1, 64), strconv.Itoa(d.PeriodCount)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Daily Focus (UTC)")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Date | Minutes | Periods |")
		fmt.Fprintln(ui.Out, "|------|---------|---------|")
		for _, d := range totals {
			fmt.Fprintf(ui.Out, "| %s | %.1f | %d |\n", d.Date, d.FocusMinutes, d.PeriodCount)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

// reportCmd renders the focus and habit reports as one markdown document.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate markdown reports",
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Generate this week's focus and habit summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun(cmd.Context(), stats.WindowWeek)
	},
}

var reportMonthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Generate this month's focus and habit summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun(cmd.Context(), stats.WindowMonth)
	},
}

func init() {
	reportCmd.AddCommand(reportWeeklyCmd, reportMonthlyCmd)
	rootCmd.AddCommand(reportCmd)
}

func reportRun(ctx context.Context, kind stats.WindowKind) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	now := clock.Real{}.Now()
	fr, err := a.stats.Focus(ctx, currentUser(), kind, now)
	if err != nil {
		return err
	}
	hr, err := a.stats.Habit(ctx, currentUser(), kind, now)
	if err != nil {
		return err
	}
	writeMarkdownReport(ui.Out, fr, hr, a.location)
	return nil
}

func writeMarkdownReport(w io.Writer, fr *stats.FocusReport, hr *stats.HabitReport, loc *time.Location) {
	title := "Weekly"
	if fr.Window == stats.WindowMonth {
		title = "Monthly"
	}
	fmt.Fprintf(w, "# %s Focus Report (%s)\n\n", title, fr.From.In(loc).Format("2006-01-02"))

	fmt.Fprintln(w, "## Focus")
	fmt.Fprintf(w, "- Focus time: %.1f of %d planned minutes\n", fr.TotalFocusMinutes, fr.TotalPlannedMinutes)
	fmt.Fprintf(w, "- Periods: %d (%d interrupted)\n", fr.PeriodCount, fr.InterruptedCount)
	fmt.Fprintf(w, "- Daily average: %.1f minutes, %.1f interruptions\n", fr.AvgFocusTime, fr.AvgInterruptions)
	fmt.Fprintf(w, "- Focus index: %d\n", fr.FocusIndex)
	if len(fr.Daily) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Date | Focus | Planned | Interruptions | Index |")
		fmt.Fprintln(w, "|------|-------|---------|---------------|-------|")
		for _, d := range fr.Daily {
			fmt.Fprintf(w, "| %s | %.1f | %d | %d | %d |\n", d.Date, d.FocusMinutes, d.PlannedMinutes, d.Interruptions, d.FocusIndex)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Habits")
	fmt.Fprintf(w, "- Tasks created: %d\n", hr.TotalTasksCreated)
	fmt.Fprintf(w, "- Problematic edits: %d (%d%%)\n", hr.TotalProblematicEvents, hr.ProblematicEventRatio)
	for _, c := range hr.Categories {
		fmt.Fprintf(w, "- %s: %d of %d tasks affected (%d%%)\n", c.Category, c.Affected, c.Total, c.Percentage)
	}
	if len(hr.PeakHours) > 0 {
		fmt.Fprintf(w, "- Peak hours (%s):", hr.HistogramOffset)
		for _, h := range hr.PeakHours {
			fmt.Fprintf(w, " %s (%d)", h.Label, h.Count)
		}
		fmt.Fprintln(w)
	}
}
