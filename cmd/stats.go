package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/llm"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/output"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
)

var (
	statsWindow string
	statsAt     string
	statsJSON   bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Weekly or monthly focus and habit statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsFocusRun(cmd.Context())
	},
}

var statsFocusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Focus time, interruptions and focus index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsFocusRun(cmd.Context())
	},
}

var statsHabitCmd = &cobra.Command{
	Use:   "habit",
	Short: "Problematic task edits by category, type and hour",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsHabitRun(cmd.Context())
	},
}

var statsInsightCmd = &cobra.Command{
	Use:   "insight",
	Short: "Summarize focus and habit statistics with an LLM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsInsightRun(cmd.Context())
	},
}

func init() {
	statsCmd.PersistentFlags().StringVarP(&statsWindow, "window", "w", "week", "Window: week or month")
	statsCmd.PersistentFlags().StringVar(&statsAt, "at", "", "Reference instant (default: now)")
	statsCmd.PersistentFlags().BoolVar(&statsJSON, "json", false, "Print the report as JSON")

	statsCmd.AddCommand(statsFocusCmd, statsHabitCmd, statsInsightCmd)
	rootCmd.AddCommand(statsCmd)
}

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

// statsArgs parses the window and reference instant flags.
func statsArgs() (stats.WindowKind, time.Time, error) {
	kind, err := stats.ParseWindowKind(statsWindow)
	if err != nil {
		return "", time.Time{}, err
	}
	now := clock.Real{}.Now()
	if statsAt != "" {
		if now, err = clock.ParseString(statsAt); err != nil {
			return "", time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
	}
	return kind, now, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statsFocusRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	kind, now, err := statsArgs()
	if err != nil {
		return err
	}
	rep, err := a.stats.Focus(ctx, currentUser(), kind, now)
	if err != nil {
		return err
	}
	if statsJSON {
		return printJSON(rep)
	}
	printFocus(rep, a.location)
	return nil
}

func printFocus(rep *stats.FocusReport, loc *time.Location) {
	fmt.Fprintf(ui.Out, "Focus (%s %s to %s, %d days elapsed)\n\n", rep.Window,
		rep.From.In(loc).Format("2006-01-02"), rep.To.In(loc).Add(-time.Second).Format("2006-01-02"), rep.ElapsedDays)
	fmt.Fprintf(ui.Out, "  Focus time        %s of %dm planned\n", output.Minutes(rep.TotalFocusMinutes), rep.TotalPlannedMinutes)
	fmt.Fprintf(ui.Out, "  Periods           %d (%d interrupted)\n", rep.PeriodCount, rep.InterruptedCount)
	fmt.Fprintf(ui.Out, "  Avg focus / day   %s\n", output.Minutes(rep.AvgFocusTime))
	fmt.Fprintf(ui.Out, "  Avg interrupts    %.1f\n", rep.AvgInterruptions)
	fmt.Fprintf(ui.Out, "  Focus index       %s\n", output.FocusIndexColor(rep.FocusIndex))
	if rep.ExcludedOutliers > 0 {
		ui.Warning("%d periods above the outlier ceiling were excluded", rep.ExcludedOutliers)
	}
	if len(rep.Daily) == 0 {
		return
	}

	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"Date", "Focus", "Planned", "Interrupts", "Index"})
	for _, d := range rep.Daily {
		table.Append([]string{
			d.Date,
			output.Minutes(d.FocusMinutes),
			fmt.Sprintf("%dm", d.PlannedMinutes),
			fmt.Sprintf("%d", d.Interruptions),
			output.FocusIndexColor(d.FocusIndex),
		})
	}
	_ = table.Render()
}

func statsHabitRun(ctx context.Context) error {
	a, err := getApp()
	if err != nil {
		return err
	}
	kind, now, err := statsArgs()
	if err != nil {
		return err
	}
	rep, err := a.stats.Habit(ctx, currentUser(), kind, now)
	if err != nil {
		return err
	}
	if statsJSON {
		return printJSON(rep)
	}
	printHabit(rep)
	return nil
}

func printHabit(rep *stats.HabitReport) {
	fmt.Fprintf(ui.Out, "Habits (%s)\n\n", rep.Window)
	fmt.Fprintf(ui.Out, "  Tasks created         %d\n", rep.TotalTasksCreated)
	fmt.Fprintf(ui.Out, "  Problematic events    %d (%d%%)\n", rep.TotalProblematicEvents, rep.ProblematicEventRatio)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Category", "Tasks", "Affected", "%"})
	for _, c := range rep.Categories {
		table.Append([]string{string(c.Category), fmt.Sprintf("%d", c.Total), fmt.Sprintf("%d", c.Affected), fmt.Sprintf("%d", c.Percentage)})
	}
	_ = table.Render()

	if len(rep.PeakHours) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "Peak hours (%s)\n", rep.HistogramOffset)
		for _, h := range rep.PeakHours {
			fmt.Fprintf(ui.Out, "  %s  %d\n", h.Label, h.Count)
		}
	}
}

func statsInsightRun(ctx context.Context) error {
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("LLM not configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	a, err := getApp()
	if err != nil {
		return err
	}
	kind, now, err := statsArgs()
	if err != nil {
		return err
	}
	fr, err := a.stats.Focus(ctx, currentUser(), kind, now)
	if err != nil {
		return err
	}
	hr, err := a.stats.Habit(ctx, currentUser(), kind, now)
	if err != nil {
		return err
	}

	ui.VerboseLog("Requesting insight from %s", viper.GetString("anthropic.model"))
	in, err := client.Insight(ctx, fr, hr)
	if err != nil {
		return err
	}
	if statsJSON {
		return printJSON(in)
	}

	fmt.Fprintln(ui.Out, in.Summary)
	if len(in.Strengths) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, output.Green("Strengths"))
		for _, s := range in.Strengths {
			fmt.Fprintf(ui.Out, "  - %s\n", s)
		}
	}
	if len(in.Suggestions) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, output.Yellow("Suggestions"))
		for _, s := range in.Suggestions {
			fmt.Fprintf(ui.Out, "  - %s\n", s)
		}
	}
	return nil
}
