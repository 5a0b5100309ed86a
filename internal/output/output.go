package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI writes the CLI's prefixed status lines and tables. Warnings and dry-run
// notices go to ErrOut so command output stays pipeable.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI on stdout and stderr.
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

// Color helpers for values embedded in messages.
var (
	Cyan   = color.New(color.FgHiCyan).SprintFunc()
	Green  = color.New(color.FgHiGreen).SprintFunc()
	Yellow = color.New(color.FgHiYellow).SprintFunc()
	Red    = color.New(color.FgHiRed).SprintFunc()
)

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = Green("\u2713")
	warningPrefix = Yellow("\u26a0")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  \u2192")
)

// StateColor renders a session or period state.
func StateColor(open bool) string {
	if open {
		return Yellow("open")
	}
	return Cyan("closed")
}

// FocusIndexColor returns the focus index colored by how close it is to plan.
func FocusIndexColor(index int) string {
	s := strconv.Itoa(index)
	switch {
	case index >= 80:
		return Green(s)
	case index >= 50:
		return Yellow(s)
	default:
		return Red(s)
	}
}

// InterruptedColor renders a period's interruption flag; nil is still open.
func InterruptedColor(flag *bool) string {
	switch {
	case flag == nil:
		return "-"
	case *flag:
		return Red("yes")
	default:
		return Green("no")
	}
}

// Minutes formats a duration in minutes with one decimal.
func Minutes(m float64) string {
	return strconv.FormatFloat(m, 'f', 1, 64) + "m"
}

// Time formats an optional instant in loc, or "-" when nil.
func Time(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

func emit(w io.Writer, prefix, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { emit(u.Out, infoPrefix, format, a) }
func (u *UI) Success(format string, a ...any) { emit(u.Out, successPrefix, format, a) }
func (u *UI) Warning(format string, a ...any) { emit(u.ErrOut, warningPrefix, format, a) }

// VerboseLog prints only with --verbose.
func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		emit(u.Out, verbosePrefix, format, a)
	}
}

// DryRunMsg describes a skipped write; it is silent outside dry-run mode.
func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		emit(u.ErrOut, warningPrefix, "[DRY-RUN] "+format, a)
	}
}

// Table returns a borderless, left-aligned table writing to Out.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
