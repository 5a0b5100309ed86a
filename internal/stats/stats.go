// Package stats builds the windowed focus and habit reports. Every report is
// computed from one read-only snapshot and an explicit reference instant, so
// the same rows and instant always give the same output.
package stats

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

// Snapshotter runs reads against one consistent view of the data.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(store.Reader) error) error
}

// Config tunes report construction.
type Config struct {
	// OutlierCeiling drops closed periods longer than this many minutes.
	OutlierCeiling float64
	// Location defines calendar days and window bounds.
	Location *time.Location
	// HistogramZone is the fixed offset brief log hours are bucketed in.
	HistogramZone *time.Location
	// Categories are the recognized task categories, in report order.
	Categories []models.TaskCategory
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		OutlierCeiling: 300,
		Location:       time.Local,
		HistogramZone:  time.FixedZone("+08:00", 8*3600),
		Categories:     models.DefaultTaskCategories,
	}
}

// Aggregator builds reports from a store snapshot.
type Aggregator struct {
	store Snapshotter
	cfg   Config
}

// New returns an aggregator. Zero fields in cfg take their defaults.
func New(s Snapshotter, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.OutlierCeiling <= 0 {
		cfg.OutlierCeiling = def.OutlierCeiling
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.HistogramZone == nil {
		cfg.HistogramZone = def.HistogramZone
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	return &Aggregator{store: s, cfg: cfg}
}

// Focus builds the focus report for the window containing now.
func (a *Aggregator) Focus(ctx context.Context, userID int64, kind WindowKind, now time.Time) (*FocusReport, error) {
	w, err := NewWindow(kind, now, a.cfg.Location)
	if err != nil {
		return nil, err
	}

	var rows []store.FocusRow
	var sessions []*models.PomodoroSession
	err = a.store.Snapshot(ctx, func(r store.Reader) error {
		var err error
		if rows, err = r.ClosedFocusRows(ctx, userID, w.Start, w.End); err != nil {
			return err
		}
		sessions, err = r.SessionsStartedBetween(ctx, userID, w.Start, w.End)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("focus stats: %w", err)
	}
	return buildFocus(w, now, rows, sessions, a.cfg.OutlierCeiling), nil
}

// Habit builds the habit report for the window containing now.
func (a *Aggregator) Habit(ctx context.Context, userID int64, kind WindowKind, now time.Time) (*HabitReport, error) {
	w, err := NewWindow(kind, now, a.cfg.Location)
	if err != nil {
		return nil, err
	}

	var tasks []*models.Task
	var logs []*models.BriefLog
	err = a.store.Snapshot(ctx, func(r store.Reader) error {
		var err error
		if tasks, err = r.TasksCreatedBetween(ctx, userID, w.Start, w.End); err != nil {
			return err
		}
		logs, err = r.BriefLogsBetween(ctx, userID, w.Start, w.End, models.ProblematicBriefTypes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("habit stats: %w", err)
	}
	return buildHabit(w, tasks, logs, a.cfg.Categories, a.cfg.HistogramZone), nil
}

var offsetPattern = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

// ParseOffset turns "+08:00", "-0530" or "Z" into a fixed zone.
func ParseOffset(s string) (*time.Location, error) {
	if s == "Z" || s == "UTC" || s == "+00:00" {
		return time.FixedZone("+00:00", 0), nil
	}
	m := offsetPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid UTC offset %q", s)
	}
	h, _ := strconv.Atoi(m[2])
	min, _ := strconv.Atoi(m[3])
	if h > 14 || min > 59 {
		return nil, fmt.Errorf("invalid UTC offset %q", s)
	}
	secs := h*3600 + min*60
	if m[1] == "-" {
		secs = -secs
	}
	return time.FixedZone(fmt.Sprintf("%s%s:%s", m[1], m[2], m[3]), secs), nil
}

// LoadLocation resolves "Local", "UTC" or an IANA zone name.
func LoadLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
