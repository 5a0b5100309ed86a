// Package zombie closes sessions and periods left open by an abnormal exit.
//
// The scheduled sweep and the inline check before a period start both go
// through CloseStale, so a zombie is closed the same way whichever trigger
// finds it first.
package zombie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

// Store is the subset of store.Store the reconciler needs.
type Store interface {
	ListOpenPeriods(ctx context.Context, filter store.OpenPeriodFilter) ([]*models.FocusPeriod, error)
	ClosePeriod(ctx context.Context, id string, c store.PeriodClose) (bool, error)
	ListOpenSessions(ctx context.Context, filter store.OpenSessionFilter) ([]*models.PomodoroSession, error)
	ListPeriods(ctx context.Context, sessionID string) ([]*models.FocusPeriod, error)
	CloseSession(ctx context.Context, id string, c store.SessionClose) (bool, error)
	ListPeriodsOutsideRange(ctx context.Context, min, max float64) ([]*models.FocusPeriod, error)
	RepairPeriodDuration(ctx context.Context, id string, end time.Time, duration, raw float64) (bool, error)
}

// Config controls staleness thresholds and sweep cadence.
type Config struct {
	// Threshold is how long a period may stay open before it is force-closed.
	Threshold time.Duration
	// SessionThreshold is how long an open session may go without activity.
	// Zero disables session closing.
	SessionThreshold time.Duration
	Interval         time.Duration
	// Budget bounds one scheduled sweep.
	Budget time.Duration
	// BatchSize caps rows per kind in one scheduled sweep; leftovers are
	// picked up by the next run.
	BatchSize int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:        120 * time.Minute,
		SessionThreshold: 12 * time.Hour,
		Interval:         5 * time.Minute,
		Budget:           30 * time.Second,
		BatchSize:        500,
	}
}

// Scope limits a reconciliation to one user. The zero Scope covers everyone.
type Scope struct {
	UserID int64
}

// AllUsers is the scope of the scheduled sweep.
func AllUsers() Scope { return Scope{} }

// User scopes a reconciliation to one user.
func User(id int64) Scope { return Scope{UserID: id} }

// Result counts what one reconciliation changed.
type Result struct {
	ClosedPeriods  int `json:"closedPeriods"`
	ClosedSessions int `json:"closedSessions"`
	Failed         int `json:"failed"`
}

// Reconciler finds and closes zombie records.
type Reconciler struct {
	store  Store
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock that defines "now".
func WithClock(c clock.Clock) Option { return func(r *Reconciler) { r.clock = c } }

// WithLogger sets the reconciler logger.
func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// New returns a reconciler. Zero fields in cfg take their defaults.
func New(s Store, cfg Config, opts ...Option) *Reconciler {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	r := &Reconciler{
		store:  s,
		clock:  clock.Real{},
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Threshold returns the period staleness threshold.
func (r *Reconciler) Threshold() time.Duration { return r.cfg.Threshold }

// CloseStale force-closes every open period in scope that started more than
// the threshold ago, then every open session in scope that has no open period
// and no activity within the session threshold. A failure on one row is
// logged and counted; the rest are still processed.
func (r *Reconciler) CloseStale(ctx context.Context, scope Scope) (Result, error) {
	return r.closeStale(ctx, scope, 0)
}

// CloseStaleForUser runs CloseStale for one user. The engine calls it before
// starting a session or period.
func (r *Reconciler) CloseStaleForUser(ctx context.Context, userID int64) error {
	res, err := r.CloseStale(ctx, User(userID))
	if err != nil {
		return err
	}
	if res.ClosedPeriods > 0 || res.ClosedSessions > 0 {
		r.logger.Info("closed stale records before start", "user_id", userID,
			"periods", res.ClosedPeriods, "sessions", res.ClosedSessions)
	}
	return nil
}

func (r *Reconciler) closeStale(ctx context.Context, scope Scope, limit int) (Result, error) {
	var res Result
	now := r.clock.Now()

	periods, err := r.store.ListOpenPeriods(ctx, store.OpenPeriodFilter{
		UserID:        scope.UserID,
		StartedBefore: now.Add(-r.cfg.Threshold),
		Limit:         limit,
	})
	if err != nil {
		return res, fmt.Errorf("list stale periods: %w", err)
	}

	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		closed, err := r.closePeriod(ctx, p)
		if err != nil {
			res.Failed++
			r.logger.Warn("force-close period failed", "period_id", p.ID, "error", err)
			continue
		}
		if closed {
			res.ClosedPeriods++
		}
	}

	if r.cfg.SessionThreshold <= 0 {
		return res, nil
	}

	sessions, err := r.store.ListOpenSessions(ctx, store.OpenSessionFilter{
		UserID:        scope.UserID,
		StartedBefore: now.Add(-r.cfg.SessionThreshold),
		Limit:         limit,
	})
	if err != nil {
		return res, fmt.Errorf("list stale sessions: %w", err)
	}

	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		closed, err := r.closeSession(ctx, s, now)
		if err != nil {
			res.Failed++
			r.logger.Warn("force-close session failed", "session_id", s.ID, "error", err)
			continue
		}
		if closed {
			res.ClosedSessions++
		}
	}
	return res, nil
}

// closePeriod is the one force-close primitive: the period ends exactly one
// threshold after it started and is marked interrupted. It reports false when
// the period was closed by someone else first.
func (r *Reconciler) closePeriod(ctx context.Context, p *models.FocusPeriod) (bool, error) {
	ok, err := r.store.ClosePeriod(ctx, p.ID, store.PeriodClose{
		EndTime:         p.StartTime.Add(r.cfg.Threshold),
		DurationMinutes: clock.Round1(r.cfg.Threshold.Minutes()),
		IsInterrupted:   true,
	})
	if err != nil {
		return false, err
	}
	if ok {
		r.logger.Debug("force-closed stale period", "period_id", p.ID, "session_id", p.SessionID, "user_id", p.UserID)
	}
	return ok, nil
}

// closeSession ends a session at its last activity when it has no open
// period and has been idle for longer than the session threshold.
func (r *Reconciler) closeSession(ctx context.Context, s *models.PomodoroSession, now time.Time) (bool, error) {
	periods, err := r.store.ListPeriods(ctx, s.ID)
	if err != nil {
		return false, fmt.Errorf("list periods: %w", err)
	}

	last := s.StartedAt
	for _, p := range periods {
		if p.IsOpen() {
			return false, nil
		}
		if p.EndTime.After(last) {
			last = *p.EndTime
		}
	}
	if now.Sub(last) <= r.cfg.SessionThreshold {
		return false, nil
	}

	ok, err := r.store.CloseSession(ctx, s.ID, store.SessionClose{
		CompletedAt:   last,
		CompletedFlag: s.CompletedFlag,
	})
	if err != nil {
		return false, err
	}
	if ok {
		r.logger.Debug("force-closed stale session", "session_id", s.ID, "user_id", s.UserID)
	}
	return ok, nil
}

// Sweep runs one scheduled pass over all users within the configured budget.
// Rows left over when the budget runs out are handled by the next pass.
func (r *Reconciler) Sweep(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	start := time.Now()
	res, err := r.closeStale(ctx, AllUsers(), r.cfg.BatchSize)
	if errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("zombie sweep hit its budget", "budget", r.cfg.Budget,
			"periods", res.ClosedPeriods, "sessions", res.ClosedSessions)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	r.logger.Debug("zombie sweep finished", "periods", res.ClosedPeriods, "sessions", res.ClosedSessions,
		"failed", res.Failed, "elapsed", time.Since(start))
	return res, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
// Sweep errors are logged, never returned.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepAndLog(ctx)
		}
	}
}

func (r *Reconciler) sweepAndLog(ctx context.Context) {
	res, err := r.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("zombie sweep failed", "error", err)
		}
		return
	}
	if res.ClosedPeriods > 0 || res.ClosedSessions > 0 {
		r.logger.Info("zombie sweep closed stale records", "periods", res.ClosedPeriods, "sessions", res.ClosedSessions)
	}
}
