package zombie

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RepairReport counts what a repair run changed.
type RepairReport struct {
	ForceClosedPeriods  int `json:"forceClosedPeriods"`
	ForceClosedSessions int `json:"forceClosedSessions"`
	ClampedDurations    int `json:"clampedDurations"`
	Failed              int `json:"failed"`
}

// Repair is the one-time maintenance pass over the whole table. It closes
// every zombie regardless of batch size, then clamps each closed period whose
// duration lies outside [0, threshold] to the nearest bound. The original
// value is kept in raw_duration_min and end_time is moved so that the
// duration still matches the interval.
func (r *Reconciler) Repair(ctx context.Context) (RepairReport, error) {
	var rep RepairReport

	res, err := r.closeStale(ctx, AllUsers(), 0)
	rep.ForceClosedPeriods = res.ClosedPeriods
	rep.ForceClosedSessions = res.ClosedSessions
	rep.Failed = res.Failed
	if err != nil {
		return rep, err
	}

	ceiling := r.cfg.Threshold.Minutes()
	periods, err := r.store.ListPeriodsOutsideRange(ctx, 0, ceiling)
	if err != nil {
		return rep, fmt.Errorf("list out-of-range periods: %w", err)
	}

	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		raw := p.Minutes()
		clamped := math.Min(math.Max(raw, 0), ceiling)
		end := p.StartTime.Add(time.Duration(clamped * float64(time.Minute)))

		ok, err := r.store.RepairPeriodDuration(ctx, p.ID, end, clamped, raw)
		if err != nil {
			rep.Failed++
			r.logger.Warn("clamp period duration failed", "period_id", p.ID, "error", err)
			continue
		}
		if ok {
			rep.ClampedDurations++
			r.logger.Debug("clamped period duration", "period_id", p.ID, "raw", raw, "clamped", clamped)
		}
	}
	return rep, nil
}
