package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
)

const (
	bucketHours = 2
	bucketCount = 24 / bucketHours
	topBuckets  = 3
)

// HabitReport measures how often tasks created in a window were reshuffled.
type HabitReport struct {
	Window                 WindowKind     `json:"window"`
	From                   time.Time      `json:"from"`
	To                     time.Time      `json:"to"`
	TotalTasksCreated      int            `json:"totalTasksCreated"`
	TotalProblematicEvents int            `json:"totalProblematicEvents"`
	ProblematicEventRatio  int            `json:"problematicEventRatio"`
	Categories             []CategoryStat `json:"categories"`
	EventsByType           map[string]int `json:"eventsByType"`
	PeakHours              []HourBucket   `json:"peakHours"`
	HistogramOffset        string         `json:"histogramOffset"`
}

// CategoryStat is the per-category share of affected tasks.
type CategoryStat struct {
	Category   models.TaskCategory `json:"category"`
	Total      int                 `json:"total"`
	Affected   int                 `json:"affected"`
	Percentage int                 `json:"percentage"`
}

// HourBucket counts problematic events in one two-hour slot.
type HourBucket struct {
	StartHour int    `json:"startHour"`
	Label     string `json:"label"`
	Count     int    `json:"count"`
}

func buildHabit(w Window, tasks []*models.Task, logs []*models.BriefLog, categories []models.TaskCategory, zone *time.Location) *HabitReport {
	rep := &HabitReport{
		Window:          w.Kind,
		From:            w.Start,
		To:              w.End,
		EventsByType:    make(map[string]int, len(models.ProblematicBriefTypes)),
		HistogramOffset: zone.String(),
	}
	for _, t := range models.ProblematicBriefTypes {
		rep.EventsByType[t.String()] = 0
	}

	recognized := make(map[models.TaskCategory]bool, len(categories))
	for _, c := range categories {
		recognized[c] = true
	}

	affected := make(map[int64]bool)
	var buckets [bucketCount]int
	for _, l := range logs {
		if !l.Type.IsProblematic() {
			continue
		}
		affected[l.TaskID] = true
		rep.EventsByType[l.Type.String()]++
		buckets[l.CreatedAt.In(zone).Hour()/bucketHours]++
	}
	rep.TotalProblematicEvents = len(affected)

	perCategory := make(map[models.TaskCategory]*CategoryStat, len(categories))
	rep.Categories = make([]CategoryStat, len(categories))
	for i, c := range categories {
		rep.Categories[i].Category = c
		perCategory[c] = &rep.Categories[i]
	}
	for _, t := range tasks {
		if t.Category == "" || !recognized[t.Category] {
			continue
		}
		rep.TotalTasksCreated++
		cs := perCategory[t.Category]
		cs.Total++
		if affected[t.ID] {
			cs.Affected++
		}
	}
	for i := range rep.Categories {
		rep.Categories[i].Percentage = percent(rep.Categories[i].Affected, rep.Categories[i].Total)
	}
	rep.ProblematicEventRatio = percent(rep.TotalProblematicEvents, rep.TotalTasksCreated)

	rep.PeakHours = peakHours(buckets)
	return rep
}

// percent is round(100 * n / d), or 0 when d is 0.
func percent(n, d int) int {
	if d == 0 {
		return 0
	}
	return int(math.Round(100 * float64(n) / float64(d)))
}

// peakHours returns the busiest non-empty buckets, count descending and then
// earliest first.
func peakHours(buckets [bucketCount]int) []HourBucket {
	var out []HourBucket
	for i, n := range buckets {
		if n == 0 {
			continue
		}
		start := i * bucketHours
		out = append(out, HourBucket{
			StartHour: start,
			Label:     fmt.Sprintf("%02d:00-%02d:00", start, start+bucketHours),
			Count:     n,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].StartHour < out[j].StartHour
	})
	if len(out) > topBuckets {
		out = out[:topBuckets]
	}
	return out
}
