package reconcile

import (
	"time"

	"trafficlog/models"
)

// Plan is what one snapshot contributes to an entity's history.
type Plan struct {
	// Entries are the rows to append, oldest first, all after the last
	// stored date.
	Entries []models.HistoryEntry
	// Bootstrap is set when the entity had no stored history.
	Bootstrap bool
	// PartialCoverage is set when the window starts after the day following
	// the last stored date, leaving days that can no longer be recovered.
	PartialCoverage bool
	// MissingDays counts the unrecoverable days when PartialCoverage is set.
	MissingDays int
	// Deltas holds non-zero scalar changes against the last stored entry.
	Deltas map[string]int64
}

// PlanEntity decides which window days of snap are new relative to last,
// which is nil for an entity without history. It never selects a date at or
// before last.Date.
func PlanEntity(last *models.HistoryEntry, snap *models.Snapshot) Plan {
	dates := snap.WindowDates()

	if last == nil {
		plan := Plan{Bootstrap: true, Entries: make([]models.HistoryEntry, 0, len(dates))}
		for _, d := range dates {
			plan.Entries = append(plan.Entries, snap.EntryFor(d))
		}
		return plan
	}

	lastDate := models.Day(last.Date)
	plan := Plan{Deltas: scalarDeltas(last.Scalars(), snap.Scalars)}

	for _, d := range dates {
		if d.After(lastDate) {
			plan.Entries = append(plan.Entries, snap.EntryFor(d))
		}
	}

	if len(plan.Entries) > 0 {
		expected := lastDate.AddDate(0, 0, 1)
		first := plan.Entries[0].Date
		if first.After(expected) {
			plan.PartialCoverage = true
			plan.MissingDays = daysBetween(expected, first)
		}
	}
	return plan
}

func scalarDeltas(previous, current map[string]int64) map[string]int64 {
	deltas := map[string]int64{}
	for _, name := range []string{models.MetricStars, models.MetricForks} {
		cur, ok := current[name]
		if !ok {
			continue
		}
		if d := cur - previous[name]; d != 0 {
			deltas[name] = d
		}
	}
	return deltas
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
