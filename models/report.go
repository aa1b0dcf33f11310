package models

import (
	"sort"
	"time"
)

// RunReport summarises one run: membership changes, scalar deltas and the
// entities whose data is degraded.
type RunReport struct {
	RunDate         time.Time                          `json:"run_date"`
	TrackedEntities []string                           `json:"tracked_entities"`
	BeganTracking   []string                           `json:"began_tracking"`
	EndedTracking   []string                           `json:"ended_tracking"`
	ScalarChanges   map[string]map[string]int64        `json:"scalar_changes"`
	PartialCoverage []string                           `json:"partial_coverage_entities"`
	FailedEntities  map[string]string                  `json:"failed_entities"`
	Appended        map[string]int                     `json:"appended"`
	Rankings        map[string]map[string][]RankedItem `json:"rankings,omitempty"`
}

// NewRunReport returns an empty report for runDate with all collections allocated.
func NewRunReport(runDate time.Time) *RunReport {
	return &RunReport{
		RunDate:         Day(runDate),
		TrackedEntities: []string{},
		BeganTracking:   []string{},
		EndedTracking:   []string{},
		ScalarChanges:   map[string]map[string]int64{},
		PartialCoverage: []string{},
		FailedEntities:  map[string]string{},
		Appended:        map[string]int{},
		Rankings:        map[string]map[string][]RankedItem{},
	}
}

// Sort orders every set-valued field so encoded reports are stable.
func (r *RunReport) Sort() {
	sort.Strings(r.TrackedEntities)
	sort.Strings(r.BeganTracking)
	sort.Strings(r.EndedTracking)
	sort.Strings(r.PartialCoverage)
}

// TotalAppended sums the rows appended across all entities.
func (r *RunReport) TotalAppended() int {
	total := 0
	for _, n := range r.Appended {
		total += n
	}
	return total
}
