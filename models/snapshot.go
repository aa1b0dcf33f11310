// Package models defines the core data structures used throughout the application.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scalar metric names
const (
	MetricStars = "stars"
	MetricForks = "forks"
)

// Rolling series names
const (
	SeriesClones       = "clones"
	SeriesClonesUnique = "clones_unique"
	SeriesViews        = "views"
	SeriesViewsUnique  = "views_unique"
)

// Ranked list names
const (
	ListReferrers = "referrers"
	ListContent   = "content"
)

// MaxWindowDays is the longest rolling window a snapshot may carry. The
// upstream keeps 14 days including the still-open current day, which is
// never recorded.
const MaxWindowDays = 13

// SeriesNames lists every rolling series recorded in history, in column order.
var SeriesNames = []string{SeriesClones, SeriesClonesUnique, SeriesViews, SeriesViewsUnique}

// ErrInvalidSnapshot is returned when a snapshot breaks its window invariants.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// DailyCount is a single day's value within a rolling series
type DailyCount struct {
	Date  time.Time `json:"date"`
	Count int64     `json:"count"`
}

// RankedItem is one row of a top-10 list such as referrers or popular content
type RankedItem struct {
	Label   string `json:"label"`
	Count   int64  `json:"count"`
	Uniques int64  `json:"uniques"`
}

// Snapshot is one run's raw record for one repository.
//
// Series values are single-day counts ordered oldest-first; the window ends
// the day before AsOf.
type Snapshot struct {
	EntityID string                  `json:"entity_id"`
	AsOf     time.Time               `json:"as_of"`
	Scalars  map[string]int64        `json:"scalars"`
	Series   map[string][]DailyCount `json:"series"`
	Rankings map[string][]RankedItem `json:"rankings,omitempty"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a date as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// ParseDay parses a YYYY-MM-DD date in UTC.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ValidEntityID reports whether id has the owner/name form.
func ValidEntityID(id string) bool {
	owner, name, ok := strings.Cut(id, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}

// Validate checks the snapshot's window invariants: every series is
// contiguous, oldest-first, free of duplicates, shares the same dates as
// the other series and ends before AsOf.
func (s *Snapshot) Validate() error {
	if !ValidEntityID(s.EntityID) {
		return fmt.Errorf("%w: entity id %q is not owner/name", ErrInvalidSnapshot, s.EntityID)
	}
	if s.AsOf.IsZero() {
		return fmt.Errorf("%w: %s has no as-of date", ErrInvalidSnapshot, s.EntityID)
	}

	reference := s.Series[SeriesNames[0]]
	for _, name := range SeriesNames {
		points := s.Series[name]
		if len(points) > MaxWindowDays {
			return fmt.Errorf("%w: %s series %s has %d days, max %d",
				ErrInvalidSnapshot, s.EntityID, name, len(points), MaxWindowDays)
		}
		for i := 1; i < len(points); i++ {
			if !Day(points[i].Date).Equal(Day(points[i-1].Date).AddDate(0, 0, 1)) {
				return fmt.Errorf("%w: %s series %s is not contiguous at %s",
					ErrInvalidSnapshot, s.EntityID, name, FormatDay(points[i].Date))
			}
		}
		if len(points) > 0 && !Day(points[len(points)-1].Date).Before(Day(s.AsOf)) {
			return fmt.Errorf("%w: %s series %s includes the as-of day",
				ErrInvalidSnapshot, s.EntityID, name)
		}
		if !sameDates(reference, points) {
			return fmt.Errorf("%w: %s series %s and %s cover different days",
				ErrInvalidSnapshot, s.EntityID, SeriesNames[0], name)
		}
	}
	return nil
}

// WindowDates returns the ordered dates covered by the rolling window.
func (s *Snapshot) WindowDates() []time.Time {
	points := s.Series[SeriesNames[0]]
	dates := make([]time.Time, len(points))
	for i, p := range points {
		dates[i] = Day(p.Date)
	}
	return dates
}

// EntryFor builds the history row for one window date. Scalars are carried
// unchanged onto every day since only the point-in-time value is known.
func (s *Snapshot) EntryFor(date time.Time) HistoryEntry {
	date = Day(date)
	return HistoryEntry{
		EntityID:     s.EntityID,
		Date:         date,
		Stars:        s.Scalars[MetricStars],
		Forks:        s.Scalars[MetricForks],
		Clones:       countOn(s.Series[SeriesClones], date),
		ClonesUnique: countOn(s.Series[SeriesClonesUnique], date),
		Views:        countOn(s.Series[SeriesViews], date),
		ViewsUnique:  countOn(s.Series[SeriesViewsUnique], date),
	}
}

func countOn(points []DailyCount, date time.Time) int64 {
	for _, p := range points {
		if Day(p.Date).Equal(date) {
			return p.Count
		}
	}
	return 0
}

func sameDates(a, b []DailyCount) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Day(a[i].Date).Equal(Day(b[i].Date)) {
			return false
		}
	}
	return true
}
