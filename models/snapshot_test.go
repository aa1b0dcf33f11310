package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func series(start string, counts ...int64) []DailyCount {
	first := day(start)
	points := make([]DailyCount, len(counts))
	for i, c := range counts {
		points[i] = DailyCount{Date: first.AddDate(0, 0, i), Count: c}
	}
	return points
}

func validSnapshot() *Snapshot {
	return &Snapshot{
		EntityID: "octo/widgets",
		AsOf:     day("2024-03-10"),
		Scalars:  map[string]int64{MetricStars: 12, MetricForks: 3},
		Series: map[string][]DailyCount{
			SeriesClones:       series("2024-03-07", 1, 2, 3),
			SeriesClonesUnique: series("2024-03-07", 1, 1, 1),
			SeriesViews:        series("2024-03-07", 10, 20, 30),
			SeriesViewsUnique:  series("2024-03-07", 5, 6, 7),
		},
	}
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Snapshot)
		expectedErr bool
	}{
		{
			name:   "valid snapshot",
			mutate: func(*Snapshot) {},
		},
		{
			name:   "empty window",
			mutate: func(s *Snapshot) { s.Series = map[string][]DailyCount{} },
		},
		{
			name:        "entity id without owner",
			mutate:      func(s *Snapshot) { s.EntityID = "widgets" },
			expectedErr: true,
		},
		{
			name:        "missing as-of date",
			mutate:      func(s *Snapshot) { s.AsOf = time.Time{} },
			expectedErr: true,
		},
		{
			name: "gap inside series",
			mutate: func(s *Snapshot) {
				s.Series[SeriesClones][1].Date = day("2024-03-09")
			},
			expectedErr: true,
		},
		{
			name: "newest first",
			mutate: func(s *Snapshot) {
				v := s.Series[SeriesViews]
				v[0], v[2] = v[2], v[0]
			},
			expectedErr: true,
		},
		{
			name: "series disagree on dates",
			mutate: func(s *Snapshot) {
				s.Series[SeriesViewsUnique] = series("2024-03-06", 1, 2, 3)
			},
			expectedErr: true,
		},
		{
			name:        "window includes the open day",
			mutate:      func(s *Snapshot) { s.AsOf = day("2024-03-09") },
			expectedErr: true,
		},
		{
			name: "window longer than upstream retention",
			mutate: func(s *Snapshot) {
				counts := make([]int64, MaxWindowDays+1)
				for _, name := range SeriesNames {
					s.Series[name] = series("2024-02-25", counts...)
				}
			},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSnapshot()
			tt.mutate(s)

			err := s.Validate()
			if tt.expectedErr {
				assert.ErrorIs(t, err, ErrInvalidSnapshot)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSnapshotEntryFor(t *testing.T) {
	s := validSnapshot()

	dates := s.WindowDates()
	require.Len(t, dates, 3)
	assert.Equal(t, day("2024-03-07"), dates[0])

	entry := s.EntryFor(day("2024-03-08"))
	assert.Equal(t, HistoryEntry{
		EntityID:     "octo/widgets",
		Date:         day("2024-03-08"),
		Stars:        12,
		Forks:        3,
		Clones:       2,
		ClonesUnique: 1,
		Views:        20,
		ViewsUnique:  6,
	}, entry)
	assert.Equal(t, map[string]int64{MetricStars: 12, MetricForks: 3}, entry.Scalars())
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	local := time.Date(2024, 3, 10, 2, 30, 0, 0, loc)

	assert.Equal(t, day("2024-03-09"), Day(local))
	assert.Equal(t, "2024-03-09", FormatDay(Day(local)))

	_, err := ParseDay("10/03/2024")
	assert.Error(t, err)
}

func TestRunReportSort(t *testing.T) {
	r := NewRunReport(day("2024-03-10"))
	r.BeganTracking = []string{"b/b", "a/a"}
	r.Appended["a/a"] = 3
	r.Appended["b/b"] = 2

	r.Sort()

	assert.Equal(t, []string{"a/a", "b/b"}, r.BeganTracking)
	assert.Equal(t, 5, r.TotalAppended())
}
