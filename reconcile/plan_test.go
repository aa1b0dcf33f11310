package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficlog/models"
)

func TestPlanEntity(t *testing.T) {
	lastAt := func(day int, stars, forks int64) *models.HistoryEntry {
		return &models.HistoryEntry{EntityID: "octo/widgets", Date: d(day), Stars: stars, Forks: forks}
	}

	testCases := []struct {
		name          string
		last          *models.HistoryEntry
		snap          models.Snapshot
		expectedDates []int
		bootstrap     bool
		partial       bool
		missingDays   int
		deltas        map[string]int64
	}{
		{
			name:          "bootstrap takes whole window",
			last:          nil,
			snap:          snapshotWindow("octo/widgets", 0, 12, 0, 5, 1),
			expectedDates: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			bootstrap:     true,
		},
		{
			name:          "contiguous continuation",
			last:          lastAt(10, 5, 1),
			snap:          snapshotWindow("octo/widgets", 1, 13, 0, 5, 1),
			expectedDates: []int{11, 12, 13},
			deltas:        map[string]int64{},
		},
		{
			name:          "same day rerun",
			last:          lastAt(12, 5, 1),
			snap:          snapshotWindow("octo/widgets", 0, 12, 0, 6, 1),
			expectedDates: nil,
			deltas:        map[string]int64{models.MetricStars: 1},
		},
		{
			name:          "window starts after a gap",
			last:          lastAt(10, 5, 1),
			snap:          snapshotWindow("octo/widgets", 30, 42, 0, 5, 3),
			expectedDates: []int{30, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40, 41, 42},
			partial:       true,
			missingDays:   19,
			deltas:        map[string]int64{models.MetricForks: 2},
		},
		{
			name:          "window starts exactly the next day",
			last:          lastAt(10, 5, 1),
			snap:          snapshotWindow("octo/widgets", 11, 15, 0, 5, 1),
			expectedDates: []int{11, 12, 13, 14, 15},
			deltas:        map[string]int64{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			plan := PlanEntity(tc.last, &tc.snap)

			var dates []int
			for _, e := range plan.Entries {
				dates = append(dates, int(e.Date.Sub(baseDay).Hours()/24))
				assert.Equal(t, "octo/widgets", e.EntityID)
				if tc.last != nil {
					assert.True(t, e.Date.After(tc.last.Date))
				}
			}

			assert.Equal(t, tc.expectedDates, dates)
			assert.Equal(t, tc.bootstrap, plan.Bootstrap)
			assert.Equal(t, tc.partial, plan.PartialCoverage)
			assert.Equal(t, tc.missingDays, plan.MissingDays)
			if !tc.bootstrap {
				assert.Equal(t, tc.deltas, plan.Deltas)
			}
		})
	}
}

func TestPlanEntityCarriesWindowValues(t *testing.T) {
	snap := snapshotWindow("octo/widgets", 0, 2, 100, 9, 4)
	plan := PlanEntity(nil, &snap)

	require.Len(t, plan.Entries, 3)
	assert.Equal(t, models.HistoryEntry{
		EntityID:     "octo/widgets",
		Date:         d(1),
		Stars:        9,
		Forks:        4,
		Clones:       101,
		ClonesUnique: 50,
		Views:        1010,
		ViewsUnique:  303,
	}, plan.Entries[1])
}
