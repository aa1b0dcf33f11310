package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trafficlog/db"
	"trafficlog/models"
)

var baseDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// d returns baseDay shifted by n days.
func d(n int) time.Time {
	return baseDay.AddDate(0, 0, n)
}

// snapshotWindow builds a snapshot whose window covers [from, to] with
// clones equal to offset+day index.
func snapshotWindow(id string, from, to int, offset int64, stars, forks int64) models.Snapshot {
	s := models.Snapshot{
		EntityID: id,
		AsOf:     d(to + 1),
		Scalars:  map[string]int64{models.MetricStars: stars, models.MetricForks: forks},
		Series:   map[string][]models.DailyCount{},
	}
	for i := from; i <= to; i++ {
		v := offset + int64(i)
		s.Series[models.SeriesClones] = append(s.Series[models.SeriesClones], models.DailyCount{Date: d(i), Count: v})
		s.Series[models.SeriesClonesUnique] = append(s.Series[models.SeriesClonesUnique], models.DailyCount{Date: d(i), Count: v / 2})
		s.Series[models.SeriesViews] = append(s.Series[models.SeriesViews], models.DailyCount{Date: d(i), Count: v * 10})
		s.Series[models.SeriesViewsUnique] = append(s.Series[models.SeriesViewsUnique], models.DailyCount{Date: d(i), Count: v * 3})
	}
	return s
}

func historyRows(id string, from, to int, offset int64) []models.HistoryEntry {
	var rows []models.HistoryEntry
	for i := from; i <= to; i++ {
		rows = append(rows, models.HistoryEntry{
			EntityID: id, Date: d(i), Stars: 10, Forks: 2, Clones: offset + int64(i),
		})
	}
	return rows
}

func TestNewEntityBootstrap(t *testing.T) {
	store := newMemoryStore()
	r := New(store)

	report, err := r.Reconcile(context.Background(), Input{
		RunDate:   d(13),
		Snapshots: []models.Snapshot{snapshotWindow("octo/widgets", 0, 12, 0, 7, 1)},
	})
	require.NoError(t, err)

	series := store.series("octo/widgets")
	require.Len(t, series, 13)
	assert.Equal(t, d(0), series[0].Date)
	assert.Equal(t, d(12), series[12].Date)
	for _, e := range series {
		assert.Equal(t, int64(7), e.Stars)
		assert.Equal(t, int64(1), e.Forks)
	}

	assert.Equal(t, []string{"octo/widgets"}, report.BeganTracking)
	assert.Equal(t, []string{"octo/widgets"}, report.TrackedEntities)
	assert.Equal(t, 13, report.Appended["octo/widgets"])
	assert.Empty(t, report.ScalarChanges)
	assert.Empty(t, report.FailedEntities)
}

func TestIdempotentRerun(t *testing.T) {
	store := newMemoryStore()
	r := New(store)
	snaps := []models.Snapshot{
		snapshotWindow("octo/widgets", 0, 12, 0, 7, 1),
		snapshotWindow("octo/gadgets", 0, 12, 100, 3, 0),
	}

	first, err := r.Reconcile(context.Background(), Input{RunDate: d(13), Snapshots: snaps})
	require.NoError(t, err)
	before := store.series("octo/widgets")

	second, err := r.Reconcile(context.Background(), Input{
		RunDate:          d(13),
		Snapshots:        snaps,
		PreviousEntities: first.TrackedEntities,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, second.TotalAppended())
	assert.Empty(t, second.ScalarChanges)
	assert.Empty(t, second.BeganTracking)
	assert.Empty(t, second.EndedTracking)
	assert.Empty(t, second.FailedEntities)
	assert.Empty(t, second.PartialCoverage)
	assert.Equal(t, before, store.series("octo/widgets"))
}

func TestWindowOverlapKeepsStoredDays(t *testing.T) {
	store := newMemoryStore()
	stored := historyRows("octo/widgets", 0, 10, 0)
	store.seed("octo/widgets", stored...)

	// window [D-5, D+7] around stored last date D = d(10), with different
	// values for the already recorded days
	snap := snapshotWindow("octo/widgets", 5, 17, 1000, 10, 2)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(18),
		Snapshots:        []models.Snapshot{snap},
		PreviousEntities: []string{"octo/widgets"},
	})
	require.NoError(t, err)

	series := store.series("octo/widgets")
	require.Len(t, series, 18)
	assert.Equal(t, stored, series[:11])
	for i, e := range series[11:] {
		assert.Equal(t, d(11+i), e.Date)
		assert.Equal(t, int64(1000+11+i), e.Clones)
	}

	assert.Equal(t, 7, report.Appended["octo/widgets"])
	assert.Empty(t, report.PartialCoverage)
	assert.Empty(t, report.ScalarChanges)
}

func TestEndedTracking(t *testing.T) {
	store := newMemoryStore()
	store.seed("octo/gadgets", historyRows("octo/gadgets", 0, 5, 0)...)
	store.seed("octo/widgets", historyRows("octo/widgets", 0, 5, 0)...)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(7),
		Snapshots:        []models.Snapshot{snapshotWindow("octo/widgets", 0, 6, 0, 10, 2)},
		PreviousEntities: []string{"octo/widgets", "octo/gadgets"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"octo/gadgets"}, report.EndedTracking)
	assert.Empty(t, report.BeganTracking)
	assert.Len(t, store.series("octo/gadgets"), 6)
	assert.NotContains(t, report.Appended, "octo/gadgets")
	assert.Equal(t, 1, report.Appended["octo/widgets"])
}

func TestDormantEntityRejoining(t *testing.T) {
	store := newMemoryStore()
	store.seed("octo/widgets", historyRows("octo/widgets", 0, 5, 0)...)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(7),
		Snapshots:        []models.Snapshot{snapshotWindow("octo/widgets", 0, 6, 0, 10, 2)},
		PreviousEntities: []string{},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"octo/widgets"}, report.BeganTracking)
	assert.Equal(t, 1, report.Appended["octo/widgets"])
}

func TestDormantEntityRejoiningHasNoScalarChanges(t *testing.T) {
	store := newMemoryStore()
	store.seed("octo/widgets", historyRows("octo/widgets", 0, 5, 0)...)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(7),
		Snapshots:        []models.Snapshot{snapshotWindow("octo/widgets", 0, 6, 0, 50, 2)},
		PreviousEntities: []string{},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"octo/widgets"}, report.BeganTracking)
	assert.Empty(t, report.ScalarChanges)
	assert.Equal(t, int64(50), store.series("octo/widgets")[6].Stars)
}

func TestGapBeyondWindow(t *testing.T) {
	store := newMemoryStore()
	store.seed("octo/widgets", historyRows("octo/widgets", 0, 10, 0)...)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(43),
		Snapshots:        []models.Snapshot{snapshotWindow("octo/widgets", 30, 42, 0, 10, 2)},
		PreviousEntities: []string{"octo/widgets"},
	})
	require.NoError(t, err)

	series := store.series("octo/widgets")
	require.Len(t, series, 11+13)
	assert.Equal(t, d(10), series[10].Date)
	assert.Equal(t, d(30), series[11].Date)

	assert.Equal(t, []string{"octo/widgets"}, report.PartialCoverage)
	assert.Empty(t, report.FailedEntities)
}

func TestScalarChanges(t *testing.T) {
	store := newMemoryStore()
	store.seed("octo/widgets", historyRows("octo/widgets", 0, 5, 0)...)
	store.seed("octo/gadgets", historyRows("octo/gadgets", 0, 5, 0)...)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate: d(7),
		Snapshots: []models.Snapshot{
			snapshotWindow("octo/widgets", 0, 6, 0, 15, 2),
			snapshotWindow("octo/gadgets", 0, 6, 0, 8, 5),
			snapshotWindow("octo/fresh", 0, 6, 0, 99, 9),
		},
		PreviousEntities: []string{"octo/widgets", "octo/gadgets"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]map[string]int64{
		"octo/widgets": {models.MetricStars: 5},
		"octo/gadgets": {models.MetricStars: -2, models.MetricForks: 3},
	}, report.ScalarChanges)
	assert.Equal(t, []string{"octo/fresh"}, report.BeganTracking)

	last := store.series("octo/widgets")[6]
	assert.Equal(t, int64(15), last.Stars)
}

func TestParallelMatchesSerial(t *testing.T) {
	const entities = 40

	build := func() (*memoryStore, []models.Snapshot, []string) {
		store := newMemoryStore()
		var snaps []models.Snapshot
		var previous []string
		for i := 0; i < entities; i++ {
			id := fmt.Sprintf("octo/repo-%02d", i)
			switch i % 3 {
			case 0:
				// never tracked
			case 1:
				store.seed(id, historyRows(id, 0, 8, int64(i))...)
				previous = append(previous, id)
			case 2:
				store.seed(id, historyRows(id, 0, 2, int64(i))...)
				previous = append(previous, id)
			}
			snaps = append(snaps, snapshotWindow(id, 20, 32, int64(i), int64(i), 1))
			if i%3 != 0 {
				snaps[len(snaps)-1] = snapshotWindow(id, 4, 16, int64(i), int64(i), 1)
			}
		}
		return store, snaps, previous
	}

	serialStore, snaps, previous := build()
	serial, err := New(serialStore, WithWorkers(1)).Reconcile(context.Background(), Input{
		RunDate: d(33), Snapshots: snaps, PreviousEntities: previous,
	})
	require.NoError(t, err)

	for run := 0; run < 5; run++ {
		parallelStore, snaps, previous := build()
		parallel, err := New(parallelStore, WithWorkers(8)).Reconcile(context.Background(), Input{
			RunDate: d(33), Snapshots: snaps, PreviousEntities: previous,
		})
		require.NoError(t, err)

		assert.Equal(t, serialStore.entries, parallelStore.entries)
		assert.Equal(t, serial, parallel)
	}
}

func TestFailureIsolation(t *testing.T) {
	store := newMemoryStore()
	store.failRead["octo/broken"] = errors.New("connection reset")

	invalid := snapshotWindow("octo/invalid", 0, 5, 0, 1, 1)
	invalid.Series[models.SeriesViews] = invalid.Series[models.SeriesViews][1:]

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate: d(6),
		Snapshots: []models.Snapshot{
			snapshotWindow("octo/broken", 0, 5, 0, 1, 1),
			invalid,
			snapshotWindow("octo/widgets", 0, 5, 0, 1, 1),
		},
		FetchFailures: map[string]error{"octo/offline": errors.New("status code 502")},
	})
	require.NoError(t, err)

	require.Len(t, report.FailedEntities, 3)
	assert.Contains(t, report.FailedEntities["octo/broken"], "connection reset")
	assert.Contains(t, report.FailedEntities["octo/invalid"], models.ErrInvalidSnapshot.Error())
	assert.Contains(t, report.FailedEntities["octo/offline"], "status code 502")
	assert.Equal(t, 6, report.Appended["octo/widgets"])
	assert.Contains(t, report.TrackedEntities, "octo/offline")
	assert.Empty(t, store.series("octo/invalid"))
}

func TestFetchFailureIsNotEndedTracking(t *testing.T) {
	report, err := New(newMemoryStore()).Reconcile(context.Background(), Input{
		RunDate:          d(6),
		PreviousEntities: []string{"octo/offline"},
		FetchFailures:    map[string]error{"octo/offline": errors.New("timeout")},
	})
	require.NoError(t, err)

	assert.Empty(t, report.EndedTracking)
	assert.Empty(t, report.BeganTracking)
	assert.Contains(t, report.FailedEntities, "octo/offline")
}

func TestFirstFetchFailureIsNotBeganTracking(t *testing.T) {
	report, err := New(newMemoryStore()).Reconcile(context.Background(), Input{
		RunDate:       d(6),
		FetchFailures: map[string]error{"octo/new": errors.New("status code 404")},
	})
	require.NoError(t, err)

	assert.Empty(t, report.BeganTracking)
	assert.Equal(t, []string{"octo/new"}, report.TrackedEntities)
	assert.Contains(t, report.FailedEntities, "octo/new")
}

func TestSnapshotOlderThanHistory(t *testing.T) {
	store := newMemoryStore()
	store.seed("octo/widgets", historyRows("octo/widgets", 0, 20, 0)...)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(18),
		Snapshots:        []models.Snapshot{snapshotWindow("octo/widgets", 5, 17, 0, 14, 2)},
		PreviousEntities: []string{"octo/widgets"},
	})
	require.NoError(t, err)

	assert.Empty(t, report.FailedEntities)
	assert.Equal(t, 0, report.Appended["octo/widgets"])
	assert.Equal(t, map[string]map[string]int64{
		"octo/widgets": {models.MetricStars: 4},
	}, report.ScalarChanges)
	assert.Len(t, store.series("octo/widgets"), 21)
}

func TestDuplicateSnapshots(t *testing.T) {
	store := newMemoryStore()
	snap := snapshotWindow("octo/widgets", 0, 5, 0, 1, 1)

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:   d(6),
		Snapshots: []models.Snapshot{snap, snap},
	})
	require.NoError(t, err)

	assert.Equal(t, ErrDuplicateSnapshot.Error(), report.FailedEntities["octo/widgets"])
	assert.Empty(t, store.series("octo/widgets"))
}

func TestCancelledRun(t *testing.T) {
	store := newMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(store).Reconcile(ctx, Input{
		RunDate:   d(6),
		Snapshots: []models.Snapshot{snapshotWindow("octo/widgets", 0, 5, 0, 1, 1)},
	})
	require.NoError(t, err)

	assert.Contains(t, report.FailedEntities["octo/widgets"], "run cancelled")
	assert.Empty(t, store.series("octo/widgets"))
}

func TestEntityTimeout(t *testing.T) {
	store := new(MockStore)
	store.On("ReadLastEntry", mock.Anything, "octo/slow").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	store.On("ReadLastEntry", mock.Anything, "octo/widgets").
		Return(nil, db.ErrNoEntriesFound)
	store.On("CreateEntity", mock.Anything, "octo/widgets").Return(nil)
	store.On("AppendEntries", mock.Anything, "octo/widgets", mock.AnythingOfType("[]models.HistoryEntry")).Return(nil)

	r := New(store, WithWorkers(2), WithEntityTimeout(20*time.Millisecond))
	report, err := r.Reconcile(context.Background(), Input{
		RunDate: d(6),
		Snapshots: []models.Snapshot{
			snapshotWindow("octo/slow", 0, 5, 0, 1, 1),
			snapshotWindow("octo/widgets", 0, 5, 0, 1, 1),
		},
	})
	require.NoError(t, err)

	assert.Contains(t, report.FailedEntities["octo/slow"], context.DeadlineExceeded.Error())
	assert.Equal(t, 6, report.Appended["octo/widgets"])
	store.AssertExpectations(t)
}

func TestAppendErrorIsReported(t *testing.T) {
	last := historyRows("octo/widgets", 0, 5, 0)[5]

	store := new(MockStore)
	store.On("ReadLastEntry", mock.Anything, "octo/widgets").Return(&last, nil)
	store.On("AppendEntries", mock.Anything, "octo/widgets", mock.Anything).
		Return(fmt.Errorf("%w: octo/widgets", db.ErrOverlap))

	report, err := New(store).Reconcile(context.Background(), Input{
		RunDate:          d(7),
		Snapshots:        []models.Snapshot{snapshotWindow("octo/widgets", 0, 6, 0, 12, 2)},
		PreviousEntities: []string{"octo/widgets"},
	})
	require.NoError(t, err)

	assert.Contains(t, report.FailedEntities["octo/widgets"], db.ErrOverlap.Error())
	assert.Empty(t, report.ScalarChanges)
	store.AssertNotCalled(t, "CreateEntity", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestRankingsAreCopied(t *testing.T) {
	snap := snapshotWindow("octo/widgets", 0, 5, 0, 1, 1)
	snap.Rankings = map[string][]models.RankedItem{
		models.ListReferrers: {{Label: "news.ycombinator.com", Count: 40, Uniques: 31}},
	}

	report, err := New(newMemoryStore()).Reconcile(context.Background(), Input{
		RunDate:   d(6),
		Snapshots: []models.Snapshot{snap},
	})
	require.NoError(t, err)

	assert.Equal(t, snap.Rankings, report.Rankings["octo/widgets"])
}

func TestMissingRunDate(t *testing.T) {
	_, err := New(newMemoryStore()).Reconcile(context.Background(), Input{})
	assert.Error(t, err)
}
