// Package fetcher turns GitHub API responses into per-repository snapshots.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trafficlog/github"
	"trafficlog/logger"
	"trafficlog/models"
)

// topN bounds the referrer and content lists kept per snapshot
const topN = 10

// GitHubClientInterface defines the GitHub client operations needed by the fetcher
type GitHubClientInterface interface {
	FetchRepo(ctx context.Context, owner, name string) (*github.RepoResponse, error)
	FetchClones(ctx context.Context, owner, name string) (*github.ClonesResponse, error)
	FetchViews(ctx context.Context, owner, name string) (*github.ViewsResponse, error)
	FetchReferrers(ctx context.Context, owner, name string) ([]github.ReferrerResponse, error)
	FetchPaths(ctx context.Context, owner, name string) ([]github.PathResponse, error)
	ListRepos(ctx context.Context) ([]github.RepoResponse, error)
}

// Fetcher collects snapshots for a set of repositories
type Fetcher struct {
	client  GitHubClientInterface
	workers int
}

func New(client GitHubClientInterface, workers int) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{client: client, workers: workers}
}

// ResolveRepos returns the repositories to track. An explicit list wins;
// otherwise every visible repository whose owner is in owners is used
// ("all" matches any owner).
func (f *Fetcher) ResolveRepos(ctx context.Context, tracked, owners []string) ([]string, error) {
	set := make(map[string]struct{})

	if len(tracked) > 0 {
		for _, id := range tracked {
			if !models.ValidEntityID(id) {
				return nil, fmt.Errorf("invalid repository %q: expected owner/name", id)
			}
			set[id] = struct{}{}
		}
		return sortedSet(set), nil
	}

	allowed := make(map[string]bool, len(owners))
	for _, o := range owners {
		allowed[strings.ToLower(o)] = true
	}

	repos, err := f.client.ListRepos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover repositories: %w", err)
	}
	for _, r := range repos {
		if allowed["all"] || allowed[strings.ToLower(r.Owner.Login)] {
			set[r.FullName] = struct{}{}
		}
	}

	logger.Info("Resolved repositories",
		zap.Int("visible", len(repos)),
		zap.Int("tracked", len(set)),
		zap.Strings("owners", owners))
	return sortedSet(set), nil
}

// FetchAll fetches a snapshot per repository as of asOf with a bounded
// worker pool. Repositories that could not be fetched are returned in the
// failures map and never abort the others.
func (f *Fetcher) FetchAll(ctx context.Context, ids []string, asOf time.Time) ([]models.Snapshot, map[string]error) {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		snapshots = make([]models.Snapshot, 0, len(ids))
		failures  = make(map[string]error)
		sem       = make(chan struct{}, f.workers)
	)
	asOf = models.Day(asOf)

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				failures[id] = ctx.Err()
				mu.Unlock()
				return
			}

			snap, err := f.FetchSnapshot(ctx, id, asOf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Failed to fetch repository", zap.String("entity_id", id), zap.Error(err))
				failures[id] = err
				return
			}
			snapshots = append(snapshots, *snap)
		}(id)
	}
	wg.Wait()

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].EntityID < snapshots[j].EntityID })

	logger.Info("Fetched snapshots",
		zap.Int("fetched", len(snapshots)),
		zap.Int("failed", len(failures)))
	return snapshots, failures
}

// FetchSnapshot gathers one repository's counters and traffic as of asOf
func (f *Fetcher) FetchSnapshot(ctx context.Context, entityID string, asOf time.Time) (*models.Snapshot, error) {
	owner, name, ok := strings.Cut(entityID, "/")
	if !ok {
		return nil, fmt.Errorf("invalid repository %q", entityID)
	}

	repo, err := f.client.FetchRepo(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	clones, err := f.client.FetchClones(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	views, err := f.client.FetchViews(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	referrers, err := f.client.FetchReferrers(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	paths, err := f.client.FetchPaths(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	snap := BuildSnapshot(entityID, asOf, repo, clones, views, referrers, paths)
	return &snap, nil
}

// BuildSnapshot assembles a snapshot whose window is the MaxWindowDays days
// before asOf. Days the upstream omitted are recorded as zero and points
// outside the window, including the still-open current day, are dropped.
func BuildSnapshot(
	entityID string,
	asOf time.Time,
	repo *github.RepoResponse,
	clones *github.ClonesResponse,
	views *github.ViewsResponse,
	referrers []github.ReferrerResponse,
	paths []github.PathResponse,
) models.Snapshot {
	asOf = models.Day(asOf)
	start := asOf.AddDate(0, 0, -models.MaxWindowDays)

	clonesCount, clonesUnique := fillWindow(start, clones.Clones)
	viewsCount, viewsUnique := fillWindow(start, views.Views)

	snap := models.Snapshot{
		EntityID: entityID,
		AsOf:     asOf,
		Scalars: map[string]int64{
			models.MetricStars: repo.StargazersCount,
			models.MetricForks: repo.ForksCount,
		},
		Series: map[string][]models.DailyCount{
			models.SeriesClones:       clonesCount,
			models.SeriesClonesUnique: clonesUnique,
			models.SeriesViews:        viewsCount,
			models.SeriesViewsUnique:  viewsUnique,
		},
		Rankings: map[string][]models.RankedItem{},
	}

	for i, r := range referrers {
		if i == topN {
			break
		}
		snap.Rankings[models.ListReferrers] = append(snap.Rankings[models.ListReferrers],
			models.RankedItem{Label: r.Referrer, Count: r.Count, Uniques: r.Uniques})
	}
	for i, p := range paths {
		if i == topN {
			break
		}
		snap.Rankings[models.ListContent] = append(snap.Rankings[models.ListContent],
			models.RankedItem{Label: p.Path, Count: p.Count, Uniques: p.Uniques})
	}

	return snap
}

func fillWindow(start time.Time, points []github.TrafficPoint) (counts, uniques []models.DailyCount) {
	byDay := make(map[time.Time]github.TrafficPoint, len(points))
	for _, p := range points {
		byDay[models.Day(p.Timestamp)] = p
	}

	counts = make([]models.DailyCount, models.MaxWindowDays)
	uniques = make([]models.DailyCount, models.MaxWindowDays)
	for i := 0; i < models.MaxWindowDays; i++ {
		date := start.AddDate(0, 0, i)
		p := byDay[date]
		counts[i] = models.DailyCount{Date: date, Count: p.Count}
		uniques[i] = models.DailyCount{Date: date, Count: p.Uniques}
	}
	return counts, uniques
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
