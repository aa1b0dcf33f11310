package models

import "time"

// HistoryEntry is one durable row of metrics for a repository on one date
type HistoryEntry struct {
	EntityID     string    `db:"entity_id" json:"entity_id"`
	Date         time.Time `db:"date" json:"date"`
	Stars        int64     `db:"stars" json:"stars"`
	Forks        int64     `db:"forks" json:"forks"`
	Clones       int64     `db:"clones" json:"clones"`
	ClonesUnique int64     `db:"clones_unique" json:"clones_unique"`
	Views        int64     `db:"views" json:"views"`
	ViewsUnique  int64     `db:"views_unique" json:"views_unique"`
}

// Scalars returns the point-in-time metrics carried by the entry.
func (e HistoryEntry) Scalars() map[string]int64 {
	return map[string]int64{
		MetricStars: e.Stars,
		MetricForks: e.Forks,
	}
}
