package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"trafficlog/models"
)

var (
	gain = color.New(color.FgGreen).SprintFunc()
	loss = color.New(color.FgRed).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
)

// Render writes a human-readable digest of report to w.
func Render(w io.Writer, report *models.RunReport) {
	fmt.Fprintf(w, "Run %s: %d repositories tracked, %s rows appended\n",
		models.FormatDay(report.RunDate),
		len(report.TrackedEntities),
		humanize.Comma(int64(report.TotalAppended())))

	membership := newTable(w, "Tracking")
	membership.AppendHeader(table.Row{"Change", "Repositories"})
	membership.AppendRow(table.Row{"began", listOrDash(report.BeganTracking)})
	membership.AppendRow(table.Row{"ended", listOrDash(report.EndedTracking)})
	membership.Render()

	if len(report.ScalarChanges) > 0 {
		changes := newTable(w, "Scalar changes")
		changes.AppendHeader(table.Row{"Repository", "Metric", "Change"})
		for _, id := range sortedKeys(report.ScalarChanges) {
			deltas := report.ScalarChanges[id]
			for _, metric := range []string{models.MetricStars, models.MetricForks} {
				if delta, ok := deltas[metric]; ok {
					changes.AppendRow(table.Row{id, metric, signed(delta)})
				}
			}
		}
		changes.Render()
	}

	if len(report.PartialCoverage) > 0 || len(report.FailedEntities) > 0 {
		degraded := newTable(w, "Degraded data")
		degraded.AppendHeader(table.Row{"Repository", "Status", "Detail"})
		for _, id := range report.PartialCoverage {
			degraded.AppendRow(table.Row{id, warn("partial coverage"), "history gap exceeds the rolling window"})
		}
		for _, id := range sortedKeys(report.FailedEntities) {
			degraded.AppendRow(table.Row{id, loss("failed"), report.FailedEntities[id]})
		}
		degraded.Render()
	}
}

// RenderHistory writes an entity's stored series as a table.
func RenderHistory(w io.Writer, entityID string, entries []models.HistoryEntry) {
	tbl := newTable(w, entityID)
	tbl.AppendHeader(table.Row{"Date", "Stars", "Forks", "Clones", "Unique clones", "Views", "Unique views"})

	var clones, views int64
	for _, e := range entries {
		tbl.AppendRow(table.Row{
			models.FormatDay(e.Date),
			humanize.Comma(e.Stars),
			humanize.Comma(e.Forks),
			humanize.Comma(e.Clones),
			humanize.Comma(e.ClonesUnique),
			humanize.Comma(e.Views),
			humanize.Comma(e.ViewsUnique),
		})
		clones += e.Clones
		views += e.Views
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%d days", len(entries)), "", "", humanize.Comma(clones), "", humanize.Comma(views), "",
	})
	tbl.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(title)
	return tbl
}

func signed(delta int64) string {
	if delta > 0 {
		return gain("+" + humanize.Comma(delta))
	}
	return loss(humanize.Comma(delta))
}

func listOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
