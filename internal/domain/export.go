package domain

import (
	"strconv"
	"time"
)

// LeadColumns is the header of every lead export.
var LeadColumns = []string{"fingerprint", "source", "text", "replied", "timestamp", "engagement_score", "quality"}

// LeadTable is tabular export data.
type LeadTable struct {
	Columns []string
	Rows    [][]string
}

// NewLeadTable flattens items into export rows.
func NewLeadTable(items []ObservedItem) LeadTable {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.Fingerprint,
			item.SourceRef,
			item.Text,
			strconv.FormatBool(item.Replied),
			item.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatFloat(item.EngagementScore, 'f', 2, 64),
			string(item.Quality),
		})
	}
	return LeadTable{Columns: append([]string(nil), LeadColumns...), Rows: rows}
}
