package auditdb

import (
	"fmt"
	"time"
)

// MonthRange is the [Start, End) timestamp range covered by one partition.
type MonthRange struct {
	Start time.Time
	End   time.Time
}

// MonthRangeFor returns the partition range containing t, evaluated in loc.
func MonthRangeFor(t time.Time, loc *time.Location) MonthRange {
	year, month, _ := t.In(loc).Date()
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return MonthRange{Start: start, End: start.AddDate(0, 1, 0)}
}

// Next returns the range of the month immediately after r.
func (r MonthRange) Next() MonthRange {
	return MonthRange{Start: r.End, End: r.End.AddDate(0, 1, 0)}
}

// PartitionName derives the child table name for r from the range's own start
// date, e.g. audit_logs_2026_8.
func (r MonthRange) PartitionName(table string) string {
	return fmt.Sprintf("%s_%d_%d", table, r.Start.Year(), int(r.Start.Month()))
}

// NextMonthBoundary is the first instant of the month after t in loc. The
// partition task sleeps until this boundary and recomputes it after every run,
// so a process that was down across a boundary provisions immediately on the
// next startup rather than waiting out a stale schedule.
func NextMonthBoundary(t time.Time, loc *time.Location) time.Time {
	return MonthRangeFor(t, loc).End
}
