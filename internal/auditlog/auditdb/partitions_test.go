package auditdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthRangeFor(t *testing.T) {
	r := MonthRangeFor(time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), r.End)

	r = MonthRangeFor(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), r.Start)
}

func TestMonthRangeNextCrossesYear(t *testing.T) {
	december := MonthRangeFor(time.Date(2026, 12, 15, 12, 0, 0, 0, time.UTC), time.UTC)
	january := december.Next()
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), january.Start)
	assert.Equal(t, time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), january.End)
}

func TestPartitionNameFromRangeStart(t *testing.T) {
	r := MonthRangeFor(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, "audit_events_2026_8", r.PartitionName("audit_events"))

	// The partition provisioned ahead of a December run belongs to January
	// of the following year, and must be named for its own range.
	december := MonthRangeFor(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, "audit_events_2026_12", december.PartitionName("audit_events"))
	assert.Equal(t, "audit_events_2027_1", december.Next().PartitionName("audit_events"))
}

func TestMonthRangeHonoursTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2026-08-31 23:00 UTC is already September in Tokyo.
	r := MonthRangeFor(time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC), tokyo)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, tokyo), r.Start)
}

func TestNextMonthBoundary(t *testing.T) {
	now := time.Date(2026, 8, 31, 18, 30, 0, 0, time.UTC)
	boundary := NextMonthBoundary(now, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), boundary)
	assert.Positive(t, boundary.Sub(now))

	// A boundary computed right at the first instant of a month must point
	// at the following month, not at itself.
	atBoundary := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), NextMonthBoundary(atBoundary, time.UTC))
}
