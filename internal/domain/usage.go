package domain

import (
	"fmt"
	"time"
)

// UsageRecord counts metered actions for one user in one calendar month.
// A new month produces a new record; nothing is carried over.
type UsageRecord struct {
	UserID    string
	MonthKey  string
	Tier      TierID // Tier at the time the record was last written
	Count     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MonthKey returns the usage window key for t, formatted YYYY-MM in UTC.
func MonthKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// NextMonthStart returns the first instant of the month after t, in UTC.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// UsageDocumentID returns the logical document key for a usage record.
func UsageDocumentID(userID, monthKey string) string {
	return userID + "_" + monthKey
}
