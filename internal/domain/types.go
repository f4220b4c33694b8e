// Package domain holds the types shared across the ingestion pipeline's
// component packages (the Progress Ledger, the Analytical Store adapter,
// the Remote Ledger mirror, the Ingestion Worker and the Job Runner). It is
// a leaf package — it imports nothing from this module — so that those
// component packages can depend on it without forming an import cycle
// between each other.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is one of the three supported venues. The zero value is invalid;
// always construct via ParseExchange or the All slice.
type Exchange string

const (
	LSE Exchange = "LSE"
	CME Exchange = "CME"
	NYQ Exchange = "NYQ"
)

// All lists every exchange in the deterministic dispatch order the Job
// Runner must use (spec §4.6).
var All = []Exchange{LSE, CME, NYQ}

// ParseExchange validates a user-supplied exchange code.
func ParseExchange(s string) (Exchange, bool) {
	switch Exchange(s) {
	case LSE, CME, NYQ:
		return Exchange(s), true
	default:
		return "", false
	}
}

// Status is the terminal/transient state of a Progress Record.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// IsTerminal reports whether s is one of completed/failed/skipped.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// ProgressRecord is one row of the progress ledger, identified by
// (Exchange, DataDate).
type ProgressRecord struct {
	Exchange      Exchange
	DataDate      time.Time // truncated to day, UTC
	FilePath      string
	FileSizeBytes *int64
	StartTime     time.Time
	EndTime       *time.Time
	Status        Status
	RecordsLoaded *int64
	ErrorMessage  *string
}

// DailyStats is the (stats_date, exchange) aggregate derived purely from
// Progress Records whose DataDate == StatsDate.
type DailyStats struct {
	StatsDate               time.Time
	Exchange                Exchange
	TotalFiles              int64
	SuccessfulFiles         int64
	FailedFiles             int64
	TotalRecords            int64
	AvgRecordsPerFile       decimal.Decimal
	TotalProcessingTimeSecs decimal.Decimal
	TotalFileSizeBytes      int64
	AvgFileSizeBytes        decimal.Decimal
}

// WeeklyStats is the (week_ending, exchange) rolling 7-day aggregate.
type WeeklyStats struct {
	WeekEnding      time.Time
	Exchange        Exchange
	TotalFiles      int64
	SuccessfulFiles int64
	FailedFiles     int64
	TotalRecords    int64
	AvgDailyRecords decimal.Decimal
	AvgDailyFiles   decimal.Decimal
}

// WeekEndingFor returns the most recent Sunday (inclusive) on or before d,
// per the "week ending" definition in the glossary.
func WeekEndingFor(d time.Time) time.Time {
	d = d.UTC().Truncate(24 * time.Hour)
	// time.Sunday == 0
	offset := int(d.Weekday())
	return d.AddDate(0, 0, -offset)
}

// ClaimOutcome is the result of Ledger.Claim.
type ClaimOutcome int

const (
	ClaimProceed ClaimOutcome = iota
	ClaimAlreadyDone
	ClaimConflict
)
