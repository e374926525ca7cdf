// Package usage reports embedding token spend against the configured budget.
package usage

import (
	"context"
	"fmt"
	"time"
)

// Period selects the budget window of a report.
type Period string

const (
	// PeriodDay is the current UTC day.
	PeriodDay Period = "day"
	// PeriodMonth is the current UTC month.
	PeriodMonth Period = "month"
)

// ParsePeriod parses "day" or "month"; empty means PeriodMonth.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodMonth:
		return PeriodMonth, nil
	case PeriodDay:
		return PeriodDay, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// Report is the token usage of one period. Limit 0 means unlimited and
// Remaining is then -1.
type Report struct {
	Period    Period    `json:"period"`
	Provider  string    `json:"provider,omitempty"`
	Start     time.Time `json:"period_start"`
	End       time.Time `json:"period_end"`
	Used      int64     `json:"tokens_used"`
	Limit     int64     `json:"tokens_limit"`
	Remaining int64     `json:"tokens_remaining"`
	Exhausted bool      `json:"exhausted"`
}

// Service handles usage reporting.
type Service struct {
	br  BudgetReader
	now func() time.Time
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader) *Service {
	return &Service{br: br, now: time.Now}
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := s.now().UTC()
	r := Report{Period: period, Remaining: -1}

	switch period {
	case PeriodDay:
		r.Start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		r.End = r.Start.AddDate(0, 0, 1)
	default:
		r.Period = PeriodMonth
		r.Start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.End = r.Start.AddDate(0, 1, 0)
	}

	if s.br == nil {
		return r
	}
	snap := s.br.Snapshot()
	r.Provider = snap.Provider
	r.Exhausted = snap.Exhausted
	if r.Period == PeriodDay {
		r.Used, r.Limit = snap.DailyUsed, snap.DailyLimit
	} else {
		r.Used, r.Limit = snap.MonthlyUsed, snap.MonthlyLimit
	}
	if r.Limit > 0 {
		r.Remaining = max(r.Limit-r.Used, 0)
	}
	return r
}
