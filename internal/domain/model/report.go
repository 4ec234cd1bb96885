package model

import "time"

// PulsePoint is one period's mood aggregate.
type PulsePoint struct {
	PeriodStart  time.Time `json:"period_start"`
	CheckinCount int       `json:"checkin_count"`
	MoodSum      int       `json:"mood_sum"`
	AverageMood  float64   `json:"average_mood"`
}

// PulseReport is the answer to a pulse metrics query.
type PulseReport struct {
	OrganizationID string       `json:"organization_id"`
	Points         []PulsePoint `json:"points"`
	Source         ReadSource   `json:"source"`
}

// ShoutoutPoint is one period's recognition aggregate.
type ShoutoutPoint struct {
	PeriodStart     time.Time `json:"period_start"`
	ReceivedPublic  int       `json:"received_public"`
	ReceivedPrivate int       `json:"received_private"`
	Given           int       `json:"given"`
}

// ShoutoutReport is the answer to a shoutout metrics query.
type ShoutoutReport struct {
	OrganizationID string          `json:"organization_id"`
	Points         []ShoutoutPoint `json:"points"`
	Source         ReadSource      `json:"source"`
}

// ComplianceReport is the answer to a submission- or review-compliance
// query, aggregated over the requested window. AverageDaysEarly and
// AverageDaysLate are nil when no qualifying samples exist; callers must
// treat nil as insufficient data, not zero.
type ComplianceReport struct {
	OrganizationID   string     `json:"organization_id"`
	TotalDue         int        `json:"total_due"`
	OnTime           int        `json:"on_time"`
	OnTimePercentage float64    `json:"on_time_percentage"`
	AverageDaysEarly *float64   `json:"average_days_early,omitempty"`
	AverageDaysLate  *float64   `json:"average_days_late,omitempty"`
	Source           ReadSource `json:"source"`
}
