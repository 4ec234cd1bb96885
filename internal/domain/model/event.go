// Package model contains domain models passed between layers.
package model

import "time"

// EventKind identifies the domain record behind an event row.
type EventKind string

// Event kinds written by the application layer.
const (
	KindCheckinSubmitted EventKind = "checkin_submitted"
	KindShoutoutGiven    EventKind = "shoutout_given"
	KindShoutoutReceived EventKind = "shoutout_received"
	KindVacationDeclared EventKind = "vacation_declared"
)

// Event is an immutable, append-only domain record. OccurredAt drives
// bucketing; the engine never mutates events.
type Event struct {
	ID             string
	OrganizationID string
	UserID         string
	TeamID         string // empty when the user has no team
	Kind           EventKind
	OccurredAt     time.Time

	// Exactly one payload is set, matching Kind.
	Checkin  *CheckinPayload
	Shoutout *ShoutoutPayload
	Vacation *VacationPayload
}

// CheckinPayload carries the check-in fields the aggregator reads.
type CheckinPayload struct {
	Mood        int // 1..5, 0 when the mood question was skipped
	Completed   bool
	DueAt       time.Time
	SubmittedAt time.Time
	WeekOf      time.Time // ISO week start the check-in belongs to

	// Review half of the record; zero/nil when no reviewer is assigned.
	ReviewerID  string
	ReviewDueAt *time.Time
	ReviewedAt  *time.Time
}

// ShoutoutPayload carries recognition visibility.
type ShoutoutPayload struct {
	Public bool
}

// VacationPayload declares or revokes one ISO week of vacation. The
// durable week-level state lives in the vacation table; the event is the
// append-only record of the change.
type VacationPayload struct {
	WeekOf time.Time
	On     bool
}
