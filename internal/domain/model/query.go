package model

import "time"

// Scope selects which entity an analytics query is about.
type Scope string

// Query scopes.
const (
	ScopeOrganization Scope = "organization"
	ScopeTeam         Scope = "team"
	ScopeUser         Scope = "user"
)

// Period is the grouping granularity of an analytics query.
type Period string

// Query periods. An empty period means "no grouping requested" and routes
// to the raw path.
const (
	PeriodDay     Period = "day"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// QueryOptions shape an analytics request. From/To bound the window as
// calendar days; zero values mean unbounded.
type QueryOptions struct {
	Scope    Scope
	EntityID string
	Period   Period
	From     time.Time
	To       time.Time
}

// ReadSource names which path served an analytics result.
type ReadSource string

// Read sources.
const (
	SourceRollup ReadSource = "rollup"
	SourceRaw    ReadSource = "raw"
	SourceCache  ReadSource = "cache"
)
