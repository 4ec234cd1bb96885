// Package repository defines the persistence contracts of the analytics
// engine: the append-only event log it reads, the bucket rows it owns,
// per-organization watermarks and week-granular vacation state.
//
// Two implementations exist: SQLStore over gorm/Postgres and MemoryStore
// for tests and single-binary development.
package repository

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/internal/domain/compliance"
	"github.com/cadencehq/cadence/internal/domain/model"
)

// EntityDay identifies one unit of aggregation work.
type EntityDay struct {
	OrganizationID string
	UserID         string
	Day            time.Time // normalized to the UTC day boundary
}

// EventFilter narrows an event log read. A zero From or To leaves that
// bound open; To is exclusive.
type EventFilter struct {
	OrganizationID string
	UserID         string
	TeamID         string
	Kinds          []model.EventKind
	From           time.Time
	To             time.Time
}

// BucketFilter narrows a bucket read. From/To bound BucketDate inclusively;
// zero values mean unbounded.
type BucketFilter struct {
	OrganizationID string
	UserID         string
	TeamID         string
	From           time.Time
	To             time.Time
}

// PulseBucket is the per-(organization, user, day) mood rollup. A row
// exists iff CheckinCount is non-zero; "no activity" is expressed by
// absence, never by a zeroed row.
type PulseBucket struct {
	ID             uint64    `gorm:"primaryKey"`
	OrganizationID string    `gorm:"type:text;not null;uniqueIndex:uq_pulse_org_user_date"`
	UserID         string    `gorm:"type:text;not null;uniqueIndex:uq_pulse_org_user_date"`
	TeamID         string    `gorm:"type:text"`
	BucketDate     time.Time `gorm:"type:date;not null;uniqueIndex:uq_pulse_org_user_date"`
	CheckinCount   int       `gorm:"not null"`
	MoodSum        int       `gorm:"not null"`
	UpdatedAt      time.Time
}

// TableName returns the database table name.
func (PulseBucket) TableName() string { return "pulse_buckets" }

// RecognitionBucket is the per-entity-day shoutout rollup.
type RecognitionBucket struct {
	ID              uint64    `gorm:"primaryKey"`
	OrganizationID  string    `gorm:"type:text;not null;uniqueIndex:uq_recognition_org_user_date"`
	UserID          string    `gorm:"type:text;not null;uniqueIndex:uq_recognition_org_user_date"`
	TeamID          string    `gorm:"type:text"`
	BucketDate      time.Time `gorm:"type:date;not null;uniqueIndex:uq_recognition_org_user_date"`
	ReceivedPublic  int       `gorm:"not null"`
	ReceivedPrivate int       `gorm:"not null"`
	GivenCount      int       `gorm:"not null"`
	UpdatedAt       time.Time
}

// TableName returns the database table name.
func (RecognitionBucket) TableName() string { return "recognition_buckets" }

// ComplianceBucket is the per-entity-day compliance rollup, keyed by the
// submitting user. Submission covers the user's own check-ins, Review the
// reviews those check-ins received.
type ComplianceBucket struct {
	ID             uint64    `gorm:"primaryKey"`
	OrganizationID string    `gorm:"type:text;not null;uniqueIndex:uq_compliance_org_user_date"`
	UserID         string    `gorm:"type:text;not null;uniqueIndex:uq_compliance_org_user_date"`
	TeamID         string    `gorm:"type:text"`
	BucketDate     time.Time `gorm:"type:date;not null;uniqueIndex:uq_compliance_org_user_date"`

	Submission compliance.Tally `gorm:"embedded;embeddedPrefix:submission_"`
	Review     compliance.Tally `gorm:"embedded;embeddedPrefix:review_"`

	UpdatedAt time.Time
}

// TableName returns the database table name.
func (ComplianceBucket) TableName() string { return "compliance_buckets" }

// Watermark records the timestamp up to which an organization's events
// have been folded into buckets. LastProcessedAt is monotonically
// non-decreasing and always the maximum event timestamp actually
// processed, never wall-clock "now".
type Watermark struct {
	OrganizationID  string    `gorm:"primaryKey;type:text"`
	LastProcessedAt time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt       time.Time
}

// TableName returns the database table name.
func (Watermark) TableName() string { return "analytics_watermarks" }

// Vacation marks one (organization, user, ISO week) as declared vacation.
type Vacation struct {
	ID             uint64    `gorm:"primaryKey"`
	OrganizationID string    `gorm:"type:text;not null;uniqueIndex:uq_vacations_org_user_week"`
	UserID         string    `gorm:"type:text;not null;uniqueIndex:uq_vacations_org_user_week"`
	WeekOf         time.Time `gorm:"type:date;not null;uniqueIndex:uq_vacations_org_user_week"`
	CreatedAt      time.Time
}

// TableName returns the database table name.
func (Vacation) TableName() string { return "vacation_weeks" }

// Store is the full persistence surface. Engine components depend on the
// narrow subset they declare themselves; Store is what gets wired at
// process startup.
type Store interface {
	// Event log.
	AppendEvent(ctx context.Context, e model.Event) error
	Events(ctx context.Context, f EventFilter) ([]model.Event, error)
	ActiveOrganizations(ctx context.Context, since time.Time) ([]string, error)
	// PendingEntityDays lists the distinct (user, day) pairs touched by an
	// event at or after since, plus the maximum OccurredAt among them.
	PendingEntityDays(ctx context.Context, organizationID string, since time.Time) ([]EntityDay, time.Time, error)
	EntityDaysInRange(ctx context.Context, organizationID string, from, to time.Time) ([]EntityDay, error)

	// Vacation state, week-granular.
	SetVacation(ctx context.Context, organizationID, userID string, weekOf time.Time, on bool) error
	OnVacation(ctx context.Context, organizationID, userID string, weekOf time.Time) (bool, error)

	// Bucket rows, owned exclusively by the aggregator. ReplaceDayBuckets
	// deletes the three family rows for key and inserts the non-nil
	// replacements in a single transaction.
	ReplaceDayBuckets(ctx context.Context, key EntityDay, pulse *PulseBucket, recognition *RecognitionBucket, comp *ComplianceBucket) error
	PulseBuckets(ctx context.Context, f BucketFilter) ([]PulseBucket, error)
	RecognitionBuckets(ctx context.Context, f BucketFilter) ([]RecognitionBucket, error)
	ComplianceBuckets(ctx context.Context, f BucketFilter) ([]ComplianceBucket, error)

	// Watermarks. Watermark returns (nil, nil) when none exists yet.
	Watermark(ctx context.Context, organizationID string) (*Watermark, error)
	SaveWatermark(ctx context.Context, w Watermark) error
}
