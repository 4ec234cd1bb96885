package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/model"
)

// eventRow is the storage shape of a model.Event. Payloads are kept as
// jsonb so the event log schema does not change with every payload field.
type eventRow struct {
	ID             string    `gorm:"primaryKey;type:text"`
	OrganizationID string    `gorm:"type:text;not null;index:idx_events_org_occurred"`
	UserID         string    `gorm:"type:text;not null"`
	TeamID         string    `gorm:"type:text"`
	Kind           string    `gorm:"type:text;not null"`
	OccurredAt     time.Time `gorm:"type:timestamptz;not null;index:idx_events_org_occurred"`
	Payload        []byte    `gorm:"type:jsonb;not null;default:'{}'::jsonb"`
	CreatedAt      time.Time
}

func (eventRow) TableName() string { return "analytics_events" }

func toRow(e model.Event) (eventRow, error) {
	var payload any
	switch {
	case e.Checkin != nil:
		payload = e.Checkin
	case e.Shoutout != nil:
		payload = e.Shoutout
	case e.Vacation != nil:
		payload = e.Vacation
	default:
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eventRow{}, fmt.Errorf("marshal payload: %w", err)
	}
	return eventRow{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		UserID:         e.UserID,
		TeamID:         e.TeamID,
		Kind:           string(e.Kind),
		OccurredAt:     e.OccurredAt.UTC(),
		Payload:        body,
	}, nil
}

func fromRow(r eventRow) (model.Event, error) {
	e := model.Event{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		TeamID:         r.TeamID,
		Kind:           model.EventKind(r.Kind),
		OccurredAt:     r.OccurredAt.UTC(),
	}
	switch e.Kind {
	case model.KindCheckinSubmitted:
		var p model.CheckinPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return e, fmt.Errorf("unmarshal checkin payload: %w", err)
		}
		e.Checkin = &p
	case model.KindShoutoutGiven, model.KindShoutoutReceived:
		var p model.ShoutoutPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return e, fmt.Errorf("unmarshal shoutout payload: %w", err)
		}
		e.Shoutout = &p
	case model.KindVacationDeclared:
		var p model.VacationPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return e, fmt.Errorf("unmarshal vacation payload: %w", err)
		}
		e.Vacation = &p
	}
	return e, nil
}

// Connect opens a gorm handle against Postgres.
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), openConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return gdb, nil
}

// openConfig builds the gorm configuration. TranslateError maps the
// driver's unique-violation to gorm.ErrDuplicatedKey so replayed event
// ids surface as ErrDuplicateEvent, same as the in-memory store.
func openConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

// AutoMigrateAndIndexes creates the engine's tables and the composite
// indexes the sweep queries lean on.
func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&eventRow{},
		&PulseBucket{},
		&RecognitionBucket{},
		&ComplianceBucket{},
		&Watermark{},
		&Vacation{},
	); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	stmts := []string{
		`create index if not exists idx_events_org_user_occurred on analytics_events(organization_id, user_id, occurred_at);`,
		`create index if not exists idx_events_occurred on analytics_events(occurred_at);`,
		`create index if not exists idx_pulse_org_date on pulse_buckets(organization_id, bucket_date);`,
		`create index if not exists idx_recognition_org_date on recognition_buckets(organization_id, bucket_date);`,
		`create index if not exists idx_compliance_org_date on compliance_buckets(organization_id, bucket_date);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

// SQLStore implements Store over gorm/Postgres.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps an open gorm handle.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// AppendEvent stores an immutable event row.
func (s *SQLStore) AppendEvent(ctx context.Context, e model.Event) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("%w: append event: %w", ErrStore, err)
	}
	return nil
}

// Events returns matching events ordered by OccurredAt.
func (s *SQLStore) Events(ctx context.Context, f EventFilter) ([]model.Event, error) {
	q := s.db.WithContext(ctx).Model(&eventRow{})
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.TeamID != "" {
		q = q.Where("team_id = ?", f.TeamID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		q = q.Where("kind in ?", kinds)
	}
	if !f.From.IsZero() {
		q = q.Where("occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("occurred_at < ?", f.To)
	}

	var rows []eventRow
	if err := q.Order("occurred_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: list events: %w", ErrStore, err)
	}
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		e, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ActiveOrganizations lists organizations with any event at or after since.
func (s *SQLStore) ActiveOrganizations(ctx context.Context, since time.Time) ([]string, error) {
	var orgs []string
	err := s.db.WithContext(ctx).
		Model(&eventRow{}).
		Distinct("organization_id").
		Where("occurred_at >= ?", since).
		Order("organization_id asc").
		Pluck("organization_id", &orgs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: active organizations: %w", ErrStore, err)
	}
	return orgs, nil
}

type entityDayRow struct {
	UserID string    `gorm:"column:user_id"`
	Day    time.Time `gorm:"column:day"`
	MaxTS  time.Time `gorm:"column:max_ts"`
}

// PendingEntityDays groups events at or after since into distinct
// (user, day) pairs and reports the maximum OccurredAt observed.
func (s *SQLStore) PendingEntityDays(ctx context.Context, organizationID string, since time.Time) ([]EntityDay, time.Time, error) {
	var rows []entityDayRow
	err := s.db.WithContext(ctx).Raw(`
select user_id,
       date_trunc('day', occurred_at at time zone 'UTC') as day,
       max(occurred_at) as max_ts
from analytics_events
where organization_id = ? and occurred_at >= ?
group by 1, 2
order by 2 asc, 1 asc
`, organizationID, since).Scan(&rows).Error
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: pending entity days: %w", ErrStore, err)
	}

	var maxTS time.Time
	out := make([]EntityDay, 0, len(rows))
	for _, r := range rows {
		out = append(out, EntityDay{
			OrganizationID: organizationID,
			UserID:         r.UserID,
			Day:            calendar.DayStart(r.Day),
		})
		if r.MaxTS.After(maxTS) {
			maxTS = r.MaxTS
		}
	}
	return out, maxTS, nil
}

// EntityDaysInRange lists distinct (user, day) pairs with activity in [from, to).
func (s *SQLStore) EntityDaysInRange(ctx context.Context, organizationID string, from, to time.Time) ([]EntityDay, error) {
	var rows []entityDayRow
	err := s.db.WithContext(ctx).Raw(`
select user_id,
       date_trunc('day', occurred_at at time zone 'UTC') as day,
       max(occurred_at) as max_ts
from analytics_events
where organization_id = ? and occurred_at >= ? and occurred_at < ?
group by 1, 2
order by 2 asc, 1 asc
`, organizationID, from, to).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: entity days in range: %w", ErrStore, err)
	}

	out := make([]EntityDay, 0, len(rows))
	for _, r := range rows {
		out = append(out, EntityDay{
			OrganizationID: organizationID,
			UserID:         r.UserID,
			Day:            calendar.DayStart(r.Day),
		})
	}
	return out, nil
}

// SetVacation flips the declared vacation state of one ISO week.
func (s *SQLStore) SetVacation(ctx context.Context, organizationID, userID string, weekOf time.Time, on bool) error {
	week := calendar.WeekStart(weekOf)
	db := s.db.WithContext(ctx)
	if !on {
		err := db.Where("organization_id = ? and user_id = ? and week_of = ?", organizationID, userID, week).
			Delete(&Vacation{}).Error
		if err != nil {
			return fmt.Errorf("%w: clear vacation: %w", ErrStore, err)
		}
		return nil
	}
	v := Vacation{OrganizationID: organizationID, UserID: userID, WeekOf: week}
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&v).Error
	if err != nil {
		return fmt.Errorf("%w: set vacation: %w", ErrStore, err)
	}
	return nil
}

// OnVacation reports whether the user declared the given ISO week as vacation.
func (s *SQLStore) OnVacation(ctx context.Context, organizationID, userID string, weekOf time.Time) (bool, error) {
	week := calendar.WeekStart(weekOf)
	var count int64
	err := s.db.WithContext(ctx).Model(&Vacation{}).
		Where("organization_id = ? and user_id = ? and week_of = ?", organizationID, userID, week).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: vacation lookup: %w", ErrStore, err)
	}
	return count > 0, nil
}

// ReplaceDayBuckets swaps the three family rows for one entity-day inside
// a single transaction, so readers never observe a half-written day.
func (s *SQLStore) ReplaceDayBuckets(ctx context.Context, key EntityDay, pulse *PulseBucket, recognition *RecognitionBucket, comp *ComplianceBucket) error {
	day := calendar.DayStart(key.Day)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		where := "organization_id = ? and user_id = ? and bucket_date = ?"
		if err := tx.Where(where, key.OrganizationID, key.UserID, day).Delete(&PulseBucket{}).Error; err != nil {
			return fmt.Errorf("delete pulse: %w", err)
		}
		if err := tx.Where(where, key.OrganizationID, key.UserID, day).Delete(&RecognitionBucket{}).Error; err != nil {
			return fmt.Errorf("delete recognition: %w", err)
		}
		if err := tx.Where(where, key.OrganizationID, key.UserID, day).Delete(&ComplianceBucket{}).Error; err != nil {
			return fmt.Errorf("delete compliance: %w", err)
		}

		if pulse != nil {
			p := *pulse
			p.ID = 0
			p.BucketDate = day
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("insert pulse: %w", err)
			}
		}
		if recognition != nil {
			r := *recognition
			r.ID = 0
			r.BucketDate = day
			if err := tx.Create(&r).Error; err != nil {
				return fmt.Errorf("insert recognition: %w", err)
			}
		}
		if comp != nil {
			c := *comp
			c.ID = 0
			c.BucketDate = day
			if err := tx.Create(&c).Error; err != nil {
				return fmt.Errorf("insert compliance: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: replace buckets: %w", ErrStore, err)
	}
	return nil
}

func applyBucketFilter(q *gorm.DB, f BucketFilter) *gorm.DB {
	if f.OrganizationID != "" {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.TeamID != "" {
		q = q.Where("team_id = ?", f.TeamID)
	}
	if !f.From.IsZero() {
		q = q.Where("bucket_date >= ?", calendar.DayStart(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("bucket_date <= ?", calendar.DayStart(f.To))
	}
	return q
}

// PulseBuckets returns matching pulse rows ordered by date then user.
func (s *SQLStore) PulseBuckets(ctx context.Context, f BucketFilter) ([]PulseBucket, error) {
	var out []PulseBucket
	q := applyBucketFilter(s.db.WithContext(ctx).Model(&PulseBucket{}), f)
	if err := q.Order("bucket_date asc, user_id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: pulse buckets: %w", ErrStore, err)
	}
	return out, nil
}

// RecognitionBuckets returns matching recognition rows ordered by date then user.
func (s *SQLStore) RecognitionBuckets(ctx context.Context, f BucketFilter) ([]RecognitionBucket, error) {
	var out []RecognitionBucket
	q := applyBucketFilter(s.db.WithContext(ctx).Model(&RecognitionBucket{}), f)
	if err := q.Order("bucket_date asc, user_id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: recognition buckets: %w", ErrStore, err)
	}
	return out, nil
}

// ComplianceBuckets returns matching compliance rows ordered by date then user.
func (s *SQLStore) ComplianceBuckets(ctx context.Context, f BucketFilter) ([]ComplianceBucket, error) {
	var out []ComplianceBucket
	q := applyBucketFilter(s.db.WithContext(ctx).Model(&ComplianceBucket{}), f)
	if err := q.Order("bucket_date asc, user_id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: compliance buckets: %w", ErrStore, err)
	}
	return out, nil
}

// Watermark returns the organization's watermark, or nil when absent.
func (s *SQLStore) Watermark(ctx context.Context, organizationID string) (*Watermark, error) {
	var w Watermark
	err := s.db.WithContext(ctx).First(&w, "organization_id = ?", organizationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load watermark: %w", ErrStore, err)
	}
	return &w, nil
}

// SaveWatermark upserts the organization's watermark.
func (s *SQLStore) SaveWatermark(ctx context.Context, w Watermark) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&w).Error
	if err != nil {
		return fmt.Errorf("%w: save watermark: %w", ErrStore, err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
