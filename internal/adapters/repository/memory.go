package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain/calendar"
	"github.com/cadencehq/cadence/internal/domain/model"
)

type bucketKey struct {
	org  string
	user string
	day  int64 // unix seconds of the UTC day start
}

type vacationKey struct {
	org  string
	user string
	week int64
}

// MemoryStore implements Store over process-local maps. It backs the test
// suite and the zero-dependency development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []model.Event
	eventIDs   map[string]struct{}
	pulse      map[bucketKey]PulseBucket
	recog      map[bucketKey]RecognitionBucket
	comp       map[bucketKey]ComplianceBucket
	vacations  map[vacationKey]struct{}
	watermarks map[string]Watermark
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		eventIDs:   make(map[string]struct{}),
		pulse:      make(map[bucketKey]PulseBucket),
		recog:      make(map[bucketKey]RecognitionBucket),
		comp:       make(map[bucketKey]ComplianceBucket),
		vacations:  make(map[vacationKey]struct{}),
		watermarks: make(map[string]Watermark),
		now:        time.Now,
	}
}

func keyFor(org, user string, day time.Time) bucketKey {
	return bucketKey{org: org, user: user, day: calendar.DayStart(day).Unix()}
}

// AppendEvent stores an immutable event. Duplicate ids are rejected.
func (m *MemoryStore) AppendEvent(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID != "" {
		if _, ok := m.eventIDs[e.ID]; ok {
			return ErrDuplicateEvent
		}
		m.eventIDs[e.ID] = struct{}{}
	}
	m.events = append(m.events, e)
	return nil
}

func matchesEvent(e model.Event, f EventFilter) bool {
	if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.TeamID != "" && e.TeamID != f.TeamID {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

// Events returns matching events ordered by OccurredAt.
func (m *MemoryStore) Events(_ context.Context, f EventFilter) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Event
	for _, e := range m.events {
		if matchesEvent(e, f) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// ActiveOrganizations lists organizations with any event at or after since.
func (m *MemoryStore) ActiveOrganizations(_ context.Context, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range m.events {
		if e.OccurredAt.Before(since) {
			continue
		}
		if _, ok := seen[e.OrganizationID]; ok {
			continue
		}
		seen[e.OrganizationID] = struct{}{}
		out = append(out, e.OrganizationID)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) entityDays(organizationID string, from, to time.Time) []EntityDay {
	type pair struct {
		user string
		day  int64
	}
	seen := make(map[pair]struct{})
	var out []EntityDay
	for _, e := range m.events {
		if e.OrganizationID != organizationID {
			continue
		}
		if !from.IsZero() && e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.OccurredAt.Before(to) {
			continue
		}
		day := calendar.DayStart(e.OccurredAt)
		p := pair{user: e.UserID, day: day.Unix()}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, EntityDay{OrganizationID: organizationID, UserID: e.UserID, Day: day})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// PendingEntityDays lists distinct (user, day) pairs touched at or after
// since, plus the maximum OccurredAt among the matching events.
func (m *MemoryStore) PendingEntityDays(_ context.Context, organizationID string, since time.Time) ([]EntityDay, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var maxTS time.Time
	for _, e := range m.events {
		if e.OrganizationID != organizationID || e.OccurredAt.Before(since) {
			continue
		}
		if e.OccurredAt.After(maxTS) {
			maxTS = e.OccurredAt
		}
	}
	return m.entityDays(organizationID, since, time.Time{}), maxTS, nil
}

// EntityDaysInRange lists distinct (user, day) pairs with activity in
// [from, to); to is treated as exclusive of the next day boundary.
func (m *MemoryStore) EntityDaysInRange(_ context.Context, organizationID string, from, to time.Time) ([]EntityDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entityDays(organizationID, from, to), nil
}

// SetVacation flips the declared vacation state of one ISO week.
func (m *MemoryStore) SetVacation(_ context.Context, organizationID, userID string, weekOf time.Time, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := vacationKey{org: organizationID, user: userID, week: calendar.WeekStart(weekOf).Unix()}
	if on {
		m.vacations[k] = struct{}{}
	} else {
		delete(m.vacations, k)
	}
	return nil
}

// OnVacation reports whether the user declared the given ISO week as vacation.
func (m *MemoryStore) OnVacation(_ context.Context, organizationID, userID string, weekOf time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := vacationKey{org: organizationID, user: userID, week: calendar.WeekStart(weekOf).Unix()}
	_, ok := m.vacations[k]
	return ok, nil
}

// ReplaceDayBuckets swaps the three family rows for one entity-day under a
// single lock, mirroring the SQL store's per-entity-day transaction.
func (m *MemoryStore) ReplaceDayBuckets(_ context.Context, key EntityDay, pulse *PulseBucket, recognition *RecognitionBucket, comp *ComplianceBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(key.OrganizationID, key.UserID, key.Day)
	delete(m.pulse, k)
	delete(m.recog, k)
	delete(m.comp, k)

	now := m.now()
	if pulse != nil {
		p := *pulse
		p.BucketDate = calendar.DayStart(p.BucketDate)
		p.UpdatedAt = now
		m.pulse[k] = p
	}
	if recognition != nil {
		r := *recognition
		r.BucketDate = calendar.DayStart(r.BucketDate)
		r.UpdatedAt = now
		m.recog[k] = r
	}
	if comp != nil {
		c := *comp
		c.BucketDate = calendar.DayStart(c.BucketDate)
		c.UpdatedAt = now
		m.comp[k] = c
	}
	return nil
}

func matchesBucket(org, user, team string, date time.Time, f BucketFilter) bool {
	if f.OrganizationID != "" && org != f.OrganizationID {
		return false
	}
	if f.UserID != "" && user != f.UserID {
		return false
	}
	if f.TeamID != "" && team != f.TeamID {
		return false
	}
	if !f.From.IsZero() && date.Before(calendar.DayStart(f.From)) {
		return false
	}
	if !f.To.IsZero() && date.After(calendar.DayStart(f.To)) {
		return false
	}
	return true
}

// PulseBuckets returns matching pulse rows ordered by date then user.
func (m *MemoryStore) PulseBuckets(_ context.Context, f BucketFilter) ([]PulseBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PulseBucket
	for _, b := range m.pulse {
		if matchesBucket(b.OrganizationID, b.UserID, b.TeamID, b.BucketDate, f) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketDate.Equal(out[j].BucketDate) {
			return out[i].BucketDate.Before(out[j].BucketDate)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// RecognitionBuckets returns matching recognition rows ordered by date then user.
func (m *MemoryStore) RecognitionBuckets(_ context.Context, f BucketFilter) ([]RecognitionBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RecognitionBucket
	for _, b := range m.recog {
		if matchesBucket(b.OrganizationID, b.UserID, b.TeamID, b.BucketDate, f) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketDate.Equal(out[j].BucketDate) {
			return out[i].BucketDate.Before(out[j].BucketDate)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// ComplianceBuckets returns matching compliance rows ordered by date then user.
func (m *MemoryStore) ComplianceBuckets(_ context.Context, f BucketFilter) ([]ComplianceBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ComplianceBucket
	for _, b := range m.comp {
		if matchesBucket(b.OrganizationID, b.UserID, b.TeamID, b.BucketDate, f) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketDate.Equal(out[j].BucketDate) {
			return out[i].BucketDate.Before(out[j].BucketDate)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// Watermark returns the organization's watermark, or nil when absent.
func (m *MemoryStore) Watermark(_ context.Context, organizationID string) (*Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.watermarks[organizationID]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// SaveWatermark upserts the organization's watermark.
func (m *MemoryStore) SaveWatermark(_ context.Context, w Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.UpdatedAt = m.now()
	m.watermarks[w.OrganizationID] = w
	return nil
}

var _ Store = (*MemoryStore)(nil)
