// Package compliance implements the vacation-aware on-time math shared by
// the aggregator and the raw query path.
//
// The handling is deliberately asymmetric: a vacation week removes the
// event from the "due" denominator, but an on-time event during a vacation
// week still counts toward the numerator. The percentage can therefore
// reach 100 even when someone worked through a vacation week.
package compliance

import "time"

const hoursPerDay = 24

// Tally accumulates compliance counters for one rate (submission or
// review). The zero value is ready to use.
type Tally struct {
	Due    int
	OnTime int

	DaysEarlySum   float64
	DaysEarlyCount int
	DaysLateSum    float64
	DaysLateCount  int
}

// Observe folds one event into the tally.
//
// onVacation is the relevant person's declared vacation state for the ISO
// week the event belongs to: the submitter for submission compliance, the
// reviewer for review compliance. done reports whether the submission or
// review happened at all; doneAt is ignored when done is false.
func (t *Tally) Observe(dueAt, doneAt time.Time, done, onVacation bool) {
	if !onVacation {
		t.Due++
	}
	if !done {
		return
	}
	if !doneAt.After(dueAt) {
		t.OnTime++
	}
	delta := dueAt.Sub(doneAt).Hours() / hoursPerDay
	if delta >= 0 {
		t.DaysEarlySum += delta
		t.DaysEarlyCount++
	} else {
		t.DaysLateSum -= delta
		t.DaysLateCount++
	}
}

// Merge adds another tally into t. Used when folding bucket rows into a
// window-level report.
func (t *Tally) Merge(other Tally) {
	t.Due += other.Due
	t.OnTime += other.OnTime
	t.DaysEarlySum += other.DaysEarlySum
	t.DaysEarlyCount += other.DaysEarlyCount
	t.DaysLateSum += other.DaysLateSum
	t.DaysLateCount += other.DaysLateCount
}

// OnTimePercentage returns OnTime/Due*100, and 0 when nothing was due.
// Never NaN or Inf.
func (t Tally) OnTimePercentage() float64 {
	if t.Due == 0 {
		return 0
	}
	return float64(t.OnTime) / float64(t.Due) * 100
}

// AverageDaysEarly returns the mean early margin in days, or nil when no
// early samples exist.
func (t Tally) AverageDaysEarly() *float64 {
	if t.DaysEarlyCount == 0 {
		return nil
	}
	v := t.DaysEarlySum / float64(t.DaysEarlyCount)
	return &v
}

// AverageDaysLate returns the mean late margin in days, or nil when no
// late samples exist.
func (t Tally) AverageDaysLate() *float64 {
	if t.DaysLateCount == 0 {
		return nil
	}
	v := t.DaysLateSum / float64(t.DaysLateCount)
	return &v
}
