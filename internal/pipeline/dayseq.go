package pipeline

import (
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/timecalc"
)

// DaySequence tracks, per source kind and calendar day, the end instant of
// the last record processed so far. The anchor-forward policy reads it to
// chain consecutive entries of a day without overlap.
//
// A DaySequence lives for exactly one pipeline run and is owned by it; it is
// never shared across runs or requests. Day membership is decided in the
// configured location, not in whatever zone a timestamp happens to carry.
type DaySequence struct {
	loc     *time.Location
	lastEnd map[model.SourceKind]map[string]time.Time
}

func NewDaySequence(loc *time.Location) *DaySequence {
	if loc == nil {
		loc = time.Local
	}
	return &DaySequence{loc: loc, lastEnd: make(map[model.SourceKind]map[string]time.Time)}
}

// LastEnd returns the recorded last end for the day of t, if any.
func (s *DaySequence) LastEnd(kind model.SourceKind, t time.Time) (time.Time, bool) {
	days, ok := s.lastEnd[kind]
	if !ok {
		return time.Time{}, false
	}
	end, ok := days[timecalc.DayKey(t.In(s.loc))]
	return end, ok
}

// SetLastEnd records end as the last end for the day of t. The previous
// value is overwritten unconditionally: sources deliver records in
// chronological order, so the last processed end is the latest. An unsorted
// batch would under-chain here.
func (s *DaySequence) SetLastEnd(kind model.SourceKind, t, end time.Time) {
	days, ok := s.lastEnd[kind]
	if !ok {
		days = make(map[string]time.Time)
		s.lastEnd[kind] = days
	}
	days[timecalc.DayKey(t.In(s.loc))] = end
}
