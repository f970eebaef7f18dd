package pipeline

import (
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/timecalc"
)

// consolidate merges sub-threshold fragments into a same-day sibling with
// the same reference id and drops degenerate zero-duration tracker entries.
// Day membership is decided in loc. Entries are mutated in place; the
// returned slice holds the survivors in their original order.
func consolidate(entries []model.Entry, minBillable int, loc *time.Location) []model.Entry {
	dead := make([]bool, len(entries))

	// Zero-duration tracker worklogs are degenerate records, not fragments.
	for i := range entries {
		if entries[i].Source == model.KindTracker && entries[i].SpentMinutes <= 0 {
			dead[i] = true
		}
	}

	for i := range entries {
		e := &entries[i]
		if dead[i] || !e.Source.Mergeable() || e.SpentMinutes >= minBillable {
			continue
		}
		// First qualifying sibling in list order absorbs the fragment.
		for j := range entries {
			if j == i || dead[j] {
				continue
			}
			s := &entries[j]
			if s.Source != e.Source || s.ReferenceID == "" || s.ReferenceID != e.ReferenceID {
				continue
			}
			if !timecalc.SameDay(s.Start.In(loc), e.Start.In(loc)) {
				continue
			}
			s.SpentMinutes += e.SpentMinutes
			s.End = s.End.Add(time.Duration(e.SpentMinutes) * time.Minute)
			dead[i] = true
			break
		}
	}

	survivors := entries[:0]
	for i := range entries {
		if !dead[i] {
			survivors = append(survivors, entries[i])
		}
	}
	return survivors
}

// roundUpShortEntries extends the displayed end of any surviving entry still
// below the minimum billable duration. SpentMinutes is left as recorded.
func roundUpShortEntries(entries []model.Entry, minBillable int) {
	for i := range entries {
		e := &entries[i]
		if e.SpentMinutes < minBillable {
			e.End = e.End.Add(time.Duration(minBillable-e.SpentMinutes) * time.Minute)
		}
	}
}
