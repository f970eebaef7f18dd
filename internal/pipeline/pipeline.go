// Package pipeline turns raw, source-shaped time records into canonical
// calendar entries: it infers start/end instants per source policy, chains
// same-day entries, merges sub-threshold fragments and rounds short entries
// up to the minimum billable duration.
package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/ttg-tools/timegrid/internal/log"
	"github.com/ttg-tools/timegrid/internal/model"
)

const (
	// DefaultDayStartHour anchors entries without a known start time.
	DefaultDayStartHour = 8
	// DefaultMinBillableMinutes is the threshold below which entries are
	// merged into a sibling or rounded up.
	DefaultMinBillableMinutes = 15
)

// ErrUnknownSource is returned when no inference policy exists for a
// record's source kind. This is a configuration error and fails the whole
// aggregation for that source.
var ErrUnknownSource = fmt.Errorf("unknown source kind")

// Options configures one pipeline run.
type Options struct {
	Location           *time.Location
	DayStartHour       int
	MinBillableMinutes int
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.DayStartHour == 0 {
		o.DayStartHour = DefaultDayStartHour
	}
	if o.MinBillableMinutes == 0 {
		o.MinBillableMinutes = DefaultMinBillableMinutes
	}
	return o
}

// SkipDiagnostic reports one malformed record that was skipped while the
// rest of its batch went through.
type SkipDiagnostic struct {
	Source      model.SourceKind `json:"source"`
	ReferenceID string           `json:"reference_id,omitempty"`
	Reason      string           `json:"reason"`
}

// Result is the outcome of one pipeline run over a single source batch.
type Result struct {
	Entries []model.Entry
	Skipped []SkipDiagnostic
}

// Run processes one batch of raw records, in fetch order, into canonical
// entries. A malformed record is skipped with a diagnostic; an unknown
// source kind aborts the run with ErrUnknownSource.
func Run(records []model.RawRecord, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	seq := NewDaySequence(opts.Location)
	result := &Result{}

	entries := make([]model.Entry, 0, len(records))
	for _, rec := range records {
		infer, ok := policies[rec.Source]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, rec.Source)
		}
		entry, err := infer(rec, seq, opts)
		if err != nil {
			log.Warn("skipping malformed record", "source", rec.Source.String(), "ref", rec.ReferenceID, "reason", err)
			result.Skipped = append(result.Skipped, SkipDiagnostic{
				Source:      rec.Source,
				ReferenceID: rec.ReferenceID,
				Reason:      err.Error(),
			})
			continue
		}
		entries = append(entries, entry)
	}

	entries = consolidate(entries, opts.MinBillableMinutes, opts.Location)
	roundUpShortEntries(entries, opts.MinBillableMinutes)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})

	result.Entries = entries
	return result, nil
}
