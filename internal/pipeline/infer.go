package pipeline

import (
	"fmt"
	"time"

	"github.com/ttg-tools/timegrid/internal/marker"
	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/timecalc"
)

// policy derives start and end instants for one raw record. Policies run in
// fetch order; anchor-forward depends on that order to chain correctly.
type policy func(rec model.RawRecord, seq *DaySequence, opts Options) (model.Entry, error)

// policies is the closed dispatch table from source kind to inference policy.
var policies = map[model.SourceKind]policy{
	model.KindTracker:  inferMarkerFirst,
	model.KindCalendar: inferAnchorForward,
	model.KindBIExport: inferAnchorBackward,
}

// inferMarkerFirst handles tracker worklogs: the precise instants live in a
// comment marker when the record was written by us; anything else falls back
// to anchor-forward placement.
func inferMarkerFirst(rec model.RawRecord, seq *DaySequence, opts Options) (model.Entry, error) {
	if rec.Date.IsZero() {
		return model.Entry{}, fmt.Errorf("record %s has no date", rec.ReferenceID)
	}
	decoded, ok := marker.Decode(rec.FreeText)
	if !ok {
		return inferAnchorForward(rec, seq, opts)
	}
	if decoded.End.Before(decoded.Start) {
		return model.Entry{}, fmt.Errorf("record %s: marker end precedes start", rec.ReferenceID)
	}

	entry := newEntry(rec, decoded.Start, decoded.End)
	entry.Comment = decoded.Comment()
	// Later marker-less records of the same day chain after this one.
	seq.SetLastEnd(rec.Source, decoded.Start, decoded.End)
	return entry, nil
}

// inferAnchorForward places a record at the configured day-start hour, or
// directly after the previous entry of the same source and day, whichever
// is later.
func inferAnchorForward(rec model.RawRecord, seq *DaySequence, opts Options) (model.Entry, error) {
	if rec.Date.IsZero() {
		return model.Entry{}, fmt.Errorf("record %s has no date", rec.ReferenceID)
	}
	minutes := clampMinutes(rec.DurationMinutes)

	start := timecalc.AtHour(rec.Date, opts.DayStartHour, opts.Location)
	if last, ok := seq.LastEnd(rec.Source, start); ok && last.After(start) {
		start = last
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	seq.SetLastEnd(rec.Source, start, end)

	entry := newEntry(rec, start, end)
	entry.Comment = rec.FreeText
	return entry, nil
}

// inferAnchorBackward handles export records that store the end instant:
// the entry runs backward from it for the recorded duration. No chaining.
func inferAnchorBackward(rec model.RawRecord, _ *DaySequence, _ Options) (model.Entry, error) {
	if rec.Date.IsZero() {
		return model.Entry{}, fmt.Errorf("record %s has no date", rec.ReferenceID)
	}
	minutes := clampMinutes(rec.DurationMinutes)

	end := rec.Date
	start := end.Add(-time.Duration(minutes) * time.Minute)

	entry := newEntry(rec, start, end)
	entry.Comment = rec.FreeText
	return entry, nil
}

func newEntry(rec model.RawRecord, start, end time.Time) model.Entry {
	title := rec.Title
	if title == "" {
		title = rec.ReferenceID
	}
	return model.Entry{
		Start:        start,
		End:          end,
		Title:        title,
		SpentMinutes: clampMinutes(rec.DurationMinutes),
		Source:       rec.Source,
		ReferenceID:  rec.ReferenceID,
		RecordID:     rec.RecordID,
		ExternalURL:  rec.ExternalURL,
	}
}

func clampMinutes(minutes int) int {
	if minutes < 0 {
		return 0
	}
	return minutes
}
