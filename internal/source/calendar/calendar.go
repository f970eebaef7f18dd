// Package calendar is the mail/calendar server adapter. Events can be
// fetched either by invoking the export helper program (which logs into the
// mail server and prints a JSON array) or by downloading an ICS export URL.
// Either way the records carry only a day and a duration; the pipeline
// places them with the anchor-forward policy.
package calendar

import (
	"context"
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
)

// event is the normalized representation both transports produce before
// conversion to raw records.
type event struct {
	UID   string
	Title string
	Start time.Time
	End   time.Time
}

// transport fetches calendar events for a user and window.
type transport interface {
	fetch(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]event, error)
}

// Source adapts one calendar transport to the aggregator.
type Source struct {
	transport transport
}

func (s *Source) Kind() model.SourceKind {
	return model.KindCalendar
}

// FetchRawRecords fetches events and flattens them to day+duration records,
// preserving the transport's chronological order so anchor-forward chaining
// packs each day correctly.
func (s *Source) FetchRawRecords(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]model.RawRecord, error) {
	events, err := s.transport.fetch(ctx, creds, user, from, to)
	if err != nil {
		return nil, err
	}

	records := make([]model.RawRecord, 0, len(events))
	for _, ev := range events {
		minutes := int(ev.End.Sub(ev.Start) / time.Minute)
		records = append(records, model.RawRecord{
			Date:            ev.Start,
			DurationMinutes: minutes,
			Title:           ev.Title,
			RecordID:        ev.UID,
			Source:          s.Kind(),
		})
	}
	return records, nil
}
