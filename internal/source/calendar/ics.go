package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/source"
)

// ICSTransport downloads the calendar's ICS export and converts its
// VEVENTs. Cancelled and all-day events are skipped: neither represents
// tracked working time.
type ICSTransport struct {
	// URLTemplate is the export URL; the {user} placeholder is replaced
	// with the requesting user's login.
	URLTemplate string

	httpClient *http.Client
}

// NewICSSource returns a calendar Source backed by an ICS export URL.
func NewICSSource(urlTemplate string) *Source {
	return &Source{transport: &ICSTransport{
		URLTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}}
}

func (t *ICSTransport) fetch(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]event, error) {
	endpoint := strings.ReplaceAll(t.URLTemplate, "{user}", url.QueryEscape(user))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: err}
	}
	req.SetBasicAuth(creds.Login, creds.Password)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("fetching ICS export: %w", err)}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("reading ICS export: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("ICS export error %d", resp.StatusCode)}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("parsing ICS export: %w", err)}
	}

	var events []event
	for _, ve := range cal.Events() {
		ev, ok := parseVEvent(ve)
		if !ok {
			continue
		}
		// The export includes the surrounding days; trim to the window.
		if ev.Start.Before(from) || ev.Start.After(to.AddDate(0, 0, 1)) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (event, bool) {
	var ev event

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return event{}, false
	}

	// All-day events have a DATE-valued DTSTART (no time component).
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return event{}, false
		}
		if !strings.Contains(p.Value, "T") {
			return event{}, false
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return event{}, false
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return event{}, false
	}
	ev.Start, ev.End = start, end
	return ev, true
}
