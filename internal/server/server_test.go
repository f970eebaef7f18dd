package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ttg-tools/timegrid/internal/aggregator"
	"github.com/ttg-tools/timegrid/internal/cache"
	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/pipeline"
	"github.com/ttg-tools/timegrid/internal/server"
	"github.com/ttg-tools/timegrid/internal/source"
)

type fakeSource struct {
	kind    model.SourceKind
	records []model.RawRecord
	err     error
}

func (f *fakeSource) Kind() model.SourceKind { return f.kind }

func (f *fakeSource) FetchRawRecords(_ context.Context, _ model.Credentials, _ string, _, _ time.Time) ([]model.RawRecord, error) {
	return f.records, f.err
}

func newTestServer(t *testing.T, sources ...source.Source) http.Handler {
	t.Helper()
	c := cache.New(cache.Config{DefaultTTL: time.Minute})
	t.Cleanup(c.Close)
	a := aggregator.New(c, pipeline.Options{Location: time.UTC}, 10*time.Minute)
	for _, s := range sources {
		a.Register(s)
	}
	return server.New(":0", a).Handler()
}

func doRequest(h http.Handler, method, target string, withAuth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if withAuth {
		req.SetBasicAuth("jdoe", "hunter2")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := doRequest(h, http.MethodGet, "/healthz", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGetEventsRequiresCredentials(t *testing.T) {
	h := newTestServer(t)
	rec := doRequest(h, http.MethodGet, "/api/v1/events?from=2024-05-06&to=2024-05-06", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetEventsValidatesDates(t *testing.T) {
	h := newTestServer(t)
	for _, target := range []string{
		"/api/v1/events",
		"/api/v1/events?from=2024-05-06",
		"/api/v1/events?from=garbage&to=2024-05-06",
		"/api/v1/events?from=2024-05-07&to=2024-05-06",
	} {
		rec := doRequest(h, http.MethodGet, target, true)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestGetEventsAggregatesAllSources(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	cal := &fakeSource{kind: model.KindCalendar, records: []model.RawRecord{
		{Date: day, DurationMinutes: 60, Title: "Standup", Source: model.KindCalendar},
	}}
	bad := &fakeSource{kind: model.KindBIExport, err: &source.UnavailableError{Kind: model.KindBIExport, Err: fmt.Errorf("down")}}
	h := newTestServer(t, cal, bad)

	rec := doRequest(h, http.MethodGet, "/api/v1/events?from=2024-05-06&to=2024-05-06", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded source must not fail the view)", rec.Code)
	}

	var resp struct {
		Events []model.Entry     `json:"events"`
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(resp.Events))
	}
	if resp.Events[0].Title != "Standup" {
		t.Errorf("title = %q", resp.Events[0].Title)
	}
	if _, ok := resp.Errors["biexport"]; !ok {
		t.Errorf("errors = %v, want biexport indicator", resp.Errors)
	}

	// Instants are ISO-8601 in the payload.
	if !strings.Contains(rec.Body.String(), `"start":"2024-05-06T08:00:00Z"`) {
		t.Errorf("body missing ISO start: %s", rec.Body.String())
	}
}

func TestGetEventsSingleSource(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	cal := &fakeSource{kind: model.KindCalendar, records: []model.RawRecord{
		{Date: day, DurationMinutes: 60, Title: "Standup", Source: model.KindCalendar},
	}}
	h := newTestServer(t, cal)

	rec := doRequest(h, http.MethodGet, "/api/v1/events?from=2024-05-06&to=2024-05-06&source=calendar", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/api/v1/events?from=2024-05-06&to=2024-05-06&source=nonsense", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown source", rec.Code)
	}
}

func TestCreateWorklogValidation(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/worklogs", strings.NewReader(`{"issue":"","start":"2024-05-06T09:00:00Z","end":"2024-05-06T10:00:00Z"}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("jdoe", "hunter2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing issue", rec.Code)
	}
}
