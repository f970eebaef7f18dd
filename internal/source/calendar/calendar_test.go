package calendar_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/source"
	"github.com/ttg-tools/timegrid/internal/source/calendar"
)

var creds = model.Credentials{Login: "jdoe", Password: "hunter2", Mail: "jdoe@example.com"}

// writeHelper creates a fake export helper script.
func writeHelper(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar-exchange")
	script := "#!/bin/sh\nread password\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecTransportFetch(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	helper := writeHelper(t,
		`echo "$@" > `+argsFile+`
echo '[{"type":"exchange","uid":"u1","title":"Standup","start":"2024-05-06T09:00:00Z","end":"2024-05-06T09:30:00Z"},`+
			`{"type":"exchange","uid":"u2","title":"Review","start":"2024-05-06T10:00:00Z","end":"2024-05-06T11:30:00Z"}]'`)

	src := calendar.NewExecSource(helper, "mail.example.com")
	records, err := src.FetchRawRecords(context.Background(), creds, "jdoe",
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchRawRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].RecordID != "u1" || records[0].Title != "Standup" {
		t.Errorf("record0 = %+v", records[0])
	}
	if records[0].DurationMinutes != 30 {
		t.Errorf("DurationMinutes = %d, want 30", records[0].DurationMinutes)
	}
	if records[1].DurationMinutes != 90 {
		t.Errorf("DurationMinutes = %d, want 90", records[1].DurationMinutes)
	}
	if records[0].Source != model.KindCalendar {
		t.Errorf("Source = %v", records[0].Source)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("reading args: %v", err)
	}
	for _, want := range []string{"--start 2024-05-06", "--stop 2024-05-06", "--login jdoe", "--mail jdoe@example.com", "--server mail.example.com"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("helper args %q missing %q", strings.TrimSpace(string(args)), want)
		}
	}
}

func TestExecTransportHelperError(t *testing.T) {
	helper := writeHelper(t, `echo '{"errors": "Unable to discover exchange server"}'
exit 1`)

	src := calendar.NewExecSource(helper, "mail.example.com")
	_, err := src.FetchRawRecords(context.Background(), creds, "jdoe", time.Now(), time.Now())
	var unavailable *source.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *source.UnavailableError", err)
	}
	if !strings.Contains(unavailable.Error(), "Unable to discover") {
		t.Errorf("error = %q, want helper message included", unavailable.Error())
	}
}

func TestExecTransportMissingHelper(t *testing.T) {
	src := calendar.NewExecSource(filepath.Join(t.TempDir(), "does-not-exist"), "mail.example.com")
	_, err := src.FetchRawRecords(context.Background(), creds, "jdoe", time.Now(), time.Now())
	var unavailable *source.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *source.UnavailableError", err)
	}
}

const icsPayload = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:ev-1
SUMMARY:Sprint review
DTSTART:20240506T090000Z
DTEND:20240506T100000Z
END:VEVENT
BEGIN:VEVENT
UID:ev-2
SUMMARY:Cancelled meeting
STATUS:CANCELLED
DTSTART:20240506T110000Z
DTEND:20240506T120000Z
END:VEVENT
BEGIN:VEVENT
UID:ev-3
SUMMARY:Public holiday
DTSTART;VALUE=DATE:20240506
DTEND;VALUE=DATE:20240507
END:VEVENT
END:VCALENDAR
`

func TestICSTransportFetch(t *testing.T) {
	var requestedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.String()
		if _, _, ok := r.BasicAuth(); !ok {
			http.Error(w, "auth required", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(strings.ReplaceAll(icsPayload, "\n", "\r\n")))
	}))
	defer srv.Close()

	src := calendar.NewICSSource(srv.URL + "/export/{user}.ics")
	records, err := src.FetchRawRecords(context.Background(), creds, "jdoe",
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchRawRecords: %v", err)
	}
	if !strings.Contains(requestedPath, "/export/jdoe.ics") {
		t.Errorf("requested path = %q, want user substituted", requestedPath)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (cancelled and all-day skipped)", len(records))
	}
	r := records[0]
	if r.RecordID != "ev-1" || r.Title != "Sprint review" {
		t.Errorf("record = %+v", r)
	}
	if r.DurationMinutes != 60 {
		t.Errorf("DurationMinutes = %d, want 60", r.DurationMinutes)
	}
}

func TestICSTransportServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	src := calendar.NewICSSource(srv.URL + "/export/{user}.ics")
	_, err := src.FetchRawRecords(context.Background(), creds, "jdoe", time.Now(), time.Now())
	var unavailable *source.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *source.UnavailableError", err)
	}
}
