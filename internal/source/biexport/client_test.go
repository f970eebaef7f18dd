package biexport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ttg-tools/timegrid/internal/cache"
	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/source/biexport"
)

var creds = model.Credentials{Login: "jdoe", Password: "hunter2"}

// newServer serves a fake token endpoint, user resolution and bookings.
func newServer(t *testing.T, resolutions *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostFormValue("username") != "jdoe" || r.PostFormValue("password") != "hunter2" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "bearer"})
	})
	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(resolutions, 1)
		if r.URL.Query().Get("login") != "jdoe" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 4711})
	})
	mux.HandleFunc("/api/bookings", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "4711" {
			http.Error(w, "unknown user", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"ticket": "T-9", "title": "Incident follow-up", "logged_at": "2024-05-06T14:00:00Z", "minutes": 30, "note": "root cause"},
		})
	})
	return httptest.NewServer(mux)
}

func newClient(srvURL string, userIDs *cache.Cache) *biexport.Client {
	return biexport.NewClient(biexport.Options{
		BaseURL:  srvURL,
		TokenURL: srvURL + "/oauth/token",
		ClientID: "timegrid",
		System:   "helpdesk",
		Location: time.UTC,
	}, userIDs)
}

func TestFetchRawRecords(t *testing.T) {
	var resolutions int32
	srv := newServer(t, &resolutions)
	defer srv.Close()

	userIDs := cache.New(cache.Config{})
	defer userIDs.Close()
	c := newClient(srv.URL, userIDs)

	records, err := c.FetchRawRecords(context.Background(), creds, "jdoe",
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchRawRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Source != model.KindBIExport {
		t.Errorf("Source = %v", r.Source)
	}
	if !r.Date.Equal(time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %v, want the stored end instant", r.Date)
	}
	if r.DurationMinutes != 30 || r.ReferenceID != "T-9" {
		t.Errorf("record = %+v", r)
	}
}

func TestUserIDResolutionCachedIndefinitely(t *testing.T) {
	var resolutions int32
	srv := newServer(t, &resolutions)
	defer srv.Close()

	userIDs := cache.New(cache.Config{DefaultTTL: time.Millisecond})
	defer userIDs.Close()
	c := newClient(srv.URL, userIDs)

	ctx := context.Background()
	from := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := c.FetchRawRecords(ctx, creds, "jdoe", from, from); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&resolutions); n != 1 {
		t.Errorf("user id resolved %d times, want 1", n)
	}

	c.InvalidateUserID(ctx, "jdoe")
	if _, err := c.FetchRawRecords(ctx, creds, "jdoe", from, from); err != nil {
		t.Fatalf("fetch after invalidate: %v", err)
	}
	if n := atomic.LoadInt32(&resolutions); n != 2 {
		t.Errorf("resolutions after invalidate = %d, want 2", n)
	}
}

func TestFetchRawRecordsAuthFailure(t *testing.T) {
	var resolutions int32
	srv := newServer(t, &resolutions)
	defer srv.Close()

	userIDs := cache.New(cache.Config{})
	defer userIDs.Close()
	c := newClient(srv.URL, userIDs)

	bad := model.Credentials{Login: "jdoe", Password: "wrong"}
	_, err := c.FetchRawRecords(context.Background(), bad, "jdoe", time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestVariant(t *testing.T) {
	userIDs := cache.New(cache.Config{})
	defer userIDs.Close()
	c := newClient("http://unused", userIDs)
	if c.Variant() != "helpdesk" {
		t.Errorf("Variant = %q, want helpdesk", c.Variant())
	}
}
