package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceKind identifies which external system a record came from.
// The set is closed: adding a source means adding a constant here plus
// an inference policy in the pipeline package.
type SourceKind int

const (
	KindUnknown SourceKind = iota
	// KindTracker is the issue tracker (worklogs with marker-tagged comments).
	KindTracker
	// KindBIExport is the BI export tool fronting the ticketing systems.
	KindBIExport
	// KindCalendar is the mail/calendar server export.
	KindCalendar
)

var kindNames = map[SourceKind]string{
	KindTracker:  "tracker",
	KindBIExport: "biexport",
	KindCalendar: "calendar",
}

func (k SourceKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Mergeable reports whether fragment consolidation applies to this kind.
// Only sources whose records carry a reference id can be consolidated.
func (k SourceKind) Mergeable() bool {
	return k == KindTracker || k == KindBIExport
}

// ParseSourceKind maps a wire name back to a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown source kind %q", s)
}

func (k SourceKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *SourceKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSourceKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// RawRecord is a source-shaped time record as returned by an adapter.
// It exists only for the duration of one fetch; the pipeline turns it
// into an Entry and never looks back.
//
// Date carries only a calendar day for most kinds; for KindBIExport it
// carries the stored end instant (time-of-day included).
type RawRecord struct {
	Date            time.Time
	DurationMinutes int
	FreeText        string
	Title           string
	ReferenceID     string
	RecordID        string
	ExternalURL     string
	Source          SourceKind
}

// Entry is the canonical calendar event produced by the pipeline.
// Invariant: End is never before Start.
type Entry struct {
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	Title        string     `json:"title"`
	Comment      string     `json:"comment,omitempty"`
	SpentMinutes int        `json:"spent_minutes"`
	Source       SourceKind `json:"source"`
	ReferenceID  string     `json:"reference_id,omitempty"`
	RecordID     string     `json:"record_id,omitempty"`
	ExternalURL  string     `json:"external_url,omitempty"`
}

// Credentials are forwarded per request to the source adapters and are
// never persisted anywhere.
type Credentials struct {
	Login    string
	Password string
	// Mail is the primary address on the calendar server; defaults to Login
	// when empty.
	Mail string
}
