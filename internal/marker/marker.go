// Package marker encodes and decodes the precise timestamp pair embedded
// in worklog comments. The tracker only stores a date and a duration, so
// the exact start/end instants survive round trips inside the comment
// text as a "TK:[start - end]" marker.
package marker

import (
	"fmt"
	"strings"
	"time"
)

const (
	prefix = "TK:["
	suffix = "]"
	sep    = " - "

	// timeLayout is RFC1123Z; the numeric zone keeps the separator between
	// the two timestamps unambiguous.
	timeLayout = time.RFC1123Z
)

// Decoded is the result of a successful marker scan. Before and After hold
// the user-authored text surrounding the marker, whitespace-trimmed.
type Decoded struct {
	Before string
	After  string
	Start  time.Time
	End    time.Time
}

// Comment returns the user-authored part of the decoded comment: the text
// before the marker wins when both segments are present.
func (d Decoded) Comment() string {
	if d.Before != "" {
		return d.Before
	}
	return d.After
}

// Encode appends the timestamp marker to comment.
func Encode(comment string, start, end time.Time) string {
	tag := prefix + start.Format(timeLayout) + sep + end.Format(timeLayout) + suffix
	if comment == "" {
		return tag
	}
	return comment + "\n" + tag
}

// Decode scans s for a timestamp marker. It returns false when no marker is
// present or its timestamps cannot be parsed; callers fall back to another
// inference policy in that case.
func Decode(s string) (Decoded, bool) {
	open := strings.Index(s, prefix)
	if open < 0 {
		return Decoded{}, false
	}
	rest := s[open+len(prefix):]
	closing := strings.Index(rest, suffix)
	if closing < 0 {
		return Decoded{}, false
	}
	inner := rest[:closing]

	parts := strings.SplitN(inner, sep, 2)
	if len(parts) != 2 {
		return Decoded{}, false
	}
	start, err := parseStamp(parts[0])
	if err != nil {
		return Decoded{}, false
	}
	end, err := parseStamp(parts[1])
	if err != nil {
		return Decoded{}, false
	}

	return Decoded{
		Before: strings.TrimSpace(s[:open]),
		After:  strings.TrimSpace(rest[closing+len(suffix):]),
		Start:  start,
		End:    end,
	}, true
}

// parseStamp parses one marker timestamp. Some clients append a display
// timezone name in parentheses after the numeric offset; that annotation is
// stripped before parsing.
func parseStamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ")") {
		if open := strings.LastIndex(s, "("); open > 0 {
			s = strings.TrimSpace(s[:open])
		}
	}
	for _, layout := range []string{timeLayout, time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse marker timestamp %q", s)
}
