package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/source"
)

// ExecTransport runs the calendar export helper program. The helper logs
// into the mail server with the forwarded credentials (password on stdin)
// and prints a JSON array of events on stdout.
type ExecTransport struct {
	// Command is the helper executable.
	Command string
	// Server is the mail server hostname passed through to the helper.
	Server string
}

// NewExecSource returns a calendar Source backed by the export helper.
func NewExecSource(command, server string) *Source {
	return &Source{transport: &ExecTransport{Command: command, Server: server}}
}

// exportedEvent mirrors the helper's JSON output.
type exportedEvent struct {
	Type  string `json:"type"`
	UID   string `json:"uid"`
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// exportError is the helper's failure payload (printed instead of the
// event array, with a non-zero exit).
type exportError struct {
	Errors string `json:"errors"`
}

func (t *ExecTransport) fetch(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]event, error) {
	mail := creds.Mail
	if mail == "" {
		mail = creds.Login
	}

	cmd := exec.CommandContext(ctx, t.Command,
		"--start", from.Format("2006-01-02"),
		"--stop", to.Format("2006-01-02"),
		"--login", creds.Login,
		"--mail", mail,
		"--server", t.Server,
	)
	cmd.Stdin = strings.NewReader(creds.Password + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out := bytes.TrimSpace(stdout.Bytes())

	// The helper reports failures as a JSON object before exiting non-zero.
	var helperErr exportError
	if len(out) > 0 && json.Unmarshal(out, &helperErr) == nil && helperErr.Errors != "" {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("export helper: %s", helperErr.Errors)}
	}
	if runErr != nil {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("export helper failed: %w (stderr: %s)", runErr, strings.TrimSpace(stderr.String()))}
	}

	var exported []exportedEvent
	if err := json.Unmarshal(out, &exported); err != nil {
		return nil, &source.UnavailableError{Kind: model.KindCalendar, Err: fmt.Errorf("decoding export output: %w", err)}
	}

	events := make([]event, 0, len(exported))
	for _, ev := range exported {
		start, err1 := time.Parse(time.RFC3339, ev.Start)
		end, err2 := time.Parse(time.RFC3339, ev.End)
		if err1 != nil || err2 != nil {
			// Skipped here rather than in the pipeline: without instants
			// there is no date to anchor a diagnostic record to.
			continue
		}
		events = append(events, event{UID: ev.UID, Title: ev.Title, Start: start, End: end})
	}
	return events, nil
}
