// Package tracker is the issue-tracker adapter: it fetches the user's
// worklogs and is the only source that accepts new or updated records.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/source"
)

const dateLayout = "2006-01-02"

// Client talks to the tracker's worklog REST API.
type Client struct {
	baseURL    string
	loc        *time.Location
	httpClient *http.Client
}

// NewClient creates a tracker client. Worklog dates are interpreted in loc.
func NewClient(baseURL string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL:    baseURL,
		loc:        loc,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Kind() model.SourceKind {
	return model.KindTracker
}

// worklog is the tracker's wire representation of one record.
type worklog struct {
	ID      string `json:"id"`
	Issue   string `json:"issue"`
	Summary string `json:"summary"`
	Date    string `json:"date"`
	Minutes int    `json:"minutes"`
	Comment string `json:"comment"`
}

// worklogPage is the paged list response.
type worklogPage struct {
	Worklogs []worklog `json:"worklogs"`
	NextLink string    `json:"next"`
}

// FetchRawRecords returns the user's worklogs with dates in [from, to].
func (c *Client) FetchRawRecords(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]model.RawRecord, error) {
	endpoint := fmt.Sprintf("%s/api/worklogs?user=%s&from=%s&to=%s",
		c.baseURL,
		url.QueryEscape(user),
		from.Format(dateLayout),
		to.Format(dateLayout),
	)

	var records []model.RawRecord
	for endpoint != "" {
		var page worklogPage
		if err := c.do(ctx, creds, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, &source.UnavailableError{Kind: c.Kind(), Err: err}
		}
		for _, w := range page.Worklogs {
			rec, err := c.toRawRecord(w)
			if err != nil {
				// Leave the malformed record in the batch; the pipeline
				// reports it as a skip diagnostic.
				records = append(records, model.RawRecord{
					ReferenceID: w.Issue,
					RecordID:    w.ID,
					Source:      c.Kind(),
				})
				continue
			}
			records = append(records, rec)
		}
		endpoint = page.NextLink
	}
	return records, nil
}

// CreateWorklog submits a new worklog and returns it as a raw record.
func (c *Client) CreateWorklog(ctx context.Context, creds model.Credentials, issue string, date time.Time, minutes int, comment string) (model.RawRecord, error) {
	body := worklog{
		Issue:   issue,
		Date:    date.In(c.loc).Format(dateLayout),
		Minutes: minutes,
		Comment: comment,
	}
	var created worklog
	endpoint := c.baseURL + "/api/worklogs"
	if err := c.do(ctx, creds, http.MethodPost, endpoint, &body, &created); err != nil {
		return model.RawRecord{}, &source.UnavailableError{Kind: c.Kind(), Err: err}
	}
	return c.toRawRecord(created)
}

// UpdateWorklog replaces an existing worklog and returns the updated record.
func (c *Client) UpdateWorklog(ctx context.Context, creds model.Credentials, id, issue string, date time.Time, minutes int, comment string) (model.RawRecord, error) {
	body := worklog{
		Issue:   issue,
		Date:    date.In(c.loc).Format(dateLayout),
		Minutes: minutes,
		Comment: comment,
	}
	var updated worklog
	endpoint := c.baseURL + "/api/worklogs/" + url.PathEscape(id)
	if err := c.do(ctx, creds, http.MethodPut, endpoint, &body, &updated); err != nil {
		return model.RawRecord{}, &source.UnavailableError{Kind: c.Kind(), Err: err}
	}
	return c.toRawRecord(updated)
}

func (c *Client) toRawRecord(w worklog) (model.RawRecord, error) {
	var date time.Time
	if w.Date != "" {
		d, err := time.ParseInLocation(dateLayout, w.Date, c.loc)
		if err != nil {
			return model.RawRecord{}, fmt.Errorf("worklog %s: bad date %q: %w", w.ID, w.Date, err)
		}
		date = d
	}
	title := w.Summary
	if title == "" {
		title = w.Issue
	}
	return model.RawRecord{
		Date:            date,
		DurationMinutes: w.Minutes,
		FreeText:        w.Comment,
		Title:           title,
		ReferenceID:     w.Issue,
		RecordID:        w.ID,
		ExternalURL:     c.baseURL + "/browse/" + w.Issue,
		Source:          c.Kind(),
	}, nil
}

// do performs one authenticated JSON round trip.
func (c *Client) do(ctx context.Context, creds model.Credentials, method, endpoint string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(creds.Login, creds.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker API request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("tracker API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding tracker response: %w", err)
	}
	return nil
}
