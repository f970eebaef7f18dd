// Package biexport is the adapter for the BI export tool that fronts the
// ticketing systems. Its records store the end instant of each booking, so
// the pipeline runs them through the anchor-backward policy.
package biexport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/ttg-tools/timegrid/internal/cache"
	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/source"
)

// Client talks to the BI export tool's query API. The tool authenticates
// via OAuth2; the user's credentials are exchanged for a token on every
// call (password grant) and never stored.
type Client struct {
	baseURL string
	system  string
	oauth   *oauth2.Config
	userIDs *cache.Cache
	loc     *time.Location
}

// Options configures a biexport Client.
type Options struct {
	BaseURL  string
	TokenURL string
	ClientID string
	// System selects which backing ticketing system the queries target;
	// it also varies the aggregation cache key.
	System string
	// Location interprets returned instants without an explicit zone.
	Location *time.Location
}

// NewClient creates the adapter. Resolved numeric user ids are cached in
// userIDs with no expiry until explicitly invalidated.
func NewClient(opts Options, userIDs *cache.Cache) *Client {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL: opts.BaseURL,
		system:  opts.System,
		oauth: &oauth2.Config{
			ClientID: opts.ClientID,
			Endpoint: oauth2.Endpoint{TokenURL: opts.TokenURL},
		},
		userIDs: userIDs,
		loc:     loc,
	}
}

func (c *Client) Kind() model.SourceKind {
	return model.KindBIExport
}

// Variant distinguishes cache entries per backing system.
func (c *Client) Variant() string {
	return c.system
}

// booking is the export tool's wire representation of one time booking.
type booking struct {
	Ticket   string `json:"ticket"`
	Title    string `json:"title"`
	LoggedAt string `json:"logged_at"`
	Minutes  int    `json:"minutes"`
	Note     string `json:"note"`
	URL      string `json:"url"`
}

// FetchRawRecords resolves the user's numeric id, then queries their
// bookings in [from, to].
func (c *Client) FetchRawRecords(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]model.RawRecord, error) {
	httpClient, err := c.authClient(ctx, creds)
	if err != nil {
		return nil, &source.UnavailableError{Kind: c.Kind(), Err: err}
	}

	userID, err := c.resolveUserID(ctx, httpClient, user)
	if err != nil {
		return nil, &source.UnavailableError{Kind: c.Kind(), Err: err}
	}

	endpoint := fmt.Sprintf("%s/api/bookings?user_id=%d&from=%s&to=%s&system=%s",
		c.baseURL,
		userID,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
		url.QueryEscape(c.system),
	)
	var bookings []booking
	if err := getJSON(ctx, httpClient, endpoint, &bookings); err != nil {
		return nil, &source.UnavailableError{Kind: c.Kind(), Err: err}
	}

	records := make([]model.RawRecord, 0, len(bookings))
	for _, b := range bookings {
		records = append(records, c.toRawRecord(b))
	}
	return records, nil
}

// InvalidateUserID drops the cached numeric id for a login.
func (c *Client) InvalidateUserID(ctx context.Context, user string) {
	c.userIDs.Delete(ctx, userIDKey(user))
}

func userIDKey(user string) string {
	return user + "_" + model.KindBIExport.String() + "_uid"
}

// resolveUserID maps a login to the export tool's numeric user id. The
// mapping never changes, so it is cached without expiry.
func (c *Client) resolveUserID(ctx context.Context, httpClient *http.Client, user string) (int64, error) {
	key := userIDKey(user)
	if v, ok := c.userIDs.Get(ctx, key); ok {
		if id, ok := v.(int64); ok {
			return id, nil
		}
	}

	endpoint := c.baseURL + "/api/users?login=" + url.QueryEscape(user)
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := getJSON(ctx, httpClient, endpoint, &resp); err != nil {
		return 0, fmt.Errorf("resolving user id for %s: %w", user, err)
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("no user id for login %s", user)
	}
	c.userIDs.SetWithTTL(ctx, key, resp.ID, 0)
	return resp.ID, nil
}

func (c *Client) toRawRecord(b booking) model.RawRecord {
	// A bad instant leaves Date zero; the pipeline skips the record with a
	// diagnostic instead of failing the batch.
	var loggedAt time.Time
	if t, err := time.Parse(time.RFC3339, b.LoggedAt); err == nil {
		loggedAt = t.In(c.loc)
	} else if t, err := time.ParseInLocation("2006-01-02T15:04:05", b.LoggedAt, c.loc); err == nil {
		loggedAt = t
	}
	return model.RawRecord{
		Date:            loggedAt,
		DurationMinutes: b.Minutes,
		FreeText:        b.Note,
		Title:           b.Title,
		ReferenceID:     b.Ticket,
		RecordID:        b.Ticket + "@" + strconv.FormatInt(loggedAt.Unix(), 10),
		ExternalURL:     b.URL,
		Source:          c.Kind(),
	}
}

// authClient exchanges the per-request credentials for a bearer token.
func (c *Client) authClient(ctx context.Context, creds model.Credentials) (*http.Client, error) {
	token, err := c.oauth.PasswordCredentialsToken(ctx, creds.Login, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return c.oauth.Client(ctx, token), nil
}

func getJSON(ctx context.Context, httpClient *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("export API request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("export API error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding export response: %w", err)
	}
	return nil
}
