package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/pipeline"
)

const dateLayout = "2006-01-02"

// eventsResponse is the unified calendar payload. A degraded source shows
// up in Errors while the remaining sources still render.
type eventsResponse struct {
	Events  []model.Entry             `json:"events"`
	Errors  map[string]string         `json:"errors,omitempty"`
	Skipped []pipeline.SkipDiagnostic `json:"skipped,omitempty"`
}

// credentials pulls the per-request credentials from Basic auth.
func credentials(c echo.Context) (model.Credentials, bool) {
	login, password, ok := c.Request().BasicAuth()
	if !ok {
		return model.Credentials{}, false
	}
	return model.Credentials{
		Login:    login,
		Password: password,
		Mail:     c.Request().Header.Get("X-User-Mail"),
	}, true
}

func (s *Server) getEvents(c echo.Context) error {
	creds, ok := credentials(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "credentials required"})
	}

	user := c.QueryParam("user")
	if user == "" {
		user = creds.Login
	}
	from, err := time.Parse(dateLayout, c.QueryParam("from"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid or missing from date"})
	}
	to, err := time.Parse(dateLayout, c.QueryParam("to"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid or missing to date"})
	}
	if to.Before(from) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "to precedes from"})
	}
	refresh := c.QueryParam("refresh") == "1" || c.QueryParam("refresh") == "true"

	ctx := c.Request().Context()

	// A single source can be requested; the default is the fan-out over all
	// registered sources with per-source error indicators.
	if kindParam := c.QueryParam("source"); kindParam != "" {
		kind, err := model.ParseSourceKind(kindParam)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		result, err := s.agg.Aggregate(ctx, creds, user, kind, from, to, refresh)
		if err != nil {
			return c.JSON(http.StatusOK, eventsResponse{
				Events: []model.Entry{},
				Errors: map[string]string{kind.String(): err.Error()},
			})
		}
		return c.JSON(http.StatusOK, eventsResponse{Events: result.Entries, Skipped: result.Skipped})
	}

	out := s.agg.AggregateAll(ctx, creds, user, from, to, refresh)
	resp := eventsResponse{Events: out.Entries, Skipped: out.Skipped}
	if len(out.Errors) > 0 {
		resp.Errors = make(map[string]string, len(out.Errors))
		for kind, srcErr := range out.Errors {
			resp.Errors[kind.String()] = srcErr.Error()
		}
	}
	if resp.Events == nil {
		resp.Events = []model.Entry{}
	}
	return c.JSON(http.StatusOK, resp)
}

// worklogRequest is the payload for creating or updating a worklog.
type worklogRequest struct {
	Issue   string    `json:"issue"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Comment string    `json:"comment"`
	User    string    `json:"user,omitempty"`
}

func (r worklogRequest) validate() string {
	if r.Issue == "" {
		return "issue is required"
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return "start and end are required"
	}
	if r.End.Before(r.Start) {
		return "end precedes start"
	}
	return ""
}

func (s *Server) createWorklog(c echo.Context) error {
	creds, ok := credentials(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "credentials required"})
	}
	var req worklogRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}
	user := req.User
	if user == "" {
		user = creds.Login
	}

	entry, err := s.agg.Submit(c.Request().Context(), creds, user, req.Issue, req.Start, req.End, req.Comment)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) updateWorklog(c echo.Context) error {
	creds, ok := credentials(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "credentials required"})
	}
	var req worklogRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
	}
	user := req.User
	if user == "" {
		user = creds.Login
	}

	entry, err := s.agg.Update(c.Request().Context(), creds, user, c.Param("id"), req.Issue, req.Start, req.End, req.Comment)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, entry)
}
