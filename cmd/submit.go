package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ttg-tools/timegrid/internal/timecalc"
)

var (
	submitLogin   string
	submitUser    string
	submitIssue   string
	submitStart   string
	submitEnd     string
	submitComment string
	submitUpdate  string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a worklog to the issue tracker",
	Long: `submit books a time entry on a tracker issue. The start and end
instants are embedded in the worklog comment as a time marker so they
survive the round trip through the tracker, which only stores minutes.`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitLogin, "login", "", "Tracker login (or TIMEGRID_LOGIN)")
	submitCmd.Flags().StringVar(&submitUser, "user", "", "User to book for (defaults to login)")
	submitCmd.Flags().StringVar(&submitIssue, "issue", "", "Issue key, e.g. PROJ-123")
	submitCmd.Flags().StringVar(&submitStart, "start", "", "Start instant (RFC 3339 or \"YYYY-MM-DD HH:MM\")")
	submitCmd.Flags().StringVar(&submitEnd, "end", "", "End instant (RFC 3339 or \"YYYY-MM-DD HH:MM\")")
	submitCmd.Flags().StringVar(&submitComment, "comment", "", "Worklog comment")
	submitCmd.Flags().StringVar(&submitUpdate, "update", "", "Update the worklog with this id instead of creating one")
	_ = submitCmd.MarkFlagRequired("issue")
	_ = submitCmd.MarkFlagRequired("start")
	_ = submitCmd.MarkFlagRequired("end")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	start, err := parseInstant(submitStart, a.loc)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseInstant(submitEnd, a.loc)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	creds, err := readCredentials(submitLogin, "")
	if err != nil {
		return err
	}
	user := submitUser
	if user == "" {
		user = creds.Login
	}

	ctx := context.Background()

	verb := "Booked"
	if submitUpdate != "" {
		_, err = a.agg.Update(ctx, creds, user, submitUpdate, submitIssue, start, end, submitComment)
		verb = "Updated"
	} else {
		_, err = a.agg.Submit(ctx, creds, user, submitIssue, start, end, submitComment)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s %s on %s (%s–%s)\n", verb,
		timecalc.FormatMinutes(int(end.Sub(start).Minutes())), submitIssue,
		start.Format("2006-01-02 15:04"), end.Format("15:04"))
	return nil
}

// parseInstant accepts RFC 3339 or a local "YYYY-MM-DD HH:MM".
func parseInstant(value string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or \"YYYY-MM-DD HH:MM\", got %q", value)
	}
	return t, nil
}
