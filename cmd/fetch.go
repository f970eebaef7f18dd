package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/timecalc"
)

var (
	fetchLogin   string
	fetchMail    string
	fetchUser    string
	fetchFrom    string
	fetchTo      string
	fetchDate    string
	fetchSource  string
	fetchRefresh bool
	fetchJSON    bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and print the aggregated calendar for a date range",
	Args:  cobra.NoArgs,
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchLogin, "login", "", "Login used against all sources (or TIMEGRID_LOGIN)")
	fetchCmd.Flags().StringVar(&fetchMail, "mail", "", "Mail address for the calendar source")
	fetchCmd.Flags().StringVar(&fetchUser, "user", "", "User whose records to fetch (defaults to login)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "Start date (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "End date (YYYY-MM-DD); defaults to --from")
	fetchCmd.Flags().StringVar(&fetchDate, "date", "", "Fetch a single date (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchSource, "source", "", "Restrict to one source: tracker, biexport or calendar")
	fetchCmd.Flags().BoolVar(&fetchRefresh, "refresh", false, "Bypass the aggregation cache")
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "Print raw JSON instead of a table")
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	from, to, err := fetchRange(a)
	if err != nil {
		return err
	}

	creds, err := readCredentials(fetchLogin, fetchMail)
	if err != nil {
		return err
	}
	user := fetchUser
	if user == "" {
		user = creds.Login
	}

	ctx := context.Background()

	var entries []model.Entry
	if fetchSource != "" {
		kind, err := model.ParseSourceKind(fetchSource)
		if err != nil {
			return err
		}
		result, err := a.agg.Aggregate(ctx, creds, user, kind, from, to, fetchRefresh)
		if err != nil {
			return err
		}
		entries = result.Entries
	} else {
		out := a.agg.AggregateAll(ctx, creds, user, from, to, fetchRefresh)
		for kind, srcErr := range out.Errors {
			fmt.Fprintf(os.Stderr, "Warning: %s unavailable: %v\n", kind, srcErr)
		}
		entries = out.Entries
	}

	if fetchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	printEntries(entries)
	return nil
}

// fetchRange resolves --date / --from / --to into a [from, to] day range.
func fetchRange(a *app) (time.Time, time.Time, error) {
	switch {
	case fetchDate != "":
		d, err := a.parseDay("--date", fetchDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return d, d, nil

	case fetchFrom != "":
		from, err := a.parseDay("--from", fetchFrom)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to := from
		if fetchTo != "" {
			to, err = a.parseDay("--to", fetchTo)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, fmt.Errorf("--to precedes --from")
		}
		return from, to, nil

	default:
		// Default: today.
		now := time.Now().In(a.loc)
		day := timecalc.StartOfDay(now)
		return day, day, nil
	}
}

func printEntries(entries []model.Entry) {
	if len(entries) == 0 {
		fmt.Println("No entries.")
		return
	}

	var day string
	var dayTotal, total int
	flush := func() {
		if day != "" {
			fmt.Printf("  %42s %s\n", "total:", timecalc.FormatMinutes(dayTotal))
		}
	}
	for _, e := range entries {
		d := e.Start.Format("2006-01-02")
		if d != day {
			flush()
			day = d
			dayTotal = 0
			fmt.Printf("%s\n", d)
		}
		ref := e.ReferenceID
		if ref == "" {
			ref = "-"
		}
		fmt.Printf("  %s–%s  %-8s %-12s %s (%s)\n",
			e.Start.Format("15:04"), e.End.Format("15:04"),
			e.Source, ref, e.Title, timecalc.FormatMinutes(e.SpentMinutes))
		dayTotal += e.SpentMinutes
		total += e.SpentMinutes
	}
	flush()
	fmt.Printf("\nTotal: %s\n", timecalc.FormatMinutes(total))
}
