package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ttg-tools/timegrid/internal/aggregator"
	"github.com/ttg-tools/timegrid/internal/cache"
	"github.com/ttg-tools/timegrid/internal/config"
	"github.com/ttg-tools/timegrid/internal/log"
	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/pipeline"
	"github.com/ttg-tools/timegrid/internal/source/biexport"
	"github.com/ttg-tools/timegrid/internal/source/calendar"
	"github.com/ttg-tools/timegrid/internal/source/tracker"
)

// app bundles everything a command needs after configuration is loaded.
type app struct {
	cfg config.Config
	agg *aggregator.Aggregator
	c   *cache.Cache
	loc *time.Location
}

// newApp loads configuration and wires the cache, adapters and aggregator.
// Sources without a configured endpoint are simply not registered.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log.SetLevel(cfg.LogLevel)

	loc := time.UTC
	if cfg.Pipeline.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Pipeline.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Pipeline.Timezone, err)
		}
	}

	c := cache.New(cache.Config{
		DefaultTTL:      time.Duration(cfg.Pipeline.CacheTTLSeconds) * time.Second,
		CleanupInterval: time.Minute,
	})

	opts := pipeline.Options{
		Location:           loc,
		DayStartHour:       cfg.Pipeline.DayStartHour,
		MinBillableMinutes: cfg.Pipeline.MinBillableMinutes,
	}
	agg := aggregator.New(c, opts, time.Duration(cfg.Pipeline.CacheTTLSeconds)*time.Second)

	if cfg.Tracker.BaseURL != "" {
		agg.RegisterTracker(tracker.NewClient(cfg.Tracker.BaseURL, loc))
	}
	if cfg.BIExport.BaseURL != "" {
		agg.Register(biexport.NewClient(biexport.Options{
			BaseURL:  cfg.BIExport.BaseURL,
			TokenURL: cfg.BIExport.TokenURL,
			ClientID: cfg.BIExport.ClientID,
			System:   cfg.BIExport.System,
			Location: loc,
		}, c))
	}
	switch cfg.Calendar.Transport {
	case "ics":
		if cfg.Calendar.ICSURL != "" {
			agg.Register(calendar.NewICSSource(cfg.Calendar.ICSURL))
		}
	default:
		if cfg.Calendar.Server != "" {
			agg.Register(calendar.NewExecSource(cfg.Calendar.Command, cfg.Calendar.Server))
		}
	}

	if len(agg.Kinds()) == 0 {
		c.Close()
		return nil, fmt.Errorf("no sources configured; edit the config file and set at least one endpoint")
	}

	return &app{cfg: cfg, agg: agg, c: c, loc: loc}, nil
}

func (a *app) close() {
	a.c.Close()
}

// readCredentials builds per-call credentials for the one-shot commands.
// The password comes from TIMEGRID_PASSWORD or, failing that, is read from
// stdin so it never shows up in shell history or process lists.
func readCredentials(login, mail string) (model.Credentials, error) {
	if login == "" {
		login = os.Getenv("TIMEGRID_LOGIN")
	}
	if login == "" {
		return model.Credentials{}, fmt.Errorf("login is required (--login or TIMEGRID_LOGIN)")
	}

	password := os.Getenv("TIMEGRID_PASSWORD")
	if password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", login)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return model.Credentials{}, fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return model.Credentials{}, fmt.Errorf("password is required (TIMEGRID_PASSWORD or stdin)")
	}

	return model.Credentials{Login: login, Password: password, Mail: mail}, nil
}

// parseDay parses a YYYY-MM-DD flag value in the configured timezone.
func (a *app) parseDay(flag, value string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", value, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value %q: expected YYYY-MM-DD", flag, value)
	}
	return t, nil
}
