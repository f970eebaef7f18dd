// Package aggregator orchestrates the per-source fetch→pipeline→cache flow
// and fans out over all registered sources for the unified calendar view.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ttg-tools/timegrid/internal/cache"
	"github.com/ttg-tools/timegrid/internal/log"
	"github.com/ttg-tools/timegrid/internal/marker"
	"github.com/ttg-tools/timegrid/internal/model"
	"github.com/ttg-tools/timegrid/internal/pipeline"
	"github.com/ttg-tools/timegrid/internal/source"
	"github.com/ttg-tools/timegrid/internal/source/tracker"
	"github.com/ttg-tools/timegrid/internal/timecalc"
)

// Aggregator owns the registered sources and the shared result cache. It is
// safe for concurrent use; each aggregation run keeps its own pipeline state.
type Aggregator struct {
	sources map[model.SourceKind]source.Source
	tracker *tracker.Client
	cache   *cache.Cache
	opts    pipeline.Options
	loc     *time.Location
	ttl     time.Duration
}

// New creates an Aggregator. ttl bounds how long aggregated days are served
// from cache.
func New(c *cache.Cache, opts pipeline.Options, ttl time.Duration) *Aggregator {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{
		sources: make(map[model.SourceKind]source.Source),
		cache:   c,
		opts:    opts,
		loc:     loc,
		ttl:     ttl,
	}
}

// Register adds a source; one source per kind, last registration wins.
func (a *Aggregator) Register(src source.Source) {
	a.sources[src.Kind()] = src
}

// RegisterTracker registers the tracker both as a read source and as the
// write target for Submit/Update.
func (a *Aggregator) RegisterTracker(t *tracker.Client) {
	a.tracker = t
	a.Register(t)
}

// Kinds returns the registered source kinds.
func (a *Aggregator) Kinds() []model.SourceKind {
	kinds := make([]model.SourceKind, 0, len(a.sources))
	for k := range a.sources {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// cacheKey builds the per-day cache key: {user}_{kind}_{YYYYMMDD}[_variant].
func cacheKey(user string, kind model.SourceKind, day time.Time, variant string) string {
	key := fmt.Sprintf("%s_%s_%s", user, kind, timecalc.DayKey(day))
	if variant != "" {
		key += "_" + variant
	}
	return key
}

// Aggregate returns the processed entries of one source for [from, to].
// With force false, fully cached ranges are served without touching the
// source; any miss triggers one fetch of the whole range followed by
// best-effort per-day cache writes.
func (a *Aggregator) Aggregate(ctx context.Context, creds model.Credentials, user string, kind model.SourceKind, from, to time.Time, force bool) (*pipeline.Result, error) {
	src, ok := a.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownSource, kind)
	}
	variant := ""
	if v, ok := src.(source.Varianter); ok {
		variant = v.Variant()
	}
	days := timecalc.DaysBetween(from.In(a.loc), to.In(a.loc))

	if !force {
		if entries, ok := a.readCached(ctx, user, kind, variant, days); ok {
			log.Debug("cache hit", "user", user, "source", kind.String(), "days", len(days))
			return &pipeline.Result{Entries: entries}, nil
		}
	}

	records, err := src.FetchRawRecords(ctx, creds, user, from, to)
	if err != nil {
		return nil, err
	}
	result, err := pipeline.Run(records, a.opts)
	if err != nil {
		return nil, err
	}

	a.writeCache(ctx, user, kind, variant, days, result.Entries)
	return result, nil
}

// readCached returns the concatenated cached entries iff every day hits.
// A value of the wrong type counts as a miss.
func (a *Aggregator) readCached(ctx context.Context, user string, kind model.SourceKind, variant string, days []time.Time) ([]model.Entry, bool) {
	var entries []model.Entry
	for _, day := range days {
		v, ok := a.cache.Get(ctx, cacheKey(user, kind, day, variant))
		if !ok {
			return nil, false
		}
		dayEntries, ok := v.([]model.Entry)
		if !ok {
			return nil, false
		}
		entries = append(entries, dayEntries...)
	}
	return entries, true
}

// writeCache stores one value per day of the range, empty days included so
// subsequent reads hit. An inferred start can cross midnight out of the
// requested range (anchor-backward runs backward from the recorded end);
// such entries are clamped onto the nearest requested day so a later cached
// read still returns them.
func (a *Aggregator) writeCache(ctx context.Context, user string, kind model.SourceKind, variant string, days []time.Time, entries []model.Entry) {
	if len(days) == 0 {
		return
	}
	firstKey := timecalc.DayKey(days[0])
	lastKey := timecalc.DayKey(days[len(days)-1])

	byDay := make(map[string][]model.Entry)
	for _, e := range entries {
		key := timecalc.DayKey(e.Start.In(a.loc))
		if key < firstKey {
			key = firstKey
		} else if key > lastKey {
			key = lastKey
		}
		byDay[key] = append(byDay[key], e)
	}
	for _, day := range days {
		dayEntries := byDay[timecalc.DayKey(day)]
		if dayEntries == nil {
			dayEntries = []model.Entry{}
		}
		a.cache.SetWithTTL(ctx, cacheKey(user, kind, day, variant), dayEntries, a.ttl)
	}
}

// invalidateDay drops the cached day so the next aggregation refetches it.
func (a *Aggregator) invalidateDay(ctx context.Context, user string, kind model.SourceKind, day time.Time) {
	variant := ""
	if src, ok := a.sources[kind]; ok {
		if v, ok := src.(source.Varianter); ok {
			variant = v.Variant()
		}
	}
	a.cache.Delete(ctx, cacheKey(user, kind, day.In(a.loc), variant))
}

// MultiResult is the outcome of aggregating every registered source.
// A failed source contributes an error indicator instead of entries; the
// calendar view renders the rest.
type MultiResult struct {
	Entries []model.Entry
	Skipped []pipeline.SkipDiagnostic
	Errors  map[model.SourceKind]error
}

// AggregateAll fetches and processes all registered sources concurrently.
// Sources never share pipeline state, so the only synchronization is around
// the collected output.
func (a *Aggregator) AggregateAll(ctx context.Context, creds model.Credentials, user string, from, to time.Time, force bool) *MultiResult {
	out := &MultiResult{Errors: make(map[model.SourceKind]error)}
	var mu sync.Mutex
	var g errgroup.Group

	for kind := range a.sources {
		g.Go(func() error {
			result, err := a.Aggregate(ctx, creds, user, kind, from, to, force)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("source aggregation failed", err, "user", user, "source", kind.String())
				out.Errors[kind] = err
				return nil
			}
			out.Entries = append(out.Entries, result.Entries...)
			out.Skipped = append(out.Skipped, result.Skipped...)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(out.Entries, func(i, j int) bool {
		return out.Entries[i].Start.Before(out.Entries[j].Start)
	})
	return out
}

// Submit creates a tracker worklog for the issue with precise instants
// encoded into the comment marker, and returns the entry as the calendar
// will render it.
func (a *Aggregator) Submit(ctx context.Context, creds model.Credentials, user, issue string, start, end time.Time, comment string) (*model.Entry, error) {
	if a.tracker == nil {
		return nil, errors.New("tracker source not configured")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	minutes := int(end.Sub(start) / time.Minute)
	tagged := marker.Encode(comment, start, end)

	rec, err := a.tracker.CreateWorklog(ctx, creds, issue, start.In(a.loc), minutes, tagged)
	if err != nil {
		return nil, err
	}
	return a.recordToEntry(ctx, user, rec, start)
}

// Update rewrites an existing tracker worklog, re-encoding the marker.
func (a *Aggregator) Update(ctx context.Context, creds model.Credentials, user, recordID, issue string, start, end time.Time, comment string) (*model.Entry, error) {
	if a.tracker == nil {
		return nil, errors.New("tracker source not configured")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	minutes := int(end.Sub(start) / time.Minute)
	tagged := marker.Encode(comment, start, end)

	rec, err := a.tracker.UpdateWorklog(ctx, creds, recordID, issue, start.In(a.loc), minutes, tagged)
	if err != nil {
		return nil, err
	}
	return a.recordToEntry(ctx, user, rec, start)
}

// recordToEntry runs the single written record through the pipeline so the
// response matches what the next aggregation will show, and drops the now
// stale cached day.
func (a *Aggregator) recordToEntry(ctx context.Context, user string, rec model.RawRecord, day time.Time) (*model.Entry, error) {
	result, err := pipeline.Run([]model.RawRecord{rec}, a.opts)
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, errors.New("written record did not survive normalization")
	}
	a.invalidateDay(ctx, user, model.KindTracker, day)
	return &result.Entries[0], nil
}
