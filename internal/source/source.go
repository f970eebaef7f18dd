// Package source defines the contract between the aggregator and the
// per-system adapters that fetch raw time records.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/ttg-tools/timegrid/internal/model"
)

// Source fetches raw records for one external system. Implementations are
// thin I/O adapters; all shaping happens in the pipeline.
type Source interface {
	Kind() model.SourceKind
	// FetchRawRecords returns the user's records with dates in [from, to],
	// in the source's natural order. Credentials are used for this call
	// only and never retained.
	FetchRawRecords(ctx context.Context, creds model.Credentials, user string, from, to time.Time) ([]model.RawRecord, error)
}

// Varianter is implemented by sources whose cached results depend on an
// extra selector (e.g. which backing system a BI export queries).
type Varianter interface {
	Variant() string
}

// UnavailableError marks a source-level failure (network, auth, bad
// response). The aggregator reports it per source; sibling sources are
// unaffected.
type UnavailableError struct {
	Kind model.SourceKind
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Kind, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
