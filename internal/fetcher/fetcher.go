package fetcher

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Record is one raw layer record before normalization.
type Record struct {
	// Attributes maps field name to scalar value. Nil when the source sent none.
	Attributes map[string]any `json:"attributes,omitempty"`
	// Geometry is the source geometry JSON (Esri or GeoJSON). Nil when absent.
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// PageSource returns up to count records matching where, starting at offset.
// The where clause is passed through to the source uninterpreted.
type PageSource interface {
	Page(ctx context.Context, where string, offset, count int) ([]Record, error)
}

// Options controls a paginated fetch.
type Options struct {
	Where string
	// PageSize is the number of records requested per page. Default: 1000.
	PageSize int
	// MaxFeatures caps the total number of records kept. 0 means unlimited.
	MaxFeatures int
	// OnPage is called after each non-empty page with the running total.
	OnPage func(page, got, total int)
}

// Result is the outcome of a completed fetch.
type Result struct {
	Records []Record
	Pages   int
}

const defaultPageSize = 1000

// FetchAll requests pages sequentially at increasing offsets until a page
// comes back empty or shorter than requested. A failing page aborts the
// whole fetch and no partial result is returned.
func FetchAll(ctx context.Context, src PageSource, opts Options) (*Result, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	log := zap.L().With(zap.String("component", "fetcher"))

	res := &Result{}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "fetcher: cancelled")
		}

		want := pageSize
		if opts.MaxFeatures > 0 {
			remaining := opts.MaxFeatures - len(res.Records)
			if remaining <= 0 {
				break
			}
			if remaining < want {
				want = remaining
			}
		}

		batch, err := src.Page(ctx, opts.Where, offset, want)
		res.Pages++
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: page %d (offset %d)", res.Pages, offset)
		}
		if len(batch) == 0 {
			break
		}
		if len(batch) > want {
			batch = batch[:want]
		}

		res.Records = append(res.Records, batch...)
		log.Info("fetched page",
			zap.Int("page", res.Pages),
			zap.Int("records", len(batch)),
			zap.Int("total", len(res.Records)),
		)
		if opts.OnPage != nil {
			opts.OnPage(res.Pages, len(batch), len(res.Records))
		}

		if len(batch) < want {
			break
		}
		offset += len(batch)
	}

	return res, nil
}
