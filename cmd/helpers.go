package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tractkit/internal/fault"
	"github.com/sells-group/tractkit/internal/fetcher"
	"github.com/sells-group/tractkit/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if dsn == "" {
		dsn = "tractkit.db"
	}
	st, err := store.NewSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newTransport() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:          time.Duration(cfg.ArcGIS.TimeoutSecs) * time.Second,
		RatePerSec:       cfg.ArcGIS.RatePerSec,
		MaxAttempts:      cfg.ArcGIS.MaxAttempts,
		BreakerThreshold: cfg.ArcGIS.BreakerThreshold,
	})
}

func postgisPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.PostGIS.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "connect to postgis")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping postgis")
	}
	return pool, nil
}

// explain prefixes err with a hint chosen by its fault kind.
func explain(err error) error {
	if err == nil {
		return nil
	}
	switch fault.KindOf(err) {
	case fault.Connection:
		return eris.Wrap(err, "could not reach the ArcGIS portal (check arcgis.url and credentials)")
	case fault.NotFound:
		return eris.Wrap(err, "no matching layer (check conversion.item_ids, search_queries or layer_url)")
	case fault.Conversion:
		return eris.Wrap(err, "record conversion failed")
	case fault.EmptyResult:
		return eris.Wrap(err, "the layer produced no usable features")
	default:
		return err
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
