package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/convert"
	"github.com/sells-group/tractkit/internal/fault"
	"github.com/sells-group/tractkit/internal/fetcher"
	"github.com/sells-group/tractkit/internal/geofile"
	"github.com/sells-group/tractkit/internal/portal"
	"github.com/sells-group/tractkit/internal/store"
	"github.com/sells-group/tractkit/internal/tiger"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch every feature of a layer and write it as GeoJSON",
	Long: `Connects to the configured portal, resolves the layer (layer_url, then
item_ids, then search_queries), pages through it and writes a GeoJSON
FeatureCollection. When no layer can be found the fixed sample collection is
written instead. A local shapefile can replace the portal as the source.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyFetchFlags(cmd)
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return explain(runFetch(ctx, st, cmd.OutOrStdout()))
	},
}

func init() {
	f := fetchCmd.Flags()
	f.String("layer-url", "", "query this layer URL directly, skipping item and search resolution")
	f.StringSlice("item", nil, "portal item id to try (repeatable, overrides conversion.item_ids)")
	f.Int("sublayer", -1, "service sublayer id (-1 = first)")
	f.String("where", "", "attribute filter (default from config, 1=1)")
	f.String("out-fields", "", "comma-separated fields to request (default *)")
	f.Int("page-size", 0, "records per page (default from config)")
	f.Int("max-features", 0, "stop after this many features (0 = unlimited)")
	f.StringP("output", "o", "", "output GeoJSON path")
	f.String("shapefile", "", "read features from a local .shp instead of the portal")
	f.Bool("indent", false, "pretty-print the output")
	f.Bool("no-metadata", false, "skip the .meta.yaml sidecar")
	rootCmd.AddCommand(fetchCmd)
}

func applyFetchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	c := &cfg.Conversion
	if f.Changed("layer-url") {
		c.LayerURL, _ = f.GetString("layer-url")
	}
	if f.Changed("item") {
		c.ItemIDs, _ = f.GetStringSlice("item")
	}
	if f.Changed("sublayer") {
		c.Sublayer, _ = f.GetInt("sublayer")
	}
	if f.Changed("where") {
		c.Where, _ = f.GetString("where")
	}
	if f.Changed("out-fields") {
		c.OutFields, _ = f.GetString("out-fields")
	}
	if f.Changed("page-size") {
		c.PageSize, _ = f.GetInt("page-size")
	}
	if f.Changed("max-features") {
		c.MaxFeatures, _ = f.GetInt("max-features")
	}
	if f.Changed("output") {
		c.OutputFile, _ = f.GetString("output")
	}
	if f.Changed("shapefile") {
		c.Shapefile, _ = f.GetString("shapefile")
	}
	if f.Changed("indent") {
		c.Indent, _ = f.GetBool("indent")
	}
	if noMeta, _ := f.GetBool("no-metadata"); noMeta {
		c.IncludeMetadata = false
	}
}

// fetchSource is a resolved layer ready for paging.
type fetchSource struct {
	src      fetcher.PageSource
	name     string
	pageSize int
	close    func() error
}

func runFetch(ctx context.Context, st store.Store, out io.Writer) error {
	log := zap.L().With(zap.String("command", "fetch"))
	conv := cfg.Conversion

	origin := cfg.ArcGIS.URL
	if conv.Shapefile != "" {
		origin = conv.Shapefile
	}
	run, err := st.CreateRun(ctx, origin, conv.Where, conv.PageSize)
	if err != nil {
		return eris.Wrap(err, "fetch: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	source, err := openSource(ctx)
	if fault.Is(err, fault.NotFound) {
		log.Warn("no layer resolved, writing sample collection", zap.Error(err))
		return writeSample(ctx, st, run.ID, out)
	}
	if err != nil {
		failRun(ctx, st, run.ID, err)
		return err
	}
	if source.close != nil {
		defer source.close() //nolint:errcheck
	}

	start := time.Now()
	res, err := fetcher.FetchAll(ctx, source.src, fetcher.Options{
		Where:       conv.Where,
		PageSize:    source.pageSize,
		MaxFeatures: conv.MaxFeatures,
		OnPage: func(page, got, total int) {
			log.Info("page fetched", zap.Int("page", page), zap.Int("records", got), zap.Int("total", total))
		},
	})
	if err != nil {
		failRun(ctx, st, run.ID, err)
		return err
	}

	fc, stats, err := convert.Collection(res.Records)
	if err != nil {
		failRun(ctx, st, run.ID, err)
		return err
	}

	if err := geofile.Write(conv.OutputFile, fc, geofile.WriteOptions{Indent: conv.Indent}); err != nil {
		failRun(ctx, st, run.ID, err)
		return err
	}
	if conv.IncludeMetadata {
		meta := geofile.Metadata{
			RunID:        run.ID,
			Source:       source.name,
			Where:        conv.Where,
			PageSize:     source.pageSize,
			Pages:        res.Pages,
			Records:      stats.Records,
			Features:     stats.Converted,
			Skipped:      stats.Skipped,
			NullGeometry: stats.NullGeometry,
			FetchedAt:    time.Now().UTC(),
		}
		if err := geofile.WriteMetadata(conv.OutputFile, meta); err != nil {
			log.Warn("metadata sidecar not written", zap.Error(err))
		}
	}

	if err := st.FinishRun(ctx, run.ID, store.RunResult{
		Source:     source.name,
		Pages:      res.Pages,
		Features:   stats.Converted,
		Skipped:    stats.Skipped,
		OutputFile: conv.OutputFile,
	}); err != nil {
		log.Warn("run log not updated", zap.Error(err))
	}

	log.Info("fetch complete",
		zap.Int("features", stats.Converted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("pages", res.Pages),
		zap.Duration("elapsed", time.Since(start)),
	)
	_, _ = fmt.Fprintf(out, "Wrote %d features to %s (%d pages, %d skipped, %d without geometry)\n",
		stats.Converted, conv.OutputFile, res.Pages, stats.Skipped, stats.NullGeometry)
	return nil
}

func openSource(ctx context.Context) (*fetchSource, error) {
	conv := cfg.Conversion

	if conv.Shapefile != "" {
		shp, err := tiger.OpenShapefile(conv.Shapefile)
		if err != nil {
			return nil, fault.Wrap(err, fault.NotFound, "fetch.shapefile")
		}
		return &fetchSource{src: shp, name: shp.Path(), pageSize: conv.PageSize, close: shp.Close}, nil
	}

	sess, err := portal.Connect(ctx, cfg.ArcGIS, newTransport())
	if err != nil {
		return nil, err
	}
	target, err := sess.Locate(ctx, portal.LocateRequest{
		LayerURL:      conv.LayerURL,
		ItemIDs:       conv.ItemIDs,
		SearchQueries: conv.SearchQueries,
		Sublayer:      conv.Sublayer,
		Where:         conv.Where,
	})
	if err != nil {
		return nil, err
	}

	return &fetchSource{
		src:      fetcher.NewLayerSource(sess.Client, target.URL, conv.OutFields),
		name:     target.URL,
		pageSize: clampPageSize(conv.PageSize, target.MaxRecordCount),
	}, nil
}

// clampPageSize keeps the page size within the server's maxRecordCount;
// larger requests would come back truncated.
func clampPageSize(pageSize, maxRecordCount int) int {
	if maxRecordCount > 0 && pageSize > maxRecordCount {
		zap.L().Info("page size clamped to layer maxRecordCount",
			zap.Int("requested", pageSize), zap.Int("max_record_count", maxRecordCount))
		return maxRecordCount
	}
	return pageSize
}

func failRun(ctx context.Context, st store.Store, runID string, cause error) {
	if err := st.FailRun(context.WithoutCancel(ctx), runID, cause); err != nil {
		zap.L().Warn("run log not updated", zap.String("run_id", runID), zap.Error(err))
	}
}
