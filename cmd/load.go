package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/geofile"
	"github.com/sells-group/tractkit/internal/geospatial"
)

var loadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Load a GeoJSON file into a PostGIS table",
	Long: `Creates the target table when missing and copies every feature into it as
(feature_key, properties jsonb, geom). With --key the load upserts on that
property instead of appending.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if v, _ := cmd.Flags().GetString("schema"); v != "" {
			cfg.PostGIS.Schema = v
		}
		if v, _ := cmd.Flags().GetString("table"); v != "" {
			cfg.PostGIS.Table = v
		}
		if err := cfg.Validate("load"); err != nil {
			return err
		}

		path := cfg.Conversion.OutputFile
		if len(args) == 1 {
			path = args[0]
		}
		fc, err := geofile.Read(path)
		if err != nil {
			return err
		}

		pool, err := postgisPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		target := geospatial.Target{Schema: cfg.PostGIS.Schema, Table: cfg.PostGIS.Table}
		if err := geospatial.EnsureTable(ctx, pool, target); err != nil {
			return err
		}

		key, _ := cmd.Flags().GetString("key")
		truncate, _ := cmd.Flags().GetBool("truncate")
		batch, _ := cmd.Flags().GetInt("batch-size")
		n, err := geospatial.LoadCollection(ctx, pool, target, fc, geospatial.LoadOptions{
			KeyField:  key,
			Truncate:  truncate,
			BatchSize: batch,
		})
		if err != nil {
			return err
		}

		zap.L().Info("load complete", zap.String("command", "load"), zap.String("table", target.String()), zap.Int64("rows", n))
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d features into %s\n", n, target)
		return nil
	},
}

func init() {
	loadCmd.Flags().String("schema", "", "target schema (default postgis.schema)")
	loadCmd.Flags().String("table", "", "target table (default postgis.table)")
	loadCmd.Flags().String("key", "", "property to upsert on, e.g. geoid")
	loadCmd.Flags().Bool("truncate", false, "empty the table before an append load")
	loadCmd.Flags().Int("batch-size", 0, "rows per COPY batch (default 50000)")
	rootCmd.AddCommand(loadCmd)
}
