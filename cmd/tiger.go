package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/tiger"
)

var tigerCmd = &cobra.Command{
	Use:   "tiger",
	Short: "Download a Census TIGER/Line tract shapefile",
	Long: `Downloads the census-tract shapefile bundle for one state and vintage and
extracts it. The printed .shp path can be passed to fetch --shapefile.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		state, _ := cmd.Flags().GetString("state")
		year, _ := cmd.Flags().GetInt("year")
		dir, _ := cmd.Flags().GetString("dir")
		base, _ := cmd.Flags().GetString("base-url")

		url := tiger.TractURL(base, year, state)
		shpPath, err := tiger.Download(ctx, newTransport(), url, dir)
		if err != nil {
			return err
		}

		src, err := tiger.OpenShapefile(shpPath)
		if err != nil {
			return err
		}
		defer src.Close() //nolint:errcheck

		zap.L().Info("tiger shapefile ready",
			zap.String("command", "tiger"),
			zap.String("path", shpPath),
			zap.Int("records", src.Len()),
		)
		abs, err := filepath.Abs(shpPath)
		if err != nil {
			abs = shpPath
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d tracts, fields: %v)\n", abs, src.Len(), src.Fields())
		return nil
	},
}

func init() {
	tigerCmd.Flags().String("state", "04", "state FIPS code")
	tigerCmd.Flags().Int("year", 2023, "TIGER/Line vintage")
	tigerCmd.Flags().String("dir", "tiger", "download and extract directory")
	tigerCmd.Flags().String("base-url", tiger.BaseURL, "TIGER/Line download root")
	rootCmd.AddCommand(tigerCmd)
}
