package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/api"
	"github.com/sells-group/tractkit/internal/geofile"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve [file]",
	Short: "Serve a GeoJSON file over HTTP",
	Long: `Starts an HTTP API over one feature collection: GET /features, /query?q=,
/stats/{field}, /metadata and /health.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
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

		opts := api.Options{Source: path}
		opts.AllowedOrigins, _ = cmd.Flags().GetStringSlice("allow-origin")
		if meta, err := geofile.ReadMetadata(path); err == nil {
			opts.Metadata = meta
		} else {
			zap.L().Debug("no metadata sidecar", zap.String("file", path), zap.Error(err))
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(fc, opts).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("file", path),
			zap.Int("features", len(fc.Features)),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringSlice("allow-origin", nil, "CORS origin to allow (repeatable, default any)")
	rootCmd.AddCommand(serveCmd)
}
