package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tractkit/internal/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Descriptive analysis of census-tract digital equity data",
	Long: `Reads a GeoJSON, CSV or XLSX file of census tracts and reports on the digital
access variables: distributions, correlations, clusters, county rollups,
priority rankings, household impact and access gaps.`,
}

// reportFunc computes one report from a loaded frame.
type reportFunc func(cmd *cobra.Command, f *analysis.Frame) (analysis.Report, error)

func analyzeRunE(build reportFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		format, err := analysisFormat(cmd)
		if err != nil {
			return err
		}
		f, err := loadFrame(cmd)
		if err != nil {
			return err
		}
		r, err := build(cmd, f)
		if err != nil {
			return err
		}
		return emit(cmd, format, r)
	}
}

var analyzeDescribeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Distribution of each key variable",
	RunE: analyzeRunE(func(cmd *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		fields, _ := cmd.Flags().GetStringSlice("fields")
		return analysis.Describe(f, fields...), nil
	}),
}

var analyzeCorrelateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Pearson correlation matrix and strong pairs",
	RunE: analyzeRunE(func(_ *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		return analysis.Correlate(f), nil
	}),
}

var analyzeClusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "K-means clusters of tracts by access profile",
	RunE: analyzeRunE(func(_ *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		return analysis.Cluster(f)
	}),
}

var analyzeCountiesCmd = &cobra.Command{
	Use:   "counties",
	Short: "County rollup ranked by fixed broadband",
	RunE: analyzeRunE(func(_ *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		return analysis.CountySummary(f), nil
	}),
}

var analyzePriorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Tracts ranked by intervention priority score",
	RunE: analyzeRunE(func(cmd *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		limit, _ := cmd.Flags().GetInt("limit")
		return analysis.Priority(f, limit)
	}),
}

var analyzeHouseholdsCmd = &cobra.Command{
	Use:   "households",
	Short: "Household counts, weighted rates and impact ranking",
	RunE: analyzeRunE(func(cmd *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		limit, _ := cmd.Flags().GetInt("limit")
		return analysis.Households(f, limit)
	}),
}

var analyzeGapCmd = &cobra.Command{
	Use:     "access-gap",
	Aliases: []string{"gap"},
	Short:   "High vs low access quartiles with a two-sample t-test",
	RunE: analyzeRunE(func(_ *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		return analysis.AccessGap(f)
	}),
}

var analyzeEquityCmd = &cobra.Command{
	Use:   "equity",
	Short: "Composite equity score and intervention counts",
	RunE: analyzeRunE(func(_ *cobra.Command, f *analysis.Frame) (analysis.Report, error) {
		return analysis.Equity(f)
	}),
}

var analyzeAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every analysis that the data supports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := analysisFormat(cmd)
		if err != nil {
			return err
		}
		f, err := loadFrame(cmd)
		if err != nil {
			return err
		}
		reports, err := allReports(cmd.Context(), f)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			return eris.New("analyze: no analysis could run on this data")
		}
		out := cmd.OutOrStdout()
		for i, r := range reports {
			if i > 0 && format == analysis.FormatText {
				_, _ = fmt.Fprintln(out)
			}
			if err := analysis.Render(out, format, r); err != nil {
				return err
			}
		}
		return exportXLSX(cmd, reports...)
	},
}

func init() {
	pf := analyzeCmd.PersistentFlags()
	pf.StringP("file", "f", "", "GeoJSON, CSV or XLSX input (default conversion.output_file)")
	pf.String("format", "text", "output format: text, json or yaml")
	pf.String("xlsx", "", "also export the report tables to this workbook")

	analyzeDescribeCmd.Flags().StringSlice("fields", nil, "fields to describe (default: key variables)")
	analyzePriorityCmd.Flags().Int("limit", analysis.DefaultPriorityLimit, "number of tracts to list")
	analyzeHouseholdsCmd.Flags().Int("limit", analysis.DefaultImpactLimit, "number of high-impact tracts to list")

	analyzeCmd.AddCommand(
		analyzeDescribeCmd,
		analyzeCorrelateCmd,
		analyzeClusterCmd,
		analyzeCountiesCmd,
		analyzePriorityCmd,
		analyzeHouseholdsCmd,
		analyzeGapCmd,
		analyzeEquityCmd,
		analyzeAllCmd,
	)
	rootCmd.AddCommand(analyzeCmd)
}

func analysisFormat(cmd *cobra.Command) (analysis.Format, error) {
	s, _ := cmd.Flags().GetString("format")
	return analysis.ParseFormat(strings.ToLower(s))
}

func loadFrame(cmd *cobra.Command) (*analysis.Frame, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = cfg.Conversion.OutputFile
	}
	f, err := analysis.Load(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("frame loaded",
		zap.String("command", "analyze"),
		zap.String("file", path),
		zap.Int("rows", f.Len()),
		zap.Int("columns", len(f.Columns())),
	)
	return f, nil
}

func emit(cmd *cobra.Command, format analysis.Format, r analysis.Report) error {
	if err := analysis.Render(cmd.OutOrStdout(), format, r); err != nil {
		return err
	}
	return exportXLSX(cmd, r)
}

func exportXLSX(cmd *cobra.Command, reports ...analysis.Report) error {
	path, _ := cmd.Flags().GetString("xlsx")
	if path == "" {
		return nil
	}
	if err := analysis.ExportXLSX(path, reports...); err != nil {
		return err
	}
	zap.L().Info("workbook written", zap.String("path", path), zap.Int("reports", len(reports)))
	return nil
}

// allReports runs every analyzer concurrently over the read-only frame and
// returns the reports in a fixed order. Analyses the data cannot support are
// skipped; any other failure aborts.
func allReports(ctx context.Context, f *analysis.Frame) ([]analysis.Report, error) {
	log := zap.L().With(zap.String("command", "analyze all"))

	builders := []struct {
		name string
		run  func() (analysis.Report, error)
	}{
		{"describe", func() (analysis.Report, error) { return analysis.Describe(f), nil }},
		{"correlate", func() (analysis.Report, error) { return analysis.Correlate(f), nil }},
		{"cluster", func() (analysis.Report, error) { return analysis.Cluster(f) }},
		{"counties", func() (analysis.Report, error) {
			if !f.Has(analysis.FieldCounty) {
				return nil, eris.Wrapf(analysis.ErrInsufficientData, "no %s column", analysis.FieldCounty)
			}
			return analysis.CountySummary(f), nil
		}},
		{"priority", func() (analysis.Report, error) { return analysis.Priority(f, analysis.DefaultPriorityLimit) }},
		{"households", func() (analysis.Report, error) { return analysis.Households(f, analysis.DefaultImpactLimit) }},
		{"access-gap", func() (analysis.Report, error) { return analysis.AccessGap(f) }},
		{"equity", func() (analysis.Report, error) { return analysis.Equity(f) }},
	}

	results := make([]analysis.Report, len(builders))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range builders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := b.run()
			if errors.Is(err, analysis.ErrInsufficientData) {
				log.Warn("analysis skipped", zap.String("analysis", b.name), zap.Error(err))
				return nil
			}
			if err != nil {
				return eris.Wrapf(err, "analyze %s", b.name)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]analysis.Report, 0, len(results))
	for _, r := range results {
		if r != nil {
			reports = append(reports, r)
		}
	}
	return reports, nil
}
