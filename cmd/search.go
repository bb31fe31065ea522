package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/tractkit/internal/portal"
	"github.com/sells-group/tractkit/pkg/arcgis"
)

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search the portal for feature layers",
	Long: `Runs each query against the portal catalog and lists the feature services
found, deduplicated by item id. Without arguments the configured
conversion.search_queries are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		queries := cfg.Conversion.SearchQueries
		if len(args) > 0 {
			queries = args
		}

		sess, err := portal.Connect(ctx, cfg.ArcGIS, newTransport())
		if err != nil {
			return explain(err)
		}
		items, err := sess.Search(ctx, queries)
		if err != nil {
			return explain(err)
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No feature layers found.")
			return nil
		}
		formatItems(cmd.OutOrStdout(), items)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func formatItems(out io.Writer, items []arcgis.Item) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tOWNER\tTITLE")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-----")
	for _, it := range items {
		title := it.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Type, it.Owner, strings.TrimSpace(title))
	}
	_ = w.Flush()
}
