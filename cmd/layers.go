package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tractkit/internal/portal"
	"github.com/sells-group/tractkit/pkg/arcgis"
)

var layersCmd = &cobra.Command{
	Use:   "layers [service-url]",
	Short: "List the sublayers and tables of a feature service",
	Long: `Lists the sublayers and tables of a feature service, given either its URL or
a portal item id (--item). Use the ids with fetch --sublayer.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		itemID, _ := cmd.Flags().GetString("item")
		if len(args) == 0 && itemID == "" {
			return eris.New("layers: give a service URL or --item")
		}

		sess, err := portal.Connect(ctx, cfg.ArcGIS, newTransport())
		if err != nil {
			return explain(err)
		}

		serviceURL := ""
		if len(args) == 1 {
			serviceURL = args[0]
		} else {
			serviceURL, err = sess.ItemURL(ctx, itemID)
			if err != nil {
				return explain(err)
			}
		}

		refs, err := sess.ListLayers(ctx, serviceURL)
		if err != nil {
			return explain(err)
		}
		formatLayers(cmd.OutOrStdout(), serviceURL, refs)
		return nil
	},
}

func init() {
	layersCmd.Flags().String("item", "", "portal item id whose service to describe")
	rootCmd.AddCommand(layersCmd)
}

func formatLayers(out io.Writer, serviceURL string, refs []arcgis.LayerRef) {
	_, _ = fmt.Fprintf(out, "%s\n\n", serviceURL)
	if len(refs) == 0 {
		_, _ = fmt.Fprintln(out, "No layers found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tGEOMETRY")
	_, _ = fmt.Fprintln(w, "--\t----\t--------")
	for _, r := range refs {
		geomType := r.GeometryType
		if geomType == "" {
			geomType = "(table)"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, geomType)
	}
	_ = w.Flush()
}
