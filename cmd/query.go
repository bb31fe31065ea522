package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sells-group/tractkit/internal/geofile"
	"github.com/sells-group/tractkit/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query [question...]",
	Short: "Ask keyword questions about a GeoJSON file",
	Long: `Answers simple questions about a feature collection: feature count,
attributes, total area, bounds and geometry types. With a question as
arguments it prints one answer; otherwise it reads questions from stdin until
quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = cfg.Conversion.OutputFile
		}
		fc, err := geofile.Read(path)
		if err != nil {
			return err
		}
		responder := query.NewResponder(fc)

		if len(args) > 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), responder.Answer(strings.Join(args, " ")))
			return nil
		}

		sess := &query.Session{
			Responder: responder,
			Prompt:    term.IsTerminal(int(os.Stdin.Fd())),
		}
		return sess.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	queryCmd.Flags().StringP("file", "f", "", "GeoJSON file to query (default conversion.output_file)")
	rootCmd.AddCommand(queryCmd)
}
