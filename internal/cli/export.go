package cli

import (
	"context"
	"io"

	"syncqueue/internal/export"

	"github.com/spf13/cobra"
)

// ExportResult reports where the snapshot went.
type ExportResult struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the pending queue to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), rootOpts, out, cmd)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "queue.xlsx", "output workbook path")
	return cmd
}

func runExport(ctx context.Context, opts *RootOptions, out string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := export.NewExporter(rt.db, rt.logger).Export(ctx, out)
	if err != nil {
		return err
	}

	result := ExportResult{Path: out, Rows: n}
	return writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		printf(w, "exported %d entries to %s\n", n, out)
	})
}
