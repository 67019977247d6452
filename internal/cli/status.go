package cli

import (
	"context"
	"io"
	"sort"

	"syncqueue/internal/models"

	"github.com/spf13/cobra"
)

// StatusResult is the queue summary printed by the status command.
type StatusResult struct {
	Pending        int            `json:"pending"`
	ByType         map[string]int `json:"by_type"`
	Undecodable    int            `json:"undecodable"`
	DeviceRegister string         `json:"device_register,omitempty"`
	ClockOffsetMS  string         `json:"clock_offset_ms,omitempty"`
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and sync flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := openRuntime(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	rows, err := rt.db.Seed(ctx)
	if err != nil {
		return err
	}

	result := StatusResult{Pending: len(rows), ByType: map[string]int{}}
	for _, row := range rows {
		entry, err := models.EntryFromRow(row)
		if err != nil {
			result.Undecodable++
			continue
		}
		result.ByType[string(entry.Type)]++
	}

	if v, ok, err := rt.db.GetValue(ctx, models.KeyDeviceRegisterSuccess); err == nil && ok {
		result.DeviceRegister = v
	}
	if v, ok, err := rt.db.GetValue(ctx, models.KeyTelemetryMinAllowedOffset); err == nil && ok {
		result.ClockOffsetMS = v
	}

	return writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		printf(w, "pending: %d\n", result.Pending)
		types := make([]string, 0, len(result.ByType))
		for t := range result.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			printf(w, "  %-18s %d\n", t, result.ByType[t])
		}
		if result.Undecodable > 0 {
			printf(w, "  %-18s %d\n", "undecodable", result.Undecodable)
		}
		if result.DeviceRegister != "" {
			printf(w, "device register: %s\n", result.DeviceRegister)
		}
		if result.ClockOffsetMS != "" {
			printf(w, "clock offset ms: %s\n", result.ClockOffsetMS)
		}
	})
}
