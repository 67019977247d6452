package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"syncqueue/internal/credentials"
	"syncqueue/internal/domain"
	"syncqueue/internal/events"
	"syncqueue/internal/models"
	"syncqueue/internal/repository"
	"syncqueue/internal/transport"
	"syncqueue/internal/worker"

	"github.com/spf13/cobra"
)

// DrainResult is the outcome of a one-shot drain.
type DrainResult struct {
	Report worker.DrainReport  `json:"report"`
	Events []*models.SyncEvent `json:"events"`
	Error  string              `json:"error,omitempty"`
}

func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay the queue against the configured remote once",
		Long: `Seed the queue from the database and replay every entry against remote.base_url.

The drain stops early on a network error; the remaining entries stay queued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd.Context(), rootOpts, timeout, cmd)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the drain after this long")
	return cmd
}

func runDrain(ctx context.Context, opts *RootOptions, timeout time.Duration, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rt, err := openRuntime(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	var tokens domain.TokenRepository = repository.NewMemoryTokenRepository(rt.cfg.Credentials.TTL)
	processorOpts := []worker.Option{worker.WithLeaseTTL(worker.LeaseTTLFor(rt.cfg.Remote.Timeout))}
	if rt.cfg.Redis.Address != "" {
		client := repository.NewRedisClient(rt.cfg.Redis)
		defer client.Close()
		if err := repository.Ping(ctx, client); err != nil {
			rt.logger.Warn().Err(err).Msg("redis unavailable, using in-memory tokens")
		} else {
			tokens = repository.NewFailoverTokenRepository(repository.NewRedisTokenRepository(client, rt.cfg.Credentials.TTL), tokens, rt.logger)
			processorOpts = append(processorOpts, worker.WithDeadLetter(worker.NewRedisDeadLetter(client, rt.cfg.Sync.DeadLetterKey)))
		}
	}

	creds := credentials.NewProvider(ctx, rt.cfg.Credentials, tokens, rt.logger)
	if err := creds.Seed(ctx, rt.cfg.Credentials); err != nil {
		rt.logger.Warn().Err(err).Msg("seed credentials")
	}

	var (
		mu     sync.Mutex
		result DrainResult
	)
	publisher := events.NewPublisher()
	publisher.Subscribe(func(ev *models.SyncEvent) {
		mu.Lock()
		result.Events = append(result.Events, ev)
		mu.Unlock()
	})

	processor := worker.NewProcessor(rt.db, transport.New(rt.cfg.Remote, rt.logger), creds, publisher, rt.logger, processorOpts...)
	report, drainErr := processor.Drain(ctx)
	result.Report = report
	if drainErr != nil {
		result.Error = drainErr.Error()
	}

	if err := writeOutput(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
		printf(w, "seeded %d, sent %d, succeeded %d, rejected %d, retained %d, deferred %d, errors %d\n",
			report.Seeded, report.Sent, report.Succeeded, report.Rejected, report.Retained, report.Deferred, report.Errors)
		if report.Halted {
			printf(w, "halted: remote unreachable\n")
		}
		for _, ev := range result.Events {
			printf(w, "event: %s\n", ev.Kind())
		}
	}); err != nil {
		return err
	}
	if errors.Is(drainErr, worker.ErrSyncInProgress) {
		return fmt.Errorf("another drain holds %s: %w", rt.cfg.Database.Path, drainErr)
	}
	return drainErr
}
