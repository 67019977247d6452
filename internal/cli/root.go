package cli

import (
	"fmt"
	"io"
	"os"

	"syncqueue/internal/config"
	"syncqueue/internal/database"
	"syncqueue/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the operator CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Inspect and drain the offline request queue",
		Long:  "Operator tooling for the durable request queue: inspect pending entries, run a drain, export a snapshot.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfig, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log to stderr at debug level")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// runtime is what every command needs: config, a logger that stays off stdout, and the database.
type runtime struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *database.DB
	closer io.Closer
}

func openRuntime(opts *RootOptions, stderr io.Writer) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var logger *zerolog.Logger
	var closer io.Closer
	if opts.Verbose {
		logCfg := cfg.Logging
		logCfg.Level = "debug"
		if logCfg.Output != "file" {
			logCfg.Output = "stderr"
		}
		logger, closer, err = logging.New(logCfg, cfg.App)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	} else {
		l := zerolog.New(stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
		logger = &l
	}

	db, err := database.NewDB(cfg.Database.Path, cfg.Database.Driver, logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, db: db, closer: closer}, nil
}

func (r *runtime) Close() {
	_ = r.db.Close()
	if r.closer != nil {
		_ = r.closer.Close()
	}
}
