package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/dhtstate/internal/config"
	"github.com/roach88/dhtstate/internal/kv"
	"github.com/roach88/dhtstate/internal/state"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dhtstate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dhtstate",
		Short: "dhtstate - agent source chains and DHT op staging",
		Long: `Operate a cell's persistent state: write an agent's genesis records,
run zome calls against its source chain, stage incoming DHT ops for
validation and inspect what the database holds.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a TOML config file")

	cmd.AddCommand(NewGenesisCommand(opts))
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file and environment. A non-empty db
// overrides the configured SQLite path.
func (o *RootOptions) loadConfig(db string) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if db != "" {
		cfg.DBPath = db
	}
	return cfg, nil
}

// logger returns the diagnostic logger for cmd. Logs go to stderr so JSON
// output on stdout stays parseable.
func (o *RootOptions) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	return cfg.Logger(cmd.ErrOrStderr(), o.Verbose)
}

// session is the state shared by commands that touch the database.
type session struct {
	cfg    config.Config
	env    *kv.SQLEnv
	log    *slog.Logger
	format *OutputFormatter
}

// openSession loads the config and opens the database with every state
// partition. The caller must close the returned env. Failures are already
// reported through the formatter.
func (o *RootOptions) openSession(cmd *cobra.Command, db string) (*session, error) {
	f := o.formatter(cmd)
	cfg, err := o.loadConfig(db)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	env, err := kv.Open(cfg.KVConfig(), state.Partitions())
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStorage, "failed to open database", err)
	}
	return &session{cfg: cfg, env: env, log: o.logger(cmd, cfg), format: f}, nil
}

func (s *session) Close() error {
	return s.env.Close()
}
