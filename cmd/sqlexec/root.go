package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-sqlexec/cache"
	"github.com/goliatone/go-sqlexec/driver/bundriver"
	"github.com/goliatone/go-sqlexec/mapping"
	"github.com/goliatone/go-sqlexec/pkg/di"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	driver      string
	dsn         string
	environment string
	timeout     time.Duration
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "sqlexec",
		Short:        "Run SQL statements through the mapped statement executor",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.driver, "driver", bundriver.DriverSQLite, "database driver (sqlite or postgres)")
	flags.StringVar(&opts.dsn, "dsn", "", "data source name")
	flags.StringVar(&opts.environment, "env", "default", "environment id mixed into cache keys")
	flags.DurationVar(&opts.timeout, "timeout", 0, "default statement timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log executed statements to stderr")
	_ = root.MarkPersistentFlagRequired("dsn")

	root.AddCommand(newQueryCmd(opts), newExecCmd(opts))
	return root
}

func (o *globalOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// container opens the database and returns a container with the shared
// cache layer turned off: every invocation is a single session.
func (o *globalOptions) container(cmd *cobra.Command) (*di.Container, error) {
	logger := o.logger(cmd.ErrOrStderr())

	settings := mapping.DefaultSettings()
	settings.EnvironmentID = o.environment
	settings.DefaultStatementTimeout = o.timeout
	cfg := mapping.NewConfiguration(mapping.WithSettings(settings), mapping.WithLogger(logger))

	var hookLogger *slog.Logger
	if o.verbose {
		hookLogger = logger
	}
	db, err := bundriver.Open(o.driver, o.dsn, hookLogger)
	if err != nil {
		return nil, err
	}

	c, err := di.NewContainer(cfg, cache.DefaultConfig(), di.WithDB(db), di.WithCacheEnabled(false))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "configure")
	}
	return c, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
