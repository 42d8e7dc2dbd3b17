package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-sqlexec/executor"
	"github.com/goliatone/go-sqlexec/mapping"
)

type queryOptions struct {
	sql    string
	params []string
	offset int
	limit  int
	repeat int
}

func newQueryCmd(global *globalOptions) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a select and print the rows as JSON",
		Example: `  sqlexec query --dsn app.db --sql "SELECT id, title FROM blog WHERE id > ?" --param 10
  sqlexec query --dsn app.db --sql "SELECT * FROM post" --offset 20 --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.sql, "sql", "", "select statement with ? placeholders")
	f.StringArrayVarP(&opts.params, "param", "p", nil, "positional parameter value (repeatable)")
	f.IntVar(&opts.offset, "offset", 0, "rows to skip")
	f.IntVar(&opts.limit, "limit", mapping.DefaultRowBounds.Limit, "maximum rows to return")
	f.IntVar(&opts.repeat, "repeat", 1, "run the query this many times in one session")
	_ = cmd.MarkFlagRequired("sql")
	return cmd
}

func runQuery(cmd *cobra.Command, global *globalOptions, opts *queryOptions) error {
	if opts.offset < 0 || opts.limit < 0 || opts.repeat < 1 {
		return errors.New("offset and limit must not be negative and repeat must be positive")
	}
	values := make([]any, len(opts.params))
	for i, p := range opts.params {
		values[i] = parseValue(p)
	}
	if err := checkArity(opts.sql, values); err != nil {
		return err
	}

	c, err := global.container(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.Configuration()
	rm := mapping.NewResultMap("cli.row", nil, nil)
	if err := cfg.AddResultMap(rm); err != nil {
		return err
	}
	ms := mapping.NewStatement("cli.query", mapping.Select,
		mapping.StaticSQL{Text: opts.sql, Params: positionalParams(len(values))}, rm)
	if err := cfg.AddMappedStatement(ms); err != nil {
		return err
	}

	session, err := c.OpenSession(executor.KindSimple)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer session.Close(ctx, false)

	bounds := mapping.RowBounds{Offset: opts.offset, Limit: opts.limit}
	var rows []any
	for i := 0; i < opts.repeat; i++ {
		if rows, err = session.Query(ctx, ms, paramObject(values), bounds, nil); err != nil {
			return err
		}
	}
	if rows == nil {
		rows = []any{}
	}
	return writeJSON(cmd.OutOrStdout(), rows)
}
