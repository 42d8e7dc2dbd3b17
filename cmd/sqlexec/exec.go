package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-sqlexec/executor"
	"github.com/goliatone/go-sqlexec/executor/keygen"
	"github.com/goliatone/go-sqlexec/mapping"
)

type execOptions struct {
	sql      string
	params   []string
	rows     []string
	batch    bool
	keys     bool
	rollback bool
}

// execReport is the JSON document printed by exec.
type execReport struct {
	Strategy string  `json:"strategy"`
	Counts   []int64 `json:"counts"`
	Keys     []any   `json:"keys,omitempty"`
	Batches  int     `json:"batches,omitempty"`
	Rollback bool    `json:"rolled_back,omitempty"`
}

// generatedKeyProperty receives generated keys in each parameter map.
const generatedKeyProperty = "id"

func newExecCmd(global *globalOptions) *cobra.Command {
	opts := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run an insert, update or delete once per parameter row",
		Example: `  sqlexec exec --dsn app.db --sql "UPDATE blog SET title = ? WHERE id = ?" -p Go -p 1
  sqlexec exec --dsn app.db --sql "INSERT INTO tag (name) VALUES (?)" --row '["a"]' --row '["b"]' --batch --keys`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExec(cmd, global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.sql, "sql", "", "statement with ? placeholders")
	f.StringArrayVarP(&opts.params, "param", "p", nil, "positional parameter value (repeatable)")
	f.StringArrayVar(&opts.rows, "row", nil, "JSON array of parameter values, one execution per flag")
	f.BoolVar(&opts.batch, "batch", false, "group executions into driver batches")
	f.BoolVar(&opts.keys, "keys", false, "report generated keys")
	f.BoolVar(&opts.rollback, "rollback", false, "roll back instead of committing")
	_ = cmd.MarkFlagRequired("sql")
	cmd.MarkFlagsMutuallyExclusive("param", "row")
	return cmd
}

func (o *execOptions) parameterRows() ([][]any, error) {
	if len(o.rows) == 0 {
		values := make([]any, len(o.params))
		for i, p := range o.params {
			values[i] = parseValue(p)
		}
		return [][]any{values}, nil
	}
	out := make([][]any, 0, len(o.rows))
	for _, raw := range o.rows {
		values, err := parseRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, nil
}

func runExec(cmd *cobra.Command, global *globalOptions, opts *execOptions) error {
	rows, err := opts.parameterRows()
	if err != nil {
		return err
	}
	arity := len(rows[0])
	for _, values := range rows {
		if err := checkArity(opts.sql, values); err != nil {
			return err
		}
	}

	c, err := global.container(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.Configuration()
	ms := mapping.NewStatement("cli.exec", mapping.Update,
		mapping.StaticSQL{Text: opts.sql, Params: positionalParams(arity)})
	if opts.keys {
		ms.KeyGenerator = keygen.New(cfg)
		ms.KeyProperties = []string{generatedKeyProperty}
	}
	if err := cfg.AddMappedStatement(ms); err != nil {
		return err
	}

	kind := executor.KindSimple
	if opts.batch {
		kind = executor.KindBatch
	}
	session, err := c.OpenSession(kind)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	report := execReport{Strategy: kind.String(), Rollback: opts.rollback}
	params := make([]map[string]any, len(rows))
	for i, values := range rows {
		params[i] = paramObject(values)
		n, err := session.Update(ctx, ms, params[i])
		if err != nil {
			session.Close(ctx, true)
			return err
		}
		if !opts.batch {
			report.Counts = append(report.Counts, n)
		}
	}

	results, err := session.FlushStatements(ctx)
	if err != nil {
		session.Close(ctx, true)
		return err
	}
	report.Batches = len(results)
	for _, r := range results {
		report.Counts = append(report.Counts, r.UpdateCounts...)
	}

	if opts.rollback {
		err = session.Rollback(ctx, true)
	} else {
		err = session.Commit(ctx, true)
	}
	session.Close(ctx, false)
	if err != nil {
		return errors.Wrap(err, "finish transaction")
	}

	if opts.keys {
		for _, p := range params {
			report.Keys = append(report.Keys, p[generatedKeyProperty])
		}
	}
	return writeJSON(cmd.OutOrStdout(), report)
}
