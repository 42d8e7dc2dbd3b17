package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/goliatone/go-sqlexec/mapping"
)

// paramName names the i-th positional placeholder.
func paramName(i int) string {
	return fmt.Sprintf("p%d", i+1)
}

// positionalParams maps n placeholders onto p1..pn.
func positionalParams(n int) []mapping.ParameterMapping {
	names := make([]string, n)
	for i := range names {
		names[i] = paramName(i)
	}
	return mapping.Params(names...)
}

// placeholders counts the `?` markers outside of quoted literals.
func placeholders(sql string) int {
	n := 0
	var quote rune
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
		}
	}
	return n
}

// parseValue reads a command line value: integers become int64, "null"
// becomes nil and everything else stays a string.
func parseValue(s string) any {
	if strings.EqualFold(s, "null") {
		return nil
	}
	// leading zeros would be read as octal
	n, err := cast.ToInt64E(s)
	if err == nil && (s == "0" || !strings.HasPrefix(s, "0")) {
		return n
	}
	return s
}

// paramObject builds the parameter map for one execution.
func paramObject(values []any) map[string]any {
	out := make(map[string]any, len(values))
	for i, v := range values {
		out[paramName(i)] = v
	}
	return out
}

// parseRow decodes one --row flag, a JSON array of positional values.
func parseRow(raw string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, errors.Wrapf(err, "row %q is not a JSON array", raw)
	}
	for i, v := range values {
		if n, ok := v.(json.Number); ok {
			if iv, err := n.Int64(); err == nil {
				values[i] = iv
			} else {
				values[i] = cast.ToFloat64(n.String())
			}
		}
	}
	return values, nil
}

func checkArity(sql string, values []any) error {
	if want := placeholders(sql); want != len(values) {
		return errors.Errorf("statement has %d placeholder(s), got %d value(s)", want, len(values))
	}
	return nil
}
