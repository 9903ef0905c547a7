package mux

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/yjs/yhub/internal/roomlog"
)

// entryFilter wraps a compiled CEL program evaluated per log entry. When the
// expression is empty the filter is disabled and everything passes.
type entryFilter struct {
	prog    cel.Program
	enabled bool
}

func newEntryFilter(expr string) (entryFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return entryFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return entryFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return entryFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return entryFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return entryFilter{}, err
	}
	return entryFilter{prog: prog, enabled: true}, nil
}

// Eval applies the filter to one entry. Evaluation errors fail closed.
func (f entryFilter) Eval(it roomlog.Item) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"kind":   it.Entry.Kind.String(),
		"size":   int64(len(it.Entry.Update)),
		"ts_ms":  it.Clock.Ms,
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
