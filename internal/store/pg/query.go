package pg

import (
	"fmt"
	"strings"
	"time"

	"agendaflow/internal/store"
)

// builder accumulates positional arguments while the filter tree is compiled
// to a SQL predicate over the jsonb fields column.
type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) compile(f store.Filter) (string, error) {
	switch t := f.(type) {
	case nil:
		return "true", nil
	case store.EqFilter:
		return b.compileEq(t)
	case store.InFilter:
		// In is Or over Eq; compiling it that way keeps one code path for
		// the per-type casts.
		ors := make([]store.Filter, 0, len(t.Values))
		for _, v := range t.Values {
			ors = append(ors, store.EqFilter{Field: t.Field, Value: v})
		}
		return b.compile(store.OrFilter{Filters: ors})
	case store.AndFilter:
		return b.compileJoin(t.Filters, " and ", "true")
	case store.OrFilter:
		return b.compileJoin(t.Filters, " or ", "false")
	case store.BeforeFilter:
		expr, err := timestampExpr(t.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s < %s", expr, b.arg(t.T.UTC())), nil
	case store.AfterFilter:
		expr, err := timestampExpr(t.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s > %s", expr, b.arg(t.T.UTC())), nil
	default:
		return "", fmt.Errorf("pg: cannot compile filter %T", f)
	}
}

func (b *builder) compileEq(f store.EqFilter) (string, error) {
	path, err := jsonPath(f.Field)
	if err != nil {
		return "", err
	}
	switch v := f.Value.(type) {
	case nil:
		// An absent key yields SQL null, a stored JSON null yields
		// 'null'::jsonb; the in-memory matcher treats both as nil.
		return fmt.Sprintf("(fields #> %s is null or fields #> %s = 'null'::jsonb)", path, path), nil
	case string:
		return fmt.Sprintf("fields #>> %s = %s", path, b.arg(v)), nil
	case bool:
		return fmt.Sprintf("(fields #>> %s)::boolean = %s", path, b.arg(v)), nil
	case time.Time:
		return fmt.Sprintf("(fields #>> %s)::timestamptz = %s", path, b.arg(v.UTC())), nil
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("(fields #>> %s)::numeric = %s", path, b.arg(v)), nil
	default:
		return "", fmt.Errorf("pg: cannot compile equality against %T", f.Value)
	}
}

func (b *builder) compileJoin(filters []store.Filter, sep, empty string) (string, error) {
	var parts []string
	for _, f := range filters {
		if f == nil {
			continue
		}
		part, err := b.compile(f)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return empty, nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// jsonPath turns a dotted field path into a jsonb path literal. Paths come
// from code, never from request input, but reject the quoting characters
// anyway so a bad constant fails loudly instead of producing broken SQL.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("pg: empty field path")
	}
	if strings.ContainsAny(field, `'"{}`) {
		return "", fmt.Errorf("pg: invalid field path %q", field)
	}
	parts := strings.Split(field, ".")
	return fmt.Sprintf("'{%s}'", strings.Join(parts, ",")), nil
}

func timestampExpr(field string) (string, error) {
	switch field {
	case "created", "updated":
		return field, nil
	}
	path, err := jsonPath(field)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(fields #>> %s)::timestamptz", path), nil
}

func orderClause(opts store.FindOptions) string {
	dir := "asc"
	if opts.Desc {
		dir = "desc"
	}
	switch opts.Sort {
	case "", "created":
		return "created " + dir
	case "updated":
		return "updated " + dir
	}
	path, err := jsonPath(opts.Sort)
	if err != nil {
		return "created " + dir
	}
	return fmt.Sprintf("fields #>> %s %s", path, dir)
}
