package sqlstore

import (
	"fmt"
	"strings"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// builder accumulates the SET and WHERE clauses of a statement together with
// their bind arguments, numbering placeholders in the order they are added.
type builder struct {
	dialect Dialect
	args    []any
	sets    []string
	where   []string
}

func newBuilder(dialect Dialect) *builder {
	return &builder{dialect: dialect}
}

// bind registers v and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	if b.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", len(b.args))
	}
	return "?"
}

// ----------------------------------------------------------------------------
// SET
// ----------------------------------------------------------------------------

func (b *builder) set(col string, v any) {
	b.sets = append(b.sets, col+" = "+b.bind(v))
}

func (b *builder) setString(col string, v *string) {
	if v != nil {
		b.set(col, *v)
	}
}

func (b *builder) setBool(col string, v *bool) {
	if v != nil {
		b.set(col, *v)
	}
}

// ----------------------------------------------------------------------------
// WHERE
// ----------------------------------------------------------------------------

func (b *builder) cond(clause string) {
	b.where = append(b.where, clause)
}

func (b *builder) eq(col string, v any) {
	b.cond(col + " = " + b.bind(v))
}

func (b *builder) eqString(col string, v *string) {
	if v != nil {
		b.eq(col, *v)
	}
}

func (b *builder) eqBool(col string, v *bool) {
	if v != nil {
		b.eq(col, *v)
	}
}

func (b *builder) notEq(col, v string) {
	if v != "" {
		b.cond(col + " <> " + b.bind(v))
	}
}

// hasPrefix matches col against a literal prefix. Postgres uses LIKE with an
// escape character, SQLite uses GLOB because its LIKE ignores case.
func (b *builder) hasPrefix(col, prefix string) {
	if prefix == "" {
		return
	}
	if b.dialect == DialectPostgres {
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
		b.cond(col + " LIKE " + b.bind(escaped+"%") + ` ESCAPE '\'`)
		return
	}
	escaped := strings.NewReplacer(`[`, `[[]`, `*`, `[*]`, `?`, `[?]`).Replace(prefix)
	b.cond(col + " GLOB " + b.bind(escaped+"*"))
}

// inFold matches col case-insensitively against values. A leading dot is ignored.
func (b *builder) inFold(col string, values []string) {
	if len(values) == 0 {
		return
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(strings.ToLower(strings.TrimPrefix(v, ".")))
	}
	b.cond("LOWER(" + col + ") IN (" + strings.Join(placeholders, ", ") + ")")
}

// whereClause renders " WHERE ..." or an empty string.
func (b *builder) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

// ----------------------------------------------------------------------------
// ORDER / LIMIT
// ----------------------------------------------------------------------------

// orderBy renders the ORDER BY clause for a text or numeric column, using
// byte order for text in both dialects. Ties are broken by id.
func (b *builder) orderBy(col string, text bool, desc bool) string {
	if col == "" {
		return " ORDER BY id"
	}
	if text && b.dialect == DialectPostgres {
		col += ` COLLATE "C"`
	}
	if desc {
		col += " DESC"
	}
	return " ORDER BY " + col + ", id"
}

func (b *builder) limit(opts metadata.ListOptions) string {
	switch {
	case opts.Limit > 0 && opts.Offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	case opts.Limit > 0:
		return fmt.Sprintf(" LIMIT %d", opts.Limit)
	case opts.Offset > 0 && b.dialect == DialectSQLite:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", opts.Offset)
	case opts.Offset > 0:
		return fmt.Sprintf(" OFFSET %d", opts.Offset)
	default:
		return ""
	}
}

// insert renders an INSERT for the given columns, binding values in order.
func (b *builder) insert(table string, cols []string, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = b.bind(v)
	}
	return "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
}
