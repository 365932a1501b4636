package postgres

import (
	"fmt"
	"strings"
)

// UpdateBuilder accumulates (column, value) pairs for a partial update and
// renders a single parameterized UPDATE statement. Values never end up in
// the SQL text, only in the args slice; column names are always literals
// chosen by the calling repo, never caller input.
type UpdateBuilder struct {
	table string
	cols  []string
	args  []any
}

func NewUpdateBuilder(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

func (b *UpdateBuilder) Set(column string, value any) *UpdateBuilder {
	b.cols = append(b.cols, column)
	b.args = append(b.args, value)
	return b
}

// SetIfNotNil applies a patch field only when it was supplied.
func SetIfNotNil[T any](b *UpdateBuilder, column string, v *T) {
	if v != nil {
		b.Set(column, *v)
	}
}

func (b *UpdateBuilder) Empty() bool {
	return len(b.cols) == 0
}

// Build renders the statement with the target identifier appended as the
// last positional argument. updated_at is always touched.
//
//	UPDATE users SET full_name = $1, phone = $2, updated_at = NOW() WHERE id = $3
func (b *UpdateBuilder) Build(idColumn string, id any) (string, []any, error) {
	if b.Empty() {
		return "", nil, ErrNoFields
	}

	assignments := make([]string, 0, len(b.cols)+1)

	for i, col := range b.cols {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, i+1))
	}
	assignments = append(assignments, "updated_at = NOW()")

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		b.table,
		strings.Join(assignments, ", "),
		idColumn,
		len(b.cols)+1,
	)

	args := append(append([]any{}, b.args...), id)

	return query, args, nil
}
