package storage

import (
	"context"
	"strings"

	"github.com/kvlite/kvlite/internal/kverrors"
)

// EnsureSchema checks whether cf's entries table has every required
// column. Three outcomes:
//   - table absent entirely: create it via the dialect's DDL.
//   - table present, all required columns found: no-op (idempotent).
//   - table present, some column missing: kverrors.SchemaIncompatible — the
//     engine never migrates a table it doesn't fully recognize.
func EnsureSchema(ctx context.Context, cf *ConnectionFactory) error {
	const op = "storage.EnsureSchema"

	query, args := cf.gen().ColumnIntrospectionQuery(cf.schemaName, cf.tableName)
	rows, err := cf.db.QueryContext(ctx, query, args...)
	if err != nil {
		return kverrors.New(kverrors.BackendUnavailable, op, err)
	}
	found := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return kverrors.New(kverrors.BackendUnavailable, op, err)
		}
		found[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return kverrors.New(kverrors.BackendUnavailable, op, err)
	}
	rows.Close()

	if len(found) == 0 {
		for _, stmt := range cf.gen().CreateTableDDL(cf.schemaName, cf.tableName) {
			if _, err := cf.db.ExecContext(ctx, stmt); err != nil {
				return kverrors.New(kverrors.BackendUnavailable, op, err)
			}
		}
		return nil
	}

	for _, col := range AllColumns() {
		if !found[strings.ToLower(col)] {
			return kverrors.New(kverrors.SchemaIncompatible, op, missingColumnErr(cf.tableName, col))
		}
	}
	return nil
}

type missingColumn struct {
	table, column string
}

func (m *missingColumn) Error() string {
	return "table " + m.table + " exists but is missing column " + m.column
}

func missingColumnErr(table, column string) error {
	return &missingColumn{table: table, column: column}
}
