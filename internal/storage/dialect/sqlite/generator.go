package sqlite

import (
	"fmt"
	"strings"

	"github.com/kvlite/kvlite/internal/storage"
)

type generator struct{}

func (generator) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (generator) Placeholder(int) string { return "?" }

func (g generator) quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (g generator) CreateTableDDL(schemaName, tableName string) []string {
	table := qualified(schemaName, tableName)
	cols := []string{
		g.QuoteIdentifier(storage.ColID) + " TEXT",
		g.QuoteIdentifier(storage.ColPartition) + " TEXT NOT NULL",
		g.QuoteIdentifier(storage.ColKey) + " TEXT NOT NULL",
		g.QuoteIdentifier(storage.ColExpiry) + " INTEGER NOT NULL",
		g.QuoteIdentifier(storage.ColInterval) + " INTEGER NOT NULL",
		g.QuoteIdentifier(storage.ColValue) + " BLOB NOT NULL",
		g.QuoteIdentifier(storage.ColCompressed) + " INTEGER NOT NULL",
		g.QuoteIdentifier(storage.ColCreation) + " INTEGER NOT NULL",
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		cols = append(cols, g.QuoteIdentifier(storage.ColParent(i))+" TEXT")
	}

	var fks []string
	for i := 0; i < storage.MaxParentKeys; i++ {
		fks = append(fks, fmt.Sprintf(
			"FOREIGN KEY (%s, %s) REFERENCES %s (%s, %s) ON DELETE CASCADE",
			g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColParent(i)),
			table, g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		))
	}

	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s,\n  PRIMARY KEY (%s, %s),\n  %s\n)",
		table,
		strings.Join(cols, ",\n  "),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		strings.Join(fks, ",\n  "),
	)

	index := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (%s DESC, %s ASC)",
		g.QuoteIdentifier("idx_"+tableName+"_expiry"),
		table,
		g.QuoteIdentifier(storage.ColExpiry), g.QuoteIdentifier(storage.ColPartition),
	)

	return []string{"PRAGMA foreign_keys=ON", create, index}
}

func (g generator) ColumnIntrospectionQuery(_, tableName string) (string, []any) {
	return fmt.Sprintf("SELECT name FROM pragma_table_info(%s)", g.quoteLiteral(tableName)), nil
}

func (g generator) selectColumns() string {
	cols := storage.AllColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func (g generator) UpsertEntry(schemaName, tableName string) string {
	table := qualified(schemaName, tableName)
	cols := storage.AllColumns()
	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
	}

	updateSet := []string{
		g.QuoteIdentifier(storage.ColID) + " = excluded." + g.QuoteIdentifier(storage.ColID),
		g.QuoteIdentifier(storage.ColExpiry) + " = excluded." + g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColInterval) + " = excluded." + g.QuoteIdentifier(storage.ColInterval),
		g.QuoteIdentifier(storage.ColValue) + " = excluded." + g.QuoteIdentifier(storage.ColValue),
		g.QuoteIdentifier(storage.ColCompressed) + " = excluded." + g.QuoteIdentifier(storage.ColCompressed),
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		col := g.QuoteIdentifier(storage.ColParent(i))
		updateSet = append(updateSet, col+" = excluded."+col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)\nON CONFLICT (%s, %s) DO UPDATE SET %s",
		table, strings.Join(quoted, ", "), placeholders,
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		strings.Join(updateSet, ", "),
	)
}

func (generator) UpsertArgs(e *storage.CacheEntry) []any {
	args := []any{e.ID, e.Partition, e.Key, e.UTCExpiry, e.Interval, e.Value, e.Compressed, e.UTCCreation}
	for _, p := range e.ParentKeys {
		if p == "" {
			args = append(args, nil)
		} else {
			args = append(args, p)
		}
	}
	return args
}

func (g generator) DeleteEntry(schemaName, tableName string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
		qualified(schemaName, tableName), g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) scopedWhere(partitionScoped, ignoreExpiry bool) string {
	clauses := []string{"1=1"}
	if partitionScoped {
		clauses = append(clauses, g.QuoteIdentifier(storage.ColPartition)+" = ?")
	}
	if !ignoreExpiry {
		clauses = append(clauses, g.QuoteIdentifier(storage.ColExpiry)+" < ?")
	}
	return strings.Join(clauses, " AND ")
}

func (g generator) DeleteEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", qualified(schemaName, tableName), g.scopedWhere(partitionScoped, ignoreExpiry))
}

func (g generator) UpdateEntryExpiry(schemaName, tableName string) string {
	return fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND %s = ?",
		qualified(schemaName, tableName), g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) ContainsEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? AND %s = ? AND %s > ? LIMIT 1",
		qualified(schemaName, tableName), g.QuoteIdentifier(storage.ColPartition),
		g.QuoteIdentifier(storage.ColKey), g.QuoteIdentifier(storage.ColExpiry))
}

// CountEntries counts live rows (utc_expiry > now) unless ignoreExpiry is set.
func (g generator) CountEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string {
	where := "1=1"
	if partitionScoped {
		where += " AND " + g.QuoteIdentifier(storage.ColPartition) + " = ?"
	}
	if !ignoreExpiry {
		where += " AND " + g.QuoteIdentifier(storage.ColExpiry) + " > ?"
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", qualified(schemaName, tableName), where)
}

func (g generator) PeekEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s = ? AND %s > ?",
		g.selectColumns(), qualified(schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey), g.QuoteIdentifier(storage.ColExpiry))
}

func (g generator) PeekEntries(schemaName, tableName string, partitionScoped bool) string {
	where := "1=1"
	if partitionScoped {
		where += " AND " + g.QuoteIdentifier(storage.ColPartition) + " = ?"
	}
	where += " AND " + g.QuoteIdentifier(storage.ColExpiry) + " > ?"
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s", g.selectColumns(), qualified(schemaName, tableName), where)
}

func (g generator) PeekEntriesByParent(schemaName, tableName string) string {
	parents := make([]string, storage.MaxParentKeys)
	for i := range parents {
		parents[i] = g.QuoteIdentifier(storage.ColParent(i)) + " = ?"
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND (%s) AND %s > ?",
		g.selectColumns(), qualified(schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), strings.Join(parents, " OR "),
		g.QuoteIdentifier(storage.ColExpiry))
}

func (g generator) ListPartitions(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		g.QuoteIdentifier(storage.ColPartition), qualified(schemaName, tableName), g.QuoteIdentifier(storage.ColPartition))
}

func (g generator) CacheSizeBytes(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT SUM(LENGTH(%s)) FROM %s", g.QuoteIdentifier(storage.ColValue), qualified(schemaName, tableName))
}

func (generator) VacuumStatement() string { return "VACUUM" }

var _ storage.SQLGenerator = generator{}
