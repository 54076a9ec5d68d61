package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kvlite/kvlite/internal/storage"
)

type generator struct{}

func (generator) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (generator) Placeholder(pos int) string { return "$" + strconv.Itoa(pos) }

func qualified(g generator, schemaName, tableName string) string {
	if schemaName == "" {
		return g.QuoteIdentifier(tableName)
	}
	return g.QuoteIdentifier(schemaName) + "." + g.QuoteIdentifier(tableName)
}

func (g generator) CreateTableDDL(schemaName, tableName string) []string {
	table := qualified(g, schemaName, tableName)
	cols := []string{
		g.QuoteIdentifier(storage.ColID) + " TEXT",
		g.QuoteIdentifier(storage.ColPartition) + " TEXT NOT NULL",
		g.QuoteIdentifier(storage.ColKey) + " TEXT NOT NULL",
		g.QuoteIdentifier(storage.ColExpiry) + " BIGINT NOT NULL",
		g.QuoteIdentifier(storage.ColInterval) + " BIGINT NOT NULL",
		g.QuoteIdentifier(storage.ColValue) + " BYTEA NOT NULL",
		g.QuoteIdentifier(storage.ColCompressed) + " BOOLEAN NOT NULL",
		g.QuoteIdentifier(storage.ColCreation) + " BIGINT NOT NULL",
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		cols = append(cols, g.QuoteIdentifier(storage.ColParent(i))+" TEXT")
	}

	var fks []string
	for i := 0; i < storage.MaxParentKeys; i++ {
		fks = append(fks, fmt.Sprintf(
			"CONSTRAINT %s FOREIGN KEY (%s, %s) REFERENCES %s (%s, %s) ON DELETE CASCADE",
			g.QuoteIdentifier(fmt.Sprintf("fk_%s_parent%d", tableName, i)),
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

	return []string{create, index}
}

func (g generator) ColumnIntrospectionQuery(schemaName, tableName string) (string, []any) {
	schema := schemaName
	if schema == "" {
		schema = "public"
	}
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2", []any{schema, tableName}
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
	table := qualified(g, schemaName, tableName)
	cols := storage.AllColumns()
	placeholders := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
		placeholders[i] = g.Placeholder(i + 1)
	}

	updateSet := []string{
		g.QuoteIdentifier(storage.ColID) + " = EXCLUDED." + g.QuoteIdentifier(storage.ColID),
		g.QuoteIdentifier(storage.ColExpiry) + " = EXCLUDED." + g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColInterval) + " = EXCLUDED." + g.QuoteIdentifier(storage.ColInterval),
		g.QuoteIdentifier(storage.ColValue) + " = EXCLUDED." + g.QuoteIdentifier(storage.ColValue),
		g.QuoteIdentifier(storage.ColCompressed) + " = EXCLUDED." + g.QuoteIdentifier(storage.ColCompressed),
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		col := g.QuoteIdentifier(storage.ColParent(i))
		updateSet = append(updateSet, col+" = EXCLUDED."+col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)\nON CONFLICT (%s, %s) DO UPDATE SET %s",
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "),
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
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) scopedWhere(partitionScoped, ignoreExpiry bool) string {
	clauses := []string{"1=1"}
	next := 1
	if partitionScoped {
		next++
		clauses = append(clauses, g.QuoteIdentifier(storage.ColPartition)+" = "+g.Placeholder(next-1))
	}
	if !ignoreExpiry {
		next++
		clauses = append(clauses, g.QuoteIdentifier(storage.ColExpiry)+" < "+g.Placeholder(next-1))
	}
	return strings.Join(clauses, " AND ")
}

func (g generator) DeleteEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", qualified(g, schemaName, tableName), g.scopedWhere(partitionScoped, ignoreExpiry))
}

func (g generator) UpdateEntryExpiry(schemaName, tableName string) string {
	return fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s = $2 AND %s = $3",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) ContainsEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1 AND %s = $2 AND %s > $3 LIMIT 1",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition),
		g.QuoteIdentifier(storage.ColKey), g.QuoteIdentifier(storage.ColExpiry))
}

// CountEntries counts live rows (utc_expiry > now) unless ignoreExpiry is set.
func (g generator) CountEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string {
	where := "1=1"
	next := 0
	if partitionScoped {
		next++
		where += " AND " + g.QuoteIdentifier(storage.ColPartition) + " = " + g.Placeholder(next)
	}
	if !ignoreExpiry {
		next++
		where += " AND " + g.QuoteIdentifier(storage.ColExpiry) + " > " + g.Placeholder(next)
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", qualified(g, schemaName, tableName), where)
}

func (g generator) PeekEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s = $2 AND %s > $3",
		g.selectColumns(), qualified(g, schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey), g.QuoteIdentifier(storage.ColExpiry))
}

func (g generator) PeekEntries(schemaName, tableName string, partitionScoped bool) string {
	where := "1=1"
	next := 0
	if partitionScoped {
		next++
		where += " AND " + g.QuoteIdentifier(storage.ColPartition) + " = " + g.Placeholder(next)
	}
	next++
	where += " AND " + g.QuoteIdentifier(storage.ColExpiry) + " > " + g.Placeholder(next)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s", g.selectColumns(), qualified(g, schemaName, tableName), where)
}

func (g generator) PeekEntriesByParent(schemaName, tableName string) string {
	parents := make([]string, storage.MaxParentKeys)
	for i := range parents {
		parents[i] = g.QuoteIdentifier(storage.ColParent(i)) + " = " + g.Placeholder(i+2)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND (%s) AND %s > %s",
		g.selectColumns(), qualified(g, schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), strings.Join(parents, " OR "),
		g.QuoteIdentifier(storage.ColExpiry), g.Placeholder(storage.MaxParentKeys+2))
}

func (g generator) ListPartitions(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		g.QuoteIdentifier(storage.ColPartition), qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition))
}

func (g generator) CacheSizeBytes(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT COALESCE(SUM(OCTET_LENGTH(%s)), 0) FROM %s", g.QuoteIdentifier(storage.ColValue), qualified(g, schemaName, tableName))
}

func (generator) VacuumStatement() string { return "VACUUM" }

var _ storage.SQLGenerator = generator{}
