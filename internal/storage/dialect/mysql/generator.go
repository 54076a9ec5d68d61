package mysql

import (
	"fmt"
	"strings"

	"github.com/kvlite/kvlite/internal/storage"
)

type generator struct{}

func (generator) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (generator) Placeholder(int) string { return "?" }

func qualified(g generator, schemaName, tableName string) string {
	if schemaName == "" {
		return g.QuoteIdentifier(tableName)
	}
	return g.QuoteIdentifier(schemaName) + "." + g.QuoteIdentifier(tableName)
}

func (g generator) CreateTableDDL(schemaName, tableName string) []string {
	table := qualified(g, schemaName, tableName)
	cols := []string{
		g.QuoteIdentifier(storage.ColID) + " VARCHAR(36)",
		g.QuoteIdentifier(storage.ColPartition) + " VARCHAR(255) NOT NULL",
		g.QuoteIdentifier(storage.ColKey) + " VARCHAR(255) NOT NULL",
		g.QuoteIdentifier(storage.ColExpiry) + " BIGINT NOT NULL",
		g.QuoteIdentifier(storage.ColInterval) + " BIGINT NOT NULL",
		g.QuoteIdentifier(storage.ColValue) + " LONGBLOB NOT NULL",
		g.QuoteIdentifier(storage.ColCompressed) + " TINYINT(1) NOT NULL",
		g.QuoteIdentifier(storage.ColCreation) + " BIGINT NOT NULL",
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		cols = append(cols, g.QuoteIdentifier(storage.ColParent(i))+" VARCHAR(255) NULL")
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
		"CREATE TABLE IF NOT EXISTS %s (\n  %s,\n  PRIMARY KEY (%s, %s),\n  KEY %s (%s, %s),\n  %s\n) ENGINE=InnoDB",
		table,
		strings.Join(cols, ",\n  "),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		g.QuoteIdentifier("idx_"+tableName+"_expiry"),
		g.QuoteIdentifier(storage.ColExpiry), g.QuoteIdentifier(storage.ColPartition),
		strings.Join(fks, ",\n  "),
	)

	return []string{create}
}

func (g generator) ColumnIntrospectionQuery(schemaName, tableName string) (string, []any) {
	if schemaName == "" {
		return "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?", []any{tableName}
	}
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = ? AND table_name = ?", []any{schemaName, tableName}
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
	placeholders := strings.TrimRight(strings.Repeat("?,", len(cols)), ",")
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
	}

	updateSet := []string{
		g.QuoteIdentifier(storage.ColID) + " = VALUES(" + g.QuoteIdentifier(storage.ColID) + ")",
		g.QuoteIdentifier(storage.ColExpiry) + " = VALUES(" + g.QuoteIdentifier(storage.ColExpiry) + ")",
		g.QuoteIdentifier(storage.ColInterval) + " = VALUES(" + g.QuoteIdentifier(storage.ColInterval) + ")",
		g.QuoteIdentifier(storage.ColValue) + " = VALUES(" + g.QuoteIdentifier(storage.ColValue) + ")",
		g.QuoteIdentifier(storage.ColCompressed) + " = VALUES(" + g.QuoteIdentifier(storage.ColCompressed) + ")",
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		col := g.QuoteIdentifier(storage.ColParent(i))
		updateSet = append(updateSet, col+" = VALUES("+col+")")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(quoted, ", "), placeholders, strings.Join(updateSet, ", "),
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
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
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
	return fmt.Sprintf("DELETE FROM %s WHERE %s", qualified(g, schemaName, tableName), g.scopedWhere(partitionScoped, ignoreExpiry))
}

func (g generator) UpdateEntryExpiry(schemaName, tableName string) string {
	return fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND %s = ?",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) ContainsEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? AND %s = ? AND %s > ? LIMIT 1",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition),
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
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", qualified(g, schemaName, tableName), where)
}

func (g generator) PeekEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s = ? AND %s > ?",
		g.selectColumns(), qualified(g, schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey), g.QuoteIdentifier(storage.ColExpiry))
}

func (g generator) PeekEntries(schemaName, tableName string, partitionScoped bool) string {
	where := "1=1"
	if partitionScoped {
		where += " AND " + g.QuoteIdentifier(storage.ColPartition) + " = ?"
	}
	where += " AND " + g.QuoteIdentifier(storage.ColExpiry) + " > ?"
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s", g.selectColumns(), qualified(g, schemaName, tableName), where)
}

func (g generator) PeekEntriesByParent(schemaName, tableName string) string {
	parents := make([]string, storage.MaxParentKeys)
	for i := range parents {
		parents[i] = g.QuoteIdentifier(storage.ColParent(i)) + " = ?"
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND (%s) AND %s > ?",
		g.selectColumns(), qualified(g, schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), strings.Join(parents, " OR "),
		g.QuoteIdentifier(storage.ColExpiry))
}

func (g generator) ListPartitions(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		g.QuoteIdentifier(storage.ColPartition), qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition))
}

func (g generator) CacheSizeBytes(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT SUM(LENGTH(%s)) FROM %s", g.QuoteIdentifier(storage.ColValue), qualified(g, schemaName, tableName))
}

func (generator) VacuumStatement() string { return "" }

var _ storage.SQLGenerator = generator{}
