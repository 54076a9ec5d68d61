package mssql

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/kvlite/kvlite/internal/storage"
)

type generator struct{}

func (generator) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (generator) Placeholder(pos int) string { return "@p" + strconv.Itoa(pos) }

func qualified(g generator, schemaName, tableName string) string {
	if schemaName == "" {
		return g.QuoteIdentifier(tableName)
	}
	return g.QuoteIdentifier(schemaName) + "." + g.QuoteIdentifier(tableName)
}

func (g generator) CreateTableDDL(schemaName, tableName string) []string {
	table := qualified(g, schemaName, tableName)
	cols := []string{
		g.QuoteIdentifier(storage.ColID) + " NVARCHAR(36)",
		g.QuoteIdentifier(storage.ColPartition) + " NVARCHAR(255) NOT NULL",
		g.QuoteIdentifier(storage.ColKey) + " NVARCHAR(255) NOT NULL",
		g.QuoteIdentifier(storage.ColExpiry) + " BIGINT NOT NULL",
		g.QuoteIdentifier(storage.ColInterval) + " BIGINT NOT NULL",
		g.QuoteIdentifier(storage.ColValue) + " VARBINARY(MAX) NOT NULL",
		g.QuoteIdentifier(storage.ColCompressed) + " BIT NOT NULL",
		g.QuoteIdentifier(storage.ColCreation) + " BIGINT NOT NULL",
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		cols = append(cols, g.QuoteIdentifier(storage.ColParent(i))+" NVARCHAR(255) NULL")
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
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n  %s,\n  CONSTRAINT %s PRIMARY KEY (%s, %s),\n  %s\n)",
		strings.ReplaceAll(table, "'", "''"), table,
		strings.Join(cols, ",\n  "),
		g.QuoteIdentifier("pk_"+tableName),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		strings.Join(fks, ",\n  "),
	)

	index := fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = %s)\nCREATE INDEX %s ON %s (%s DESC, %s ASC)",
		"'"+("idx_"+tableName+"_expiry")+"'",
		g.QuoteIdentifier("idx_"+tableName+"_expiry"),
		table,
		g.QuoteIdentifier(storage.ColExpiry), g.QuoteIdentifier(storage.ColPartition),
	)

	return []string{create, index}
}

func (g generator) ColumnIntrospectionQuery(schemaName, tableName string) (string, []any) {
	if schemaName == "" {
		return "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = @p1", []any{tableName}
	}
	return "SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2", []any{schemaName, tableName}
}

func (g generator) selectColumns() string {
	cols := storage.AllColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

// UpsertEntry uses named parameters so the bound value for a parent-key
// column (or id/expiry/etc.) is supplied once and referenced from both the
// UPDATE and the fallback INSERT, matching UpsertArgs's sql.Named list.
func (g generator) UpsertEntry(schemaName, tableName string) string {
	table := qualified(g, schemaName, tableName)
	cols := storage.AllColumns()
	quoted := make([]string, len(cols))
	named := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.QuoteIdentifier(c)
		named[i] = "@" + c
	}

	updateSet := []string{
		g.QuoteIdentifier(storage.ColID) + " = @" + storage.ColID,
		g.QuoteIdentifier(storage.ColExpiry) + " = @" + storage.ColExpiry,
		g.QuoteIdentifier(storage.ColInterval) + " = @" + storage.ColInterval,
		g.QuoteIdentifier(storage.ColValue) + " = @" + storage.ColValue,
		g.QuoteIdentifier(storage.ColCompressed) + " = @" + storage.ColCompressed,
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		col := storage.ColParent(i)
		updateSet = append(updateSet, g.QuoteIdentifier(col)+" = @"+col)
	}

	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = @%s AND %s = @%s;\nIF @@ROWCOUNT = 0\nINSERT INTO %s (%s) VALUES (%s);",
		table, strings.Join(updateSet, ", "),
		g.QuoteIdentifier(storage.ColPartition), storage.ColPartition,
		g.QuoteIdentifier(storage.ColKey), storage.ColKey,
		table, strings.Join(quoted, ", "), strings.Join(named, ", "),
	)
}

func (generator) UpsertArgs(e *storage.CacheEntry) []any {
	args := []any{
		sql.Named(storage.ColID, e.ID),
		sql.Named(storage.ColPartition, e.Partition),
		sql.Named(storage.ColKey, e.Key),
		sql.Named(storage.ColExpiry, e.UTCExpiry),
		sql.Named(storage.ColInterval, e.Interval),
		sql.Named(storage.ColValue, e.Value),
		sql.Named(storage.ColCompressed, e.Compressed),
		sql.Named(storage.ColCreation, e.UTCCreation),
	}
	for i, p := range e.ParentKeys {
		if p == "" {
			args = append(args, sql.Named(storage.ColParent(i), nil))
		} else {
			args = append(args, sql.Named(storage.ColParent(i), p))
		}
	}
	return args
}

func (g generator) DeleteEntry(schemaName, tableName string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = @p1 AND %s = @p2",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) scopedWhere(partitionScoped, ignoreExpiry bool) string {
	clauses := []string{"1=1"}
	next := 0
	if partitionScoped {
		next++
		clauses = append(clauses, g.QuoteIdentifier(storage.ColPartition)+" = "+g.Placeholder(next))
	}
	if !ignoreExpiry {
		next++
		clauses = append(clauses, g.QuoteIdentifier(storage.ColExpiry)+" < "+g.Placeholder(next))
	}
	return strings.Join(clauses, " AND ")
}

func (g generator) DeleteEntries(schemaName, tableName string, partitionScoped, ignoreExpiry bool) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", qualified(g, schemaName, tableName), g.scopedWhere(partitionScoped, ignoreExpiry))
}

func (g generator) UpdateEntryExpiry(schemaName, tableName string) string {
	return fmt.Sprintf("UPDATE %s SET %s = @p1 WHERE %s = @p2 AND %s = @p3",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) ContainsEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT TOP 1 1 FROM %s WHERE %s = @p1 AND %s = @p2 AND %s > @p3",
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
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = @p1 AND %s = @p2 AND %s > @p3",
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
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = @p1 AND (%s) AND %s > %s",
		g.selectColumns(), qualified(g, schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), strings.Join(parents, " OR "),
		g.QuoteIdentifier(storage.ColExpiry), g.Placeholder(storage.MaxParentKeys+2))
}

func (g generator) ListPartitions(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		g.QuoteIdentifier(storage.ColPartition), qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition))
}

func (g generator) CacheSizeBytes(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT ISNULL(SUM(DATALENGTH(%s)), 0) FROM %s", g.QuoteIdentifier(storage.ColValue), qualified(g, schemaName, tableName))
}

func (generator) VacuumStatement() string { return "" }

var _ storage.SQLGenerator = generator{}
