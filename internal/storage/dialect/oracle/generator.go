package oracle

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kvlite/kvlite/internal/storage"
)

type generator struct{}

func (generator) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(strings.ToUpper(name), `"`, `""`) + `"`
}

func (generator) Placeholder(pos int) string { return ":" + strconv.Itoa(pos) }

func qualified(g generator, schemaName, tableName string) string {
	if schemaName == "" {
		return g.QuoteIdentifier(tableName)
	}
	return g.QuoteIdentifier(schemaName) + "." + g.QuoteIdentifier(tableName)
}

func (g generator) CreateTableDDL(schemaName, tableName string) []string {
	table := qualified(g, schemaName, tableName)
	cols := []string{
		g.QuoteIdentifier(storage.ColID) + " VARCHAR2(36)",
		g.QuoteIdentifier(storage.ColPartition) + " VARCHAR2(255) NOT NULL",
		g.QuoteIdentifier(storage.ColKey) + " VARCHAR2(255) NOT NULL",
		g.QuoteIdentifier(storage.ColExpiry) + " NUMBER(19) NOT NULL",
		g.QuoteIdentifier(storage.ColInterval) + " NUMBER(19) NOT NULL",
		g.QuoteIdentifier(storage.ColValue) + " BLOB NOT NULL",
		g.QuoteIdentifier(storage.ColCompressed) + " NUMBER(1) NOT NULL",
		g.QuoteIdentifier(storage.ColCreation) + " NUMBER(19) NOT NULL",
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		cols = append(cols, g.QuoteIdentifier(storage.ColParent(i))+" VARCHAR2(255) NULL")
	}

	var fks []string
	for i := 0; i < storage.MaxParentKeys; i++ {
		fks = append(fks, fmt.Sprintf(
			"CONSTRAINT %s FOREIGN KEY (%s, %s) REFERENCES %s (%s, %s) ON DELETE CASCADE",
			g.QuoteIdentifier(fmt.Sprintf("fk_%s_p%d", tableName, i)),
			g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColParent(i)),
			table, g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		))
	}

	create := fmt.Sprintf(
		"CREATE TABLE %s (\n  %s,\n  CONSTRAINT %s PRIMARY KEY (%s, %s),\n  %s\n)",
		table,
		strings.Join(cols, ",\n  "),
		g.QuoteIdentifier("pk_"+tableName),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey),
		strings.Join(fks, ",\n  "),
	)

	index := fmt.Sprintf(
		"CREATE INDEX %s ON %s (%s DESC, %s ASC)",
		g.QuoteIdentifier("idx_"+tableName+"_exp"),
		table,
		g.QuoteIdentifier(storage.ColExpiry), g.QuoteIdentifier(storage.ColPartition),
	)

	return []string{create, index}
}

// ColumnIntrospectionQuery queries USER_TAB_COLUMNS (the caller's own
// schema) rather than ALL_TAB_COLUMNS when no schema name is configured,
// so the check only sees tables the configured credentials own.
func (g generator) ColumnIntrospectionQuery(schemaName, tableName string) (string, []any) {
	if schemaName == "" {
		return "SELECT COLUMN_NAME FROM USER_TAB_COLUMNS WHERE TABLE_NAME = :1", []any{strings.ToUpper(tableName)}
	}
	return "SELECT COLUMN_NAME FROM ALL_TAB_COLUMNS WHERE OWNER = :1 AND TABLE_NAME = :2", []any{strings.ToUpper(schemaName), strings.ToUpper(tableName)}
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

	srcCols := make([]string, len(cols))
	for i, c := range cols {
		srcCols[i] = g.Placeholder(i+1) + " AS " + g.QuoteIdentifier(c)
	}

	updateSet := []string{
		"t." + g.QuoteIdentifier(storage.ColID) + " = src." + g.QuoteIdentifier(storage.ColID),
		"t." + g.QuoteIdentifier(storage.ColExpiry) + " = src." + g.QuoteIdentifier(storage.ColExpiry),
		"t." + g.QuoteIdentifier(storage.ColInterval) + " = src." + g.QuoteIdentifier(storage.ColInterval),
		"t." + g.QuoteIdentifier(storage.ColValue) + " = src." + g.QuoteIdentifier(storage.ColValue),
		"t." + g.QuoteIdentifier(storage.ColCompressed) + " = src." + g.QuoteIdentifier(storage.ColCompressed),
	}
	for i := 0; i < storage.MaxParentKeys; i++ {
		col := g.QuoteIdentifier(storage.ColParent(i))
		updateSet = append(updateSet, "t."+col+" = src."+col)
	}

	insertCols := make([]string, len(cols))
	insertVals := make([]string, len(cols))
	for i, c := range cols {
		insertCols[i] = g.QuoteIdentifier(c)
		insertVals[i] = "src." + g.QuoteIdentifier(c)
	}

	return fmt.Sprintf(
		"MERGE INTO %s t\nUSING (SELECT %s FROM DUAL) src\nON (t.%s = src.%s AND t.%s = src.%s)\nWHEN MATCHED THEN UPDATE SET %s\nWHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		table, strings.Join(srcCols, ", "),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColPartition),
		g.QuoteIdentifier(storage.ColKey), g.QuoteIdentifier(storage.ColKey),
		strings.Join(updateSet, ", "),
		strings.Join(insertCols, ", "), strings.Join(insertVals, ", "),
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
	return fmt.Sprintf("DELETE FROM %s WHERE %s = :1 AND %s = :2",
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
	return fmt.Sprintf("UPDATE %s SET %s = :1 WHERE %s = :2 AND %s = :3",
		qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColExpiry),
		g.QuoteIdentifier(storage.ColPartition), g.QuoteIdentifier(storage.ColKey))
}

func (g generator) ContainsEntry(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = :1 AND %s = :2 AND %s > :3 AND ROWNUM = 1",
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
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = :1 AND %s = :2 AND %s > :3",
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
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = :1 AND (%s) AND %s > %s",
		g.selectColumns(), qualified(g, schemaName, tableName),
		g.QuoteIdentifier(storage.ColPartition), strings.Join(parents, " OR "),
		g.QuoteIdentifier(storage.ColExpiry), g.Placeholder(storage.MaxParentKeys+2))
}

func (g generator) ListPartitions(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		g.QuoteIdentifier(storage.ColPartition), qualified(g, schemaName, tableName), g.QuoteIdentifier(storage.ColPartition))
}

func (g generator) CacheSizeBytes(schemaName, tableName string) string {
	return fmt.Sprintf("SELECT NVL(SUM(DBMS_LOB.GETLENGTH(%s)), 0) FROM %s", g.QuoteIdentifier(storage.ColValue), qualified(g, schemaName, tableName))
}

func (generator) VacuumStatement() string { return "" }

var _ storage.SQLGenerator = generator{}
