// Package oracle implements the storage.Dialect for Oracle Database via
// the pure-Go sijms/go-ora/v2 driver, using the MERGE INTO ... USING
// DUAL upsert idiom.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"

	"github.com/kvlite/kvlite/internal/storage"
)

func init() {
	storage.RegisterBackend("oracle", func() storage.Dialect { return Dialect{} })
}

// Dialect implements storage.Dialect for Oracle.
type Dialect struct{}

// Name implements storage.Dialect.
func (Dialect) Name() string { return "oracle" }

// Open implements storage.Dialect.
func (Dialect) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	return sql.Open("oracle", dsn)
}

// Generator implements storage.Dialect.
func (Dialect) Generator() storage.SQLGenerator { return generator{} }

// IsForeignKeyViolation implements storage.Dialect. ORA-02291: integrity
// constraint violated - parent key not found.
func (Dialect) IsForeignKeyViolation(err error) bool {
	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		return oraErr.ErrCode == 2291
	}
	return strings.Contains(errString(err), "ORA-02291")
}

// IsTransient implements storage.Dialect. ORA-00054 (resource busy),
// ORA-12170/ORA-12541 (connection/listener), ORA-03113/ORA-03114
// (connection lost) are treated as retryable.
func (Dialect) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := errString(err)
	for _, code := range []string{"ORA-00054", "ORA-12170", "ORA-12541", "ORA-03113", "ORA-03114", "ORA-12514"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ storage.Dialect = Dialect{}
