// Package catalog is the relational record of matters, documents, index stores and chat turns.
package catalog

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("catalog: duplicate record")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("catalog: record not found")
)

// Catalog wraps the shared database handle.
type Catalog struct {
	db *sql.DB
}

func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// DB exposes the underlying handle for callers that need raw access (tests, migrations).
func (c *Catalog) DB() *sql.DB {
	return c.db
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
