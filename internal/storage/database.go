package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"casedocs/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType (sqlite3 or mysql).
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = OpenSQLite(dbCfg.DSN)
		if err != nil {
			return nil, err
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			mysqlParams(dbCfg.Params),
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a sqlite database with foreign keys enforced on every connection.
// In-memory databases are pinned to a single connection so every query sees the same schema.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func sqliteDSN(dsn string) string {
	var extra []string
	if !strings.Contains(dsn, "_foreign_keys=") && !strings.Contains(dsn, "_fk=") {
		extra = append(extra, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout=") && !strings.Contains(dsn, "_timeout=") {
		extra = append(extra, "_busy_timeout=5000")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}

// mysqlParams forces parseTime so DATETIME columns scan into time.Time.
func mysqlParams(params string) string {
	if strings.Contains(params, "parseTime=") {
		return params
	}
	if params == "" {
		return "parseTime=true"
	}
	return params + "&parseTime=true"
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	stmts, err := schema(driver)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// schema returns the DDL for driver. InnoDB caps an index at 3072 bytes and utf8mb4
// spends 4 bytes per character, so mysql key columns must stay within 768 characters.
func schema(driver string) ([]string, error) {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS matters (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				matter_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				file_size INTEGER NOT NULL,
				sha256 TEXT NOT NULL,
				doc_type TEXT NOT NULL,
				storage_bucket TEXT NOT NULL,
				storage_path TEXT NOT NULL,
				index_file_name TEXT,
				index_file_uri TEXT,
				indexed_at DATETIME,
				uploaded_by TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE(matter_id, sha256),
				UNIQUE(storage_bucket, storage_path),
				FOREIGN KEY(matter_id) REFERENCES matters(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_matter ON documents(matter_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS matter_stores (
				matter_id TEXT PRIMARY KEY,
				store_name TEXT NOT NULL,
				display_name TEXT NOT NULL,
				backend TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(matter_id) REFERENCES matters(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				matter_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				user_id TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(matter_id) REFERENCES matters(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_matter ON chat_messages(matter_id, created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS matters (
				id CHAR(36) NOT NULL,
				title VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS documents (
				id CHAR(36) NOT NULL,
				matter_id CHAR(36) NOT NULL,
				file_name VARCHAR(512) NOT NULL,
				mime_type VARCHAR(255) NOT NULL,
				file_size BIGINT NOT NULL,
				sha256 CHAR(64) NOT NULL,
				doc_type VARCHAR(50) NOT NULL,
				storage_bucket VARCHAR(255) NOT NULL,
				storage_path VARCHAR(512) NOT NULL,
				index_file_name VARCHAR(512),
				index_file_uri TEXT,
				indexed_at DATETIME(6),
				uploaded_by VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_documents_matter_sha (matter_id, sha256),
				UNIQUE KEY uniq_documents_location (storage_bucket, storage_path),
				INDEX idx_documents_matter (matter_id, created_at),
				CONSTRAINT fk_documents_matter FOREIGN KEY (matter_id) REFERENCES matters(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS matter_stores (
				matter_id CHAR(36) NOT NULL,
				store_name VARCHAR(512) NOT NULL,
				display_name VARCHAR(255) NOT NULL,
				backend VARCHAR(50) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (matter_id),
				CONSTRAINT fk_matter_stores_matter FOREIGN KEY (matter_id) REFERENCES matters(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				matter_id CHAR(36) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				user_id VARCHAR(255),
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_chat_messages_matter (matter_id, created_at),
				CONSTRAINT fk_chat_messages_matter FOREIGN KEY (matter_id) REFERENCES matters(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return nil, fmt.Errorf("unsupported driver for migration: %s", driver)
	}
	return stmts, nil
}
