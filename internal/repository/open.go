package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

// Connection defaults.
const (
	defaultSQLitePath   = "./kestrel.db"
	defaultPostgresHost = "localhost"
	defaultPostgresPort = 5432
	defaultPostgresDB   = "kestrel"
)

// openSQLite opens a pure Go (modernc.org/sqlite) database, creating its
// directory when needed.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return openAndPing("sqlite", sqliteDSN(path))
}

// sqliteDSN enables WAL and foreign keys; runs and their score rows are
// linked by run_id.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	return openAndPing("postgres", postgresDSN(cfg))
}

// postgresDSN builds a lib/pq URL, filling host, port, database and
// sslmode defaults.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = defaultPostgresHost
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = defaultPostgresPort
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = defaultPostgresDB
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}

func openAndPing(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}
