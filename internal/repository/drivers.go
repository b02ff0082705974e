package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// driver binds a config driver name to its database/sql driver, DSN and
// migration dialect.
type driver struct {
	sqlName string
	dialect goose.Dialect
	dsn     func(domain.RepositoryConfig) (string, error)
}

var drivers = map[string]driver{
	"sqlite":   {sqlName: "sqlite", dialect: goose.DialectSQLite3, dsn: sqliteDSN},
	"postgres": {sqlName: "postgres", dialect: goose.DialectPostgres, dsn: postgresDSN},
}

// sqlitePragmas favour concurrent feedback appends from the API and the
// retrain worker in one file.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN uses modernc.org/sqlite, so no cgo is required. The parent
// directory is created on demand.
func sqliteDSN(cfg domain.RepositoryConfig) (string, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}
	q := url.Values{"_pragma": sqlitePragmas}
	return "file:" + path + "?" + q.Encode(), nil
}

func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	name := cfg.PostgresDB
	if name == "" {
		name = "kestrel"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String(), nil
}

// open connects with d and verifies the connection.
func (d driver) open(ctx context.Context, cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := d.dsn(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.sqlName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}
