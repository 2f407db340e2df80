// Package store is the persistence layer: devices, credentials, tags, jobs,
// results, unified logs, and configuration snapshots on PostgreSQL.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"reflect"
	"strings"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pressly/goose/v3"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/util"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the database connection pool. All query methods hang off it.
type Store struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL using the configured settings and applies
// pool tuning.
func Open() (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s password=%s sslmode=%s",
		config.GetDBHost(), config.GetDBPort(), config.GetDBUser(),
		config.GetDBName(), config.GetDBPassword(), config.GetDBSslMode())

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect db %s: %w", config.GetDBName(), err)
	}
	if n := config.GetDBMaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := config.GetDBMaxIdleConns(); n > 0 {
		db.SetMaxIdleConns(n)
	}
	db.SetConnMaxIdleTime(config.GetDBMaxIdleTime())
	db.SetConnMaxLifetime(config.GetDBMaxLifetime())

	util.Infof("connected to database %s on %s", config.GetDBName(), config.GetDBHost())
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db.Unsafe()}
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies embedded schema migrations
func (s *Store) Migrate() error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(s.db.DB, "migrations")
}

// builder is the shared squirrel statement builder with $N placeholders.
var builder = sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)

// generateCommand builds an INSERT command from a struct's db tags, skipping
// fields whose tag appears in ignoreTags. format carries %s slots for the
// column list and the named-value list.
func generateCommand(obj interface{}, format string, ignoreTags ...string) string {
	skip := make(map[string]bool, len(ignoreTags)+1)
	skip["-"] = true
	for _, tag := range ignoreTags {
		skip[tag] = true
	}
	t := reflect.TypeOf(obj)
	columns := make([]string, 0, t.NumField())
	values := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || skip[tag] {
			continue
		}
		columns = append(columns, tag)
		values = append(values, ":"+tag)
	}
	return fmt.Sprintf(format, strings.Join(columns, ", "), strings.Join(values, ", "))
}

// NullString converts a string to sql.NullString.
func NullString(str string) sql.NullString {
	if str == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: str, Valid: true}
}
