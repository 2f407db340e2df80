package testutil

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/netraven-io/netraven/pkg/store"
)

// MockStore returns a Store backed by sqlmock for exercising collaborators
// that take the full store. Packages testing query shapes keep their own
// harness; this one is for callers that only need writes to succeed.
func MockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewWithDB(sqlx.NewDb(db, "postgres")), mock
}
