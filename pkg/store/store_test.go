package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"gotest.tools/assert"

	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/util"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres")), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetDevice(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "hostname", "ip_address", "device_type", "port", "source"}).
		AddRow(10, "sw1", "10.0.0.2", "cisco_ios", 22, "local")
	mock.ExpectQuery(`SELECT \* FROM devices WHERE id = \$1`).
		WithArgs(int64(10)).
		WillReturnRows(rows)

	device, err := s.GetDevice(context.Background(), 10)
	assert.NilError(t, err)
	assert.Equal(t, "sw1", device.Hostname)
	assert.Equal(t, 22, device.Port)
	expectationsMet(t, mock)
}

func TestGetDeviceNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM devices WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetDevice(context.Background(), 99)
	assert.Assert(t, errors.Is(err, util.ErrNotFound))
	expectationsMet(t, mock)
}

func TestListDevicesByTags(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "hostname", "ip_address"}).
		AddRow(10, "sw1", "10.0.0.2").
		AddRow(11, "sw2", "10.0.0.3")
	mock.ExpectQuery(`SELECT DISTINCT d\.\* FROM devices d JOIN device_tags dt ON dt\.device_id = d\.id WHERE dt\.tag_id IN \(\$1,\$2\) ORDER BY d\.id ASC`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(rows)

	devices, err := s.ListDevicesByTags(context.Background(), []int64{1, 2})
	assert.NilError(t, err)
	assert.Equal(t, 2, len(devices))
	assert.Equal(t, int64(10), devices[0].ID)
	expectationsMet(t, mock)
}

func TestListDevicesByTagsEmpty(t *testing.T) {
	s, _ := newMockStore(t)

	devices, err := s.ListDevicesByTags(context.Background(), nil)
	assert.NilError(t, err)
	assert.Equal(t, 0, len(devices))
}

func TestEnsureDefaultTag(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO tags \(name, type\) VALUES \(\$1, 'system'\) ON CONFLICT \(name\) DO NOTHING`).
		WithArgs(model.DefaultTagName).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NilError(t, s.EnsureDefaultTag(context.Background()))
	expectationsMet(t, mock)
}
