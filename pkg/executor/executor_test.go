package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/netraven-io/netraven/internal/testutil"
	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/crypto"
	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/registry"
)

// captureLog collects pipeline records in memory for assertions
type captureLog struct {
	mu      sync.Mutex
	records []*model.LogRecord
}

func (c *captureLog) InsertLogRecord(_ context.Context, record *model.LogRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
	return nil
}

func (c *captureLog) byType(lt model.LogType) []*model.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.LogRecord
	for _, r := range c.records {
		if r.LogType == lt {
			out = append(out, r)
		}
	}
	return out
}

func (c *captureLog) contains(lt model.LogType, substr string) bool {
	for _, r := range c.byType(lt) {
		if strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

// scriptedModule passes the registration probe and delegates real runs
type scriptedModule struct {
	calls []registry.RunInput
	run   func(in registry.RunInput) *model.JobResult
}

func (m *scriptedModule) Meta() registry.Meta { return registry.Meta{Label: "Scripted"} }

func (m *scriptedModule) Run(ctx context.Context, in registry.RunInput) *model.JobResult {
	if in.IsProbe() {
		return model.NewJobResult(in.JobID, in.Device.Device.ID, true)
	}
	m.calls = append(m.calls, in)
	return m.run(in)
}

func successModule() *scriptedModule {
	return &scriptedModule{run: func(in registry.RunInput) *model.JobResult {
		return model.NewJobResult(in.JobID, in.Device.Device.ID, true)
	}}
}

// authFailure builds the result a module reports when a credential is
// rejected by the device
func authFailure(in registry.RunInput) *model.JobResult {
	result := model.NewJobResult(in.JobID, in.Device.Device.ID, false)
	result.Err = &driver.Error{Kind: driver.ErrAuth, Device: in.Device.Device.Hostname}
	result.Details[model.DetailError] = result.Err.Error()
	result.Details[model.DetailErrorType] = driver.ClassOf(result.Err)
	return result
}

func newTestExecutor(t *testing.T, mod registry.Module, settings map[string]interface{}) (*Executor, sqlmock.Sqlmock, *captureLog) {
	t.Helper()
	config.SetValue("logging.stdout.enabled", false)
	config.SetValue("crypto.enable", false)
	for key, value := range settings {
		config.SetValue(key, value)
	}
	t.Cleanup(config.Reset)

	s, mock := testutil.MockStore(t)
	capture := &captureLog{}
	logs, err := logpipe.New(capture)
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}
	t.Cleanup(func() { logs.Close() })

	reg := registry.New()
	if mod != nil {
		reg.MustRegister("scripted", mod)
	}
	cipher, err := crypto.NewCipher()
	if err != nil {
		t.Fatalf("building cipher: %v", err)
	}
	return New(s, reg, nil, cipher, logs), mock, capture
}

func plainCredential(id int64, username, password string, priority int) *model.Credential {
	c := testutil.Credential(id, username, priority)
	c.PasswordEncrypted = password
	return c
}

func expectAttempt(mock sqlmock.Sqlmock, credID int64, success bool) {
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO credential_attempts \(credential_id, device_id, job_id, success, error\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs(credID, int64(10), int64(1), success, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	counter := `UPDATE credentials SET success_count = success_count \+ 1, last_used = now\(\) WHERE id = \$1`
	if !success {
		counter = `UPDATE credentials SET failure_count = failure_count \+ 1 WHERE id = \$1`
	}
	mock.ExpectExec(counter).
		WithArgs(credID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectResult(mock sqlmock.Sqlmock, success bool) {
	mock.ExpectExec(`INSERT INTO job_results \(job_id, device_id, success, details\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(int64(1), int64(10), success, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func runInput(creds ...*model.Credential) Input {
	if creds == nil {
		creds = []*model.Credential{}
	}
	return Input{
		Job:         testutil.Job(1, "scripted"),
		Device:      testutil.Device(10, "10.0.0.2"),
		Credentials: creds,
	}
}

func TestHandleDeviceSuccess(t *testing.T) {
	mod := successModule()
	e, mock, logs := newTestExecutor(t, mod, nil)
	expectAttempt(mock, 100, true)
	expectResult(mock, true)

	result, err := e.HandleDevice(context.Background(), runInput(
		plainCredential(100, "admin", "pw-a", 10)))
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(mod.calls) != 1 {
		t.Fatalf("module called %d times, want 1", len(mod.calls))
	}
	if got := mod.calls[0].Device.Password; got != "pw-a" {
		t.Errorf("module received password %q, want %q", got, "pw-a")
	}
	if mod.calls[0].Store == nil {
		t.Error("module received no store on a real run")
	}

	if n := len(logs.byType(model.LogTypeJob)); n != 2 {
		t.Errorf("job log records = %d, want 2 (start and end)", n)
	}
	if n := len(logs.byType(model.LogTypeConnection)); n != 2 {
		t.Errorf("connection log records = %d, want 2", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceCredentialFallback(t *testing.T) {
	mod := &scriptedModule{}
	mod.run = func(in registry.RunInput) *model.JobResult {
		if in.Device.Credential.ID == 100 {
			return authFailure(in)
		}
		return model.NewJobResult(in.JobID, in.Device.Device.ID, true)
	}
	e, mock, logs := newTestExecutor(t, mod, nil)
	expectAttempt(mock, 100, false)
	expectAttempt(mock, 101, true)
	expectResult(mock, true)

	result, err := e.HandleDevice(context.Background(), runInput(
		plainCredential(100, "admin", "pw-a", 10),
		plainCredential(101, "backup", "pw-b", 20)))
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(mod.calls) != 2 {
		t.Fatalf("module called %d times, want 2", len(mod.calls))
	}
	if got := mod.calls[1].Device.Password; got != "pw-b" {
		t.Errorf("second attempt password = %q, want %q", got, "pw-b")
	}

	conns := logs.byType(model.LogTypeConnection)
	if len(conns) != 4 {
		t.Errorf("connection log records = %d, want 4", len(conns))
	}
	if !logs.contains(model.LogTypeConnection, "credential 100 (admin) failed") {
		t.Error("missing failure record for credential 100")
	}
	if !logs.contains(model.LogTypeConnection, "credential 101 (backup) succeeded") {
		t.Error("missing success record for credential 101")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceUnknownJobType(t *testing.T) {
	e, mock, logs := newTestExecutor(t, nil, nil)
	expectResult(mock, false)

	in := runInput(plainCredential(100, "admin", "pw-a", 10))
	in.Job = testutil.Job(1, "missing")
	result, err := e.HandleDevice(context.Background(), in)
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if result.Success || result.Retriable {
		t.Fatalf("result = %+v", result)
	}
	if got := result.Details[model.DetailErrorType]; got != model.ErrorTypeUnknownJobType {
		t.Errorf("error_type = %v, want %s", got, model.ErrorTypeUnknownJobType)
	}
	if !logs.contains(model.LogTypeJob, "failed") {
		t.Error("missing failure job log")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceNoCredentials(t *testing.T) {
	mod := successModule()
	e, mock, _ := newTestExecutor(t, mod, nil)
	expectResult(mock, false)

	result, err := e.HandleDevice(context.Background(), runInput())
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if got := result.Details[model.DetailErrorType]; got != model.ErrorTypeNoCredentials {
		t.Errorf("error_type = %v, want %s", got, model.ErrorTypeNoCredentials)
	}
	if len(mod.calls) != 0 {
		t.Errorf("module called %d times with no credentials", len(mod.calls))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceResolvesCredentials(t *testing.T) {
	mod := successModule()
	e, mock, _ := newTestExecutor(t, mod, nil)

	rows := sqlmock.NewRows([]string{"id", "username", "password_encrypted", "priority"}).
		AddRow(100, "admin", "pw-a", 10)
	mock.ExpectQuery(`SELECT DISTINCT c\.\* FROM credentials c`).
		WithArgs(int64(10)).
		WillReturnRows(rows)
	expectAttempt(mock, 100, true)
	expectResult(mock, true)

	in := runInput()
	in.Credentials = nil
	result, err := e.HandleDevice(context.Background(), in)
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if got := mod.calls[0].Device.Credential.Username; got != "admin" {
		t.Errorf("resolved credential username = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceInvalidResult(t *testing.T) {
	mod := &scriptedModule{run: func(in registry.RunInput) *model.JobResult {
		return nil
	}}
	e, mock, logs := newTestExecutor(t, mod, nil)
	expectResult(mock, false)

	result, err := e.HandleDevice(context.Background(), runInput(
		plainCredential(100, "admin", "pw-a", 10),
		plainCredential(101, "backup", "pw-b", 20)))
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if got := result.Details[model.DetailErrorType]; got != model.ErrorTypeInvalidResult {
		t.Errorf("error_type = %v, want %s", got, model.ErrorTypeInvalidResult)
	}
	if result.Retriable {
		t.Error("contract violations are not retriable")
	}
	if len(mod.calls) != 1 {
		t.Errorf("module called %d times, want 1 (violation stops the loop)", len(mod.calls))
	}
	if !logs.contains(model.LogTypeJob, "invalid result") {
		t.Error("missing loader-style error log")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceSessionErrorStopsLoop(t *testing.T) {
	mod := &scriptedModule{}
	mod.run = func(in registry.RunInput) *model.JobResult {
		result := model.NewJobResult(in.JobID, in.Device.Device.ID, false)
		result.Err = &driver.Error{Kind: driver.ErrSession, Device: in.Device.Device.Hostname}
		result.Details[model.DetailError] = result.Err.Error()
		result.Details[model.DetailErrorType] = driver.ClassOf(result.Err)
		return result
	}
	e, mock, _ := newTestExecutor(t, mod, nil)
	expectAttempt(mock, 100, false)
	expectResult(mock, false)

	result, err := e.HandleDevice(context.Background(), runInput(
		plainCredential(100, "admin", "pw-a", 10),
		plainCredential(101, "backup", "pw-b", 20)))
	if err != nil {
		t.Fatalf("HandleDevice() error = %v", err)
	}
	if result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(mod.calls) != 1 {
		t.Errorf("module called %d times, want 1 (session errors fail every credential)", len(mod.calls))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleDeviceStorageError(t *testing.T) {
	mod := successModule()
	e, mock, _ := newTestExecutor(t, mod, nil)
	expectAttempt(mock, 100, true)
	mock.ExpectExec(`INSERT INTO job_results`).
		WillReturnError(errors.New("connection reset"))

	result, err := e.HandleDevice(context.Background(), runInput(
		plainCredential(100, "admin", "pw-a", 10)))
	if err == nil {
		t.Fatal("HandleDevice() should surface result storage failures")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on storage failure", result)
	}
}

func TestHandleDeviceDecryptFailure(t *testing.T) {
	const key = "0123456789abcdef"
	encrypted, err := crypto.Encrypt([]byte("pw-b"), []byte(key))
	if err != nil {
		t.Fatal(err)
	}

	mod := successModule()
	e, mock, logs := newTestExecutor(t, mod, map[string]interface{}{
		"crypto.enable": true,
		"crypto.key":    key,
	})
	expectAttempt(mock, 101, true)
	expectResult(mock, true)

	result, herr := e.HandleDevice(context.Background(), runInput(
		plainCredential(100, "admin", "!!corrupt!!", 10),
		plainCredential(101, "backup", encrypted, 20)))
	if herr != nil {
		t.Fatalf("HandleDevice() error = %v", herr)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if len(mod.calls) != 1 {
		t.Fatalf("module called %d times, want 1", len(mod.calls))
	}
	if got := mod.calls[0].Device.Password; got != "pw-b" {
		t.Errorf("module received password %q, want %q", got, "pw-b")
	}
	if !logs.contains(model.LogTypeConnection, "decrypt failed") {
		t.Error("missing decrypt failure connection log")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
