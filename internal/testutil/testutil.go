// Package testutil provides in-process test backends: a Redis server, a
// mocked SQL store, an SSH endpoint with canned replies, and model
// fixtures. Everything runs inside the test process; no containers.
package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context with a reasonable timeout for tests.
// The cancel function is registered via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
