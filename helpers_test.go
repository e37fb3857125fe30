package routine

import (
	"context"
	"testing"
	"time"
)

// testCtx returns a context bounded to the test's lifetime plus a generous
// shutdown grace period, used by every test that calls Engine.Shutdown.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
