// Package testing switches binaries into test mode when imported by test files.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testModeEnv mirrors app.TestModeEnv.
const testModeEnv = "REVIEWDESK_TEST_MODE"

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv(testModeEnv, "1")
		if os.Getenv("CSRF_SECRET") == "" {
			_ = os.Setenv("CSRF_SECRET", "test-csrf-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
