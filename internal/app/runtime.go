package app

import "os"

// TestModeEnv names the flag that keeps binaries from starting under go test.
const TestModeEnv = "REVIEWDESK_TEST_MODE"

// InTestMode reports whether the binaries should skip runtime side effects.
func InTestMode() bool {
	return os.Getenv(TestModeEnv) == "1"
}
