// Package testing is imported for its side effects by every test binary: it
// switches the process into test mode and fills the settings LoadConfig
// requires.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var defaults = map[string]string{
	"ODYSSEY_TEST_MODE": "1",
	"CSRF_SECRET":       "test-csrf-secret",
	"AUTHZ_NAMESPACE":   "test",
	"LOG_LEVEL":         "warn",
}

var apply = sync.OnceFunc(func() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
})

func init() {
	apply()
}

// TestMain can be delegated to from packages that declare their own.
func TestMain(m *stdtesting.M) {
	apply()
	os.Exit(m.Run())
}
