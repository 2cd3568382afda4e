package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
})

// InTestMode reports whether binaries should return before dialling
// Postgres or Redis. The testing package turns it on for every test binary.
func InTestMode() bool {
	return testMode()
}
