//go:build wasip1

package guest

// The WASI clock is not reliable in every runtime, so the guest asks the host.

import (
	"time"
)

//go:wasmimport env clock_now
func clock_now() int64

// Now is the host's wall clock.
func Now() time.Time {
	return time.Unix(0, clock_now())
}

func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
