package cmd

import (
	"github.com/gofrs/flock"

	"github.com/spindle-dl/spindle/internal/config"
)

// instanceLock guards the state dir. Exactly one process may own the
// engine; everyone else talks to it over the API.
var instanceLock *flock.Flock

// AcquireLock tries to take the instance lock without blocking. It
// returns false when another spindle process already holds it.
func AcquireLock() (bool, error) {
	instanceLock = flock.New(config.GetLockPath())
	return instanceLock.TryLock()
}

// ReleaseLock gives the instance lock back.
func ReleaseLock() error {
	if instanceLock == nil {
		return nil
	}
	return instanceLock.Unlock()
}
