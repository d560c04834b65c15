//go:build !windows

package app

import (
	"errors"
	"syscall"
)

// processExists is the liveness probe behind claimPIDFile: it decides
// whether a PID file names a running procgate or a leftover from a
// crash. Signal 0 checks existence without delivering anything; EPERM
// means the pid is alive but owned by someone else, which still blocks
// the claim.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
