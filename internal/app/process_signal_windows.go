//go:build windows

package app

import "golang.org/x/sys/windows"

const windowsStillActiveExitCode = 259

// processExists is the liveness probe behind claimPIDFile. Windows has
// no signal 0, so the pid is opened with the narrowest query right and
// checked for the STILL_ACTIVE pseudo exit code.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == windowsStillActiveExitCode
}
