//go:build windows

package process

import "golang.org/x/sys/windows"

// Windows has no SIGTERM; both paths terminate the process.
func terminateGroup(pid int) error { return terminate(pid) }

func killGroup(pid int) error { return terminate(pid) }

func terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		// already gone
		return nil
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.TerminateProcess(h, 1)
}
