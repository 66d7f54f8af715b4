//go:build linux

package sandbox

import "golang.org/x/sys/unix"

// ApplyRlimits installs the resource caps of spec.md §4.6 step 1 before
// any user code runs: address-space cap from memoryMB, CPU-time soft cap
// of cpuSeconds (hard cap 5 seconds above it), core
// dumps disabled, and a zero file-size cap (the worker has no legitimate
// reason to create a file of any size). Mirrors
// python_executor.py::_execute_in_sandbox's resource.setrlimit calls
// (RLIMIT_AS, RLIMIT_CPU, RLIMIT_CORE) one for one, adding RLIMIT_FSIZE
// since spec.md's contract promises "no filesystem ... access" more
// strongly than the original did.
func ApplyRlimits(memoryMB, cpuSeconds int) error {
	if memoryMB > 0 {
		memBytes := uint64(memoryMB) * 1024 * 1024
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: memBytes, Max: memBytes}); err != nil {
			return err
		}
	}
	if cpuSeconds > 0 {
		cpu := uint64(cpuSeconds)
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu + 5}); err != nil {
			return err
		}
	}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0}); err != nil {
		return err
	}
	return unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: 0, Max: 0})
}
