//go:build linux

package sandbox

import (
	"fmt"

	"github.com/landlock-lsm/go-landlock/landlock"
	"golang.org/x/sys/unix"
)

// confine removes all filesystem and TCP access from the worker process.
// Already open descriptors (stdin/stdout/stderr) keep working. On kernels
// without Landlock the restriction degrades to a no-op.
func confine() error {
	if err := landlock.V5.BestEffort().RestrictPaths(); err != nil {
		return fmt.Errorf("restrict filesystem: %w", err)
	}
	if err := landlock.V5.BestEffort().RestrictNet(); err != nil {
		return fmt.Errorf("restrict network: %w", err)
	}
	return nil
}

// limitMemory caps the worker's writable private mappings at limit plus
// runtime headroom. Past the cap the Go runtime cannot map more heap and the
// process dies with "out of memory". The cap never rises above an existing
// hard limit.
func limitMemory(limit int64) error {
	if limit <= 0 {
		return nil
	}

	var current unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_DATA, &current); err != nil {
		return fmt.Errorf("read data limit: %w", err)
	}

	ceiling := uint64(limit) + runtimeHeadroomBytes
	if current.Max != unix.RLIM_INFINITY && ceiling > current.Max {
		ceiling = current.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_DATA, &unix.Rlimit{Cur: ceiling, Max: ceiling}); err != nil {
		return fmt.Errorf("set data limit: %w", err)
	}
	return nil
}
