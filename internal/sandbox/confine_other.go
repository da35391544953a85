//go:build !linux

package sandbox

// confine is a no-op outside Linux. The interpreter exposes no filesystem or
// network bindings, so the worker still has no way to reach either.
func confine() error {
	return nil
}

// limitMemory is a no-op outside Linux; the heap watchdog is the only bound.
func limitMemory(limit int64) error {
	return nil
}
