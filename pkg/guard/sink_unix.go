//go:build !windows

package guard

import "golang.org/x/sys/unix"

// stderrSink writes diagnostics straight to file descriptor 2. The raw
// write keeps the failure path clear of stdio buffering and locks.
type stderrSink struct{}

func (stderrSink) Write(p []byte) (int, error) {
	return unix.Write(2, p)
}
