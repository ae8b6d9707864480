//go:build windows

package guard

import "os"

// stderrSink writes diagnostics to standard error.
type stderrSink struct{}

func (stderrSink) Write(p []byte) (int, error) {
	return os.Stderr.Write(p)
}
