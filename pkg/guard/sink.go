package guard

import (
	"io"
	"sync"
)

// The diagnostic sink receives one line per abort-family violation, just
// before the panic. Writes are best effort: errors are ignored and a
// panicking sink does not displace the violation being raised.
var (
	sinkMu sync.Mutex
	sink   io.Writer = stderrSink{}
)

// SetSink replaces the diagnostic sink and returns the previous one, so
// callers can restore it. Tests use this to capture diagnostics;
// embedding processes use it to redirect them. A nil sink discards.
func SetSink(w io.Writer) io.Writer {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	prev := sink
	sink = w
	return prev
}

// emit writes one diagnostic line to the sink.
func emit(line []byte) {
	defer func() {
		_ = recover()
	}()
	sinkMu.Lock()
	w := sink
	sinkMu.Unlock()
	if w != nil {
		_, _ = w.Write(line)
	}
}
