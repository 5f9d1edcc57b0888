package pkg

import (
	"io"

	"go.uber.org/multierr"
)

// CombinedWriter tees writes to all of its writers (log file + STDOUT).
// A failing writer does not stop the others; Write reports len(p) as long as one writer took
// the whole payload, together with every failure combined.
type CombinedWriter struct {
	writers []io.Writer
}

func NewCombinedWriter(writers ...io.Writer) *CombinedWriter {
	return &CombinedWriter{
		writers: append([]io.Writer{}, writers...),
	}
}

func (cw *CombinedWriter) Write(p []byte) (int, error) {
	var (
		errs      error
		delivered bool
	)
	for _, w := range cw.writers {
		n, err := w.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		delivered = true
	}

	if !delivered && len(cw.writers) > 0 {
		return 0, errs
	}
	return len(p), errs
}
