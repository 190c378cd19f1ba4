package download

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// readChunk caps a single throttled read
const readChunk = 32 * 1024

// newLimiter returns nil for an unlimited rate. The burst is one second of
// traffic and never less than one read chunk, so WaitN always fits.
func newLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := readChunk
	if bytesPerSec > int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// throttledReader charges every read against a shared limiter
type throttledReader struct {
	ctx     context.Context
	reader  io.Reader
	limiter *rate.Limiter
}

// newThrottledReader returns r unchanged when limiter is nil
func newThrottledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, reader: r, limiter: limiter}
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	if len(p) > readChunk {
		p = p[:readChunk]
	}

	n, err := tr.reader.Read(p)
	if n > 0 {
		if waitErr := tr.limiter.WaitN(tr.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
