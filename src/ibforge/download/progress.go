package download

import (
	"os"
	"time"

	"github.com/docker/go-units"
	"golang.org/x/term"
)

// progressInterval throttles progress log lines
const progressInterval = 2 * time.Second

// newProgressLogger returns a callback that logs transfer progress every
// progressInterval. Progress goes to info when stderr is a terminal and to
// debug otherwise, keeping service logs quiet.
func newProgressLogger(name string) ProgressCallback {
	interactive := term.IsTerminal(int(os.Stderr.Fd()))
	last := time.Now()

	return func(received, total int64) {
		now := time.Now()
		if now.Sub(last) < progressInterval {
			return
		}
		last = now

		fields := []interface{}{"file", name, "received", formatBytes(received)}
		if total > 0 {
			fields = append(fields, "total", formatBytes(total), "percent", received*100/total)
		}
		if interactive {
			log.Info("Downloading", fields...)
		} else {
			log.Debug("Downloading", fields...)
		}
	}
}

// formatBytes renders a size in binary units, e.g. 1.5MiB
func formatBytes(n int64) string {
	return units.BytesSize(float64(n))
}
