package download

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func TestNewLimiter(t *testing.T) {
	tests := []struct {
		bytesPerSec int64
		wantNil     bool
		wantBurst   int
	}{
		{0, true, 0},
		{-5, true, 0},
		{100, false, readChunk},
		{10 * 1024 * 1024, false, 10 * 1024 * 1024},
	}
	for _, tt := range tests {
		l := newLimiter(tt.bytesPerSec)
		if (l == nil) != tt.wantNil {
			t.Errorf("newLimiter(%d) nil = %v, want %v", tt.bytesPerSec, l == nil, tt.wantNil)
			continue
		}
		if l != nil && l.Burst() != tt.wantBurst {
			t.Errorf("newLimiter(%d).Burst() = %d, want %d", tt.bytesPerSec, l.Burst(), tt.wantBurst)
		}
	}
}

func TestThrottledReader_PassThrough(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1024)
	r := newThrottledReader(context.Background(), bytes.NewReader(data), nil)
	if _, ok := r.(*throttledReader); ok {
		t.Fatal("nil limiter should not wrap the reader")
	}
	got, _ := io.ReadAll(r)
	if !bytes.Equal(got, data) {
		t.Error("data mismatch")
	}
}

func TestThrottledReader_LimitsChunkSize(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 100000)
	r := newThrottledReader(context.Background(), bytes.NewReader(data), newLimiter(10*1024*1024))

	buf := make([]byte, 65536)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n > readChunk {
		t.Errorf("read %d bytes, want at most %d", n, readChunk)
	}

	rest, _ := io.ReadAll(r)
	if n+len(rest) != len(data) {
		t.Errorf("total read %d, want %d", n+len(rest), len(data))
	}
}

func TestThrottledReader_Cancelled(t *testing.T) {
	// The first chunk drains the burst, the second must wait ~3 minutes
	data := bytes.Repeat([]byte("z"), 2*readChunk)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := newThrottledReader(ctx, bytes.NewReader(data), newLimiter(100))
	start := time.Now()
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected error once the context expires")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512B",
		2048:            "2KiB",
		5 * 1024 * 1024: "5MiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
