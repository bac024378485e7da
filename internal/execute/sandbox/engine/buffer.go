package engine

import (
	"bytes"
	"sync"
)

// limitedBuffer keeps at most limit bytes and reports overflow once.
// Writes past the limit are discarded but reported as written so the
// copying goroutine keeps draining the pipe until the process dies.
type limitedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int64
	exceeded bool
	onExceed func()
}

func newLimitedBuffer(limit int64, onExceed func()) *limitedBuffer {
	return &limitedBuffer{limit: limit, onExceed: onExceed}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	remaining := b.limit - int64(b.buf.Len())
	if int64(len(p)) <= remaining {
		b.buf.Write(p)
		b.mu.Unlock()
		return len(p), nil
	}
	if remaining > 0 {
		b.buf.Write(p[:remaining])
	}
	first := !b.exceeded
	b.exceeded = true
	b.mu.Unlock()
	if first && b.onExceed != nil {
		b.onExceed()
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}
