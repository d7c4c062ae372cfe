package storage

import (
	"sync"
	"time"
)

// bufferFrame holds one cached page guarded for concurrent reads and
// exclusive writes, plus the bookkeeping the pool needs to decide when
// it is safe to evict: how many callers currently hold it pinned,
// whether it diverges from disk, and when it was last touched.
type bufferFrame struct {
	mu       sync.RWMutex
	page     *Page
	pinCount int
	dirty    bool
	lastUsed time.Time
}

func newBufferFrame(page *Page) *bufferFrame {
	return &bufferFrame{page: page, pinCount: 1, lastUsed: time.Now()}
}

func (f *bufferFrame) touch() {
	f.mu.Lock()
	f.pinCount++
	f.lastUsed = time.Now()
	f.mu.Unlock()
}

func (f *bufferFrame) unpin(markDirty bool) {
	f.mu.Lock()
	if f.pinCount > 0 {
		f.pinCount--
	}
	if markDirty {
		f.dirty = true
	}
	f.mu.Unlock()
}

func (f *bufferFrame) snapshot() (page *Page, dirty bool, pinCount int, lastUsed time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.page, f.dirty, f.pinCount, f.lastUsed
}
