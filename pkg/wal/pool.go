package wal

import "sync"

// lineBufferPool reuses the byte buffers used to marshal and append a
// single WAL line, avoiding an allocation per commit under load (same
// motivation as the teacher's buffer pool, now sized for JSON lines
// instead of fixed binary headers).
var lineBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 4096)
		return &buf
	},
}

func acquireLineBuffer() *[]byte {
	return lineBufferPool.Get().(*[]byte)
}

func releaseLineBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	lineBufferPool.Put(buf)
}
