package util

import (
	"bytes"
	"sync"
)

// maxPooledBuffer keeps one oversized frame from pinning memory in the
// pool forever.
const maxPooledBuffer = 1 << 20

// bufferPool provides reusable buffers for frame encoding, reducing GC
// pressure on the per-message send path.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves an empty buffer from the pool.  Callers must
// return it with [PutBuffer] when finished.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool for reuse.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}
