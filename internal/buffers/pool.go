// Package buffers provides reusable byte buffers for reading chunk response
// bodies. Pooling the per-chunk buffers keeps GC pressure low when many
// chunks are in flight concurrently.
package buffers

import (
	"bytes"
	"sync"
)

// maxPooledSize caps how large a buffer may be when returned to the pool.
// Chunks are normally a few megabytes; a buffer that grew far beyond that
// (for example from a misconfigured chunk size) is dropped instead of pinned.
const maxPooledSize = 64 * 1024 * 1024

var pool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// Get retrieves an empty buffer from the pool.
// The buffer must be returned with Put when its contents are no longer used.
func Get() *bytes.Buffer {
	return pool.Get().(*bytes.Buffer)
}

// Put resets the buffer and returns it to the pool for reuse.
// The buffer and any slice obtained from it must not be used after this call.
func Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledSize {
		return
	}
	buf.Reset()
	pool.Put(buf)
}
