package buffer

import (
	"bytes"
	"sync"
)

const (
	// initial capacity of pooled buffers, enough for typical game messages
	defaultSize = 4096

	// buffers grown past this are dropped instead of pooled
	maxPooledSize = 64 * 1024
)

// Pool recycles message assembly buffers
var Pool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, defaultSize))
	},
}

// Get retrieves an empty buffer from the pool
func Get() *bytes.Buffer {
	buf := Pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. The caller must not use it afterwards.
func Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledSize {
		return
	}
	Pool.Put(buf)
}
