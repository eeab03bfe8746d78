package util

import "sync"

// ReadBufSize is the size of a single transport read.  It matches a
// typical TCP segment so that one read maps to one data callback.
const ReadBufSize = 1460

// BufPool provides reusable read buffers for connection read loops.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ReadBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
