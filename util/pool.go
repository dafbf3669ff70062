package util

import "sync"

// bufPool hands out DefaultBufSize byte slices for copy loops so that
// long-lived echo sessions do not allocate per read.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool.  Buffers of the wrong size are
// dropped rather than pooled.
func PutBuf(buf *[]byte) {
	if buf == nil || len(*buf) != DefaultBufSize {
		return
	}
	bufPool.Put(buf)
}
