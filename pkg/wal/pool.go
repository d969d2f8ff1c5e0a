package wal

import "sync"

// Memory pools to avoid allocating a fresh Record and frame buffer on
// every append.

var (
	recordPool = sync.Pool{
		New: func() interface{} {
			return &Record{Payload: make([]byte, 0, 256)}
		},
	}

	bufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, 8192)
			return &buf
		},
	}
)

// AcquireRecord obtains a Record from the pool.
func AcquireRecord() *Record {
	return recordPool.Get().(*Record)
}

// ReleaseRecord returns rec to the pool.
func ReleaseRecord(rec *Record) {
	*rec = Record{Payload: rec.Payload[:0]}
	recordPool.Put(rec)
}

// AcquireBuffer obtains a byte buffer from the pool.
func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
