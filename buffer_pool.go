// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import "sync"

// Chunk tiers for the streaming paths. Most long values move in the middle
// tier; the small tier serves diagnostic drains and short tails, the large
// tier bulk blob copies.
const (
	smallChunkSize  = 4 * 1024
	mediumChunkSize = 32 * 1024
	largeChunkSize  = 256 * 1024
)

// chunkPool hands out reusable byte buffers for chunked transfers so the
// streaming loops do not allocate per chunk. Buffers are tiered by size and
// returned to the tier they came from.
type chunkPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

var chunks = &chunkPool{
	small: sync.Pool{
		New: func() interface{} { return make([]byte, smallChunkSize) },
	},
	medium: sync.Pool{
		New: func() interface{} { return make([]byte, mediumChunkSize) },
	},
	large: sync.Pool{
		New: func() interface{} { return make([]byte, largeChunkSize) },
	},
}

// get returns a buffer of at least size bytes, clipped to exactly size.
// Requests beyond the largest tier are allocated directly and never pooled.
func (p *chunkPool) get(size int) []byte {
	switch {
	case size <= smallChunkSize:
		return p.small.Get().([]byte)[:size]
	case size <= mediumChunkSize:
		return p.medium.Get().([]byte)[:size]
	case size <= largeChunkSize:
		return p.large.Get().([]byte)[:size]
	default:
		return make([]byte, size)
	}
}

// put returns a buffer to its tier. Oversized buffers are dropped.
func (p *chunkPool) put(buf []byte) {
	switch cap(buf) {
	case smallChunkSize:
		p.small.Put(buf[:cap(buf)])
	case mediumChunkSize:
		p.medium.Put(buf[:cap(buf)])
	case largeChunkSize:
		p.large.Put(buf[:cap(buf)])
	}
}
