package htcore

import "github.com/valyala/bytebufferpool"

// bufPool generalizes the teacher's per-HostClient readerPool/writerPool
// sync.Pools into one shared byte-slice pool for request-head framing,
// reusing valyala/bytebufferpool the way the teacher's own
// Request/Response body buffers already do (bytebuffer.go).
var bufPool bytebufferpool.Pool

func acquireBuf() *bytebufferpool.ByteBuffer { return bufPool.Get() }

func releaseBuf(b *bytebufferpool.ByteBuffer) { bufPool.Put(b) }
