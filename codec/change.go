package codec

import "sync"

// Dynamic-change masks an encoder worker applies between frames.
const (
	QPChange uint32 = 1 << iota
	FrameRateChange
	BitRateChange
	ForceIdrFrame
	OSDDataChange
)

// ChangeParam carries the value of one dynamic-parameter change. Value
// covers the common integer case (a bitrate, a QP); Data carries anything
// larger (OSD bitmaps); User is an opaque passthrough for the backend.
type ChangeParam struct {
	Value int
	Data  []byte
	User  any
}

// ChangeRequest pairs a change mask with its parameter.
type ChangeRequest struct {
	Mask  uint32
	Param *ChangeParam
}

// ChangeQueue is a mutex-guarded FIFO of dynamic-change requests. Producers
// enqueue from any goroutine; the encoder worker drains it at a
// well-defined point before each frame. Changes apply in enqueue order; a
// change the backend rejects is reported through a diagnostic, never by
// failing the stream.
type ChangeQueue struct {
	mu   sync.Mutex
	list []ChangeRequest
}

// Push appends a request.
func (q *ChangeQueue) Push(mask uint32, param *ChangeParam) {
	q.mu.Lock()
	q.list = append(q.list, ChangeRequest{Mask: mask, Param: param})
	q.mu.Unlock()
}

// Peek pops and returns the oldest request; ok is false when the queue is
// empty.
func (q *ChangeQueue) Peek() (req ChangeRequest, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.list) == 0 {
		return ChangeRequest{}, false
	}
	req = q.list[0]
	q.list = q.list[1:]
	return req, true
}

// Pending reports whether any request is queued.
func (q *ChangeQueue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list) > 0
}
