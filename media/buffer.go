package media

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Allocation and buffer errors. Both are recoverable: a caller that fails to
// allocate a frame skips it and continues on the next iteration.
var (
	ErrOutOfMemory = errors.New("media: out of memory")
	ErrUnsupported = errors.New("media: operation not supported")
)

// MemType selects the memory pool a buffer's region is allocated from.
type MemType int

const (
	// MemCommon is ordinary heap memory.
	MemCommon MemType = iota
	// MemHW is shared hardware memory carrying a file descriptor, suitable
	// for zero-copy handoff to drivers.
	MemHW
)

// ParseMemType maps the mem_type parameter values to a MemType. The hw_ion
// and hw_drm spellings both select the platform hardware pool.
func ParseMemType(s string) MemType {
	switch s {
	case "hw_ion", "hw_drm":
		return MemHW
	}
	return MemCommon
}

// HWHandle is a shared hardware-memory descriptor. Buffers carry it as an
// optional handle rather than a -1 sentinel so that "is this a hardware
// buffer" is answered by presence, not by a range check.
type HWHandle struct {
	FD int
}

// Holder pins an opaque resource to a buffer's lifetime. Release, if
// non-nil, fires exactly once after the buffer's last reference drops and
// before the buffer's own region is reclaimed.
type Holder struct {
	Value   any
	Release func()
}

// Buffer is one reference-counted unit of media data. It may carry a host
// memory region, a hardware handle, or both. Contents are mutable only
// while exactly one reference is held; the refcount itself is the only
// cross-thread lifetime primitive.
type Buffer struct {
	data  []byte // full allocated region; nil when the buffer is fd-only
	hw    *HWHandle
	mem   MemType
	free  func(*Buffer) // reclaims an owned region; nil for borrowed or GC-managed
	valid int

	typ       Type
	userFlag  uint32
	timestamp int64 // milliseconds, or an opaque monotonic token
	eof       bool

	user     any
	userFree func(any)

	related []Holder

	sample *SampleInfo
	image  *ImageInfo

	refs atomic.Int32
}

// WrapBytes wraps an existing region in a borrowed buffer with one
// reference. The region is not reclaimed when the buffer dies; attach a
// related Holder to pin whatever owns it.
func WrapBytes(b []byte) *Buffer {
	buf := &Buffer{data: b}
	buf.refs.Store(1)
	return buf
}

// Retain increments the reference count and returns the buffer.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release drops one reference. On the last drop the user payload's release
// func fires, then related holders are released in reverse attach order,
// then the owned region (if any) is reclaimed.
func (b *Buffer) Release() {
	n := b.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("media: buffer over-released")
	}
	if b.userFree != nil {
		b.userFree(b.user)
		b.userFree = nil
		b.user = nil
	}
	for i := len(b.related) - 1; i >= 0; i-- {
		if rel := b.related[i].Release; rel != nil {
			rel()
		}
	}
	b.related = nil
	if b.free != nil {
		b.free(b)
		b.free = nil
	}
	b.data = nil
	b.hw = nil
}

// Refs returns the current reference count. Only meaningful for tests and
// diagnostics.
func (b *Buffer) Refs() int { return int(b.refs.Load()) }

// Bytes returns the full allocated region.
func (b *Buffer) Bytes() []byte { return b.data }

// ValidBytes returns the populated prefix of the region.
func (b *Buffer) ValidBytes() []byte { return b.data[:b.valid] }

// Size returns the allocated capacity in bytes.
func (b *Buffer) Size() int { return len(b.data) }

// ValidSize returns the number of populated bytes.
func (b *Buffer) ValidSize() int { return b.valid }

// SetValidSize sets the populated byte count. A valid size exceeding the
// capacity is a programmer error.
func (b *Buffer) SetValidSize(n int) {
	if n < 0 || n > len(b.data) {
		panic(fmt.Sprintf("media: valid size %d out of range [0, %d]", n, len(b.data)))
	}
	b.valid = n
}

// IsValid reports whether the buffer holds any populated bytes.
func (b *Buffer) IsValid() bool { return b.valid > 0 }

// HW returns the hardware handle, if present.
func (b *Buffer) HW() (HWHandle, bool) {
	if b.hw == nil {
		return HWHandle{}, false
	}
	return *b.hw, true
}

// IsHW reports whether the buffer is backed by shared hardware memory.
func (b *Buffer) IsHW() bool { return b.hw != nil }

// MemType returns the pool the buffer's region came from.
func (b *Buffer) MemType() MemType { return b.mem }

// Type returns the payload kind.
func (b *Buffer) Type() Type { return b.typ }

// SetType sets the payload kind.
func (b *Buffer) SetType(t Type) { b.typ = t }

// UserFlag returns the opaque 32-bit flag bitfield.
func (b *Buffer) UserFlag() uint32 { return b.userFlag }

// SetUserFlag sets the opaque 32-bit flag bitfield.
func (b *Buffer) SetUserFlag(f uint32) { b.userFlag = f }

// Timestamp returns the buffer timestamp: milliseconds since an arbitrary
// epoch, or an opaque monotonic token such as a codec granule position.
func (b *Buffer) Timestamp() int64 { return b.timestamp }

// SetTimestamp sets the buffer timestamp.
func (b *Buffer) SetTimestamp(ts int64) { b.timestamp = ts }

// EOF reports whether this is the last buffer of a stream.
func (b *Buffer) EOF() bool { return b.eof }

// SetEOF marks or unmarks the buffer as the last of a stream.
func (b *Buffer) SetEOF(v bool) { b.eof = v }

// SetUserData replaces the user payload. The previous payload's release
// func fires immediately; the new one fires when the last reference drops.
func (b *Buffer) SetUserData(v any, release func(any)) {
	if b.userFree != nil {
		b.userFree(b.user)
	}
	b.user = v
	b.userFree = release
	if v != nil && release == nil {
		b.userFree = func(any) {}
	}
}

// UserData returns the current user payload.
func (b *Buffer) UserData() any { return b.user }

// AttachRelated appends a holder, or assigns at index when index >= 0,
// extending the holder vector with empty slots as needed. Holders keep
// upstream resources (pools, codec packet backings) alive until the buffer
// dies.
func (b *Buffer) AttachRelated(h Holder, index int) {
	if index < 0 {
		b.related = append(b.related, h)
		return
	}
	for len(b.related) <= index {
		b.related = append(b.related, Holder{})
	}
	b.related[index] = h
}

// Related returns the holder vector.
func (b *Buffer) Related() []Holder { return b.related }

// SampleInfo returns the audio layout, if this is a sample buffer.
func (b *Buffer) SampleInfo() (SampleInfo, bool) {
	if b.sample == nil {
		return SampleInfo{}, false
	}
	return *b.sample, true
}

// SetSampleInfo tags the buffer as an audio sample buffer.
func (b *Buffer) SetSampleInfo(si SampleInfo) {
	b.sample = &si
	b.typ = TypeAudio
	if si.Frames > 0 {
		b.SetValidSize(si.Frames * si.FrameSize())
	}
}

// SetFrames sets the frame count of a sample buffer, keeping the valid size
// in step with frames × frame size.
func (b *Buffer) SetFrames(n int) {
	if b.sample == nil {
		panic("media: SetFrames on a buffer without sample info")
	}
	b.sample.Frames = n
	b.SetValidSize(n * b.sample.FrameSize())
}

// ImageInfo returns the image geometry, if this is an image buffer.
func (b *Buffer) ImageInfo() (ImageInfo, bool) {
	if b.image == nil {
		return ImageInfo{}, false
	}
	return *b.image, true
}

// SetImageInfo tags the buffer as an image buffer. When the pixel format is
// known and the implied byte size fits the region, the valid size is
// initialised to it; otherwise the valid size is left unchanged.
func (b *Buffer) SetImageInfo(ii ImageInfo) {
	b.image = &ii
	b.typ = TypeImage
	if s := ii.Size(); s > 0 && s <= len(b.data) {
		b.valid = s
	}
}

// copyAttributes copies everything except the data region, refcount, user
// payload, and related holders.
func (b *Buffer) copyAttributes(src *Buffer) {
	b.typ = src.typ
	b.userFlag = src.userFlag
	b.timestamp = src.timestamp
	b.eof = src.eof
	if src.sample != nil {
		si := *src.sample
		b.sample = &si
	}
	if src.image != nil {
		ii := *src.image
		b.image = &ii
	}
}

// Clone allocates a fresh buffer in dst memory and copies src's attributes
// and valid bytes into it. The copy is byte-exact over the valid range;
// hardware↔common clones map through the host pointer both regions carry.
func Clone(src *Buffer, dst MemType) (*Buffer, error) {
	out, err := Alloc(src.ValidSize(), dst)
	if err != nil {
		return nil, err
	}
	copy(out.data, src.ValidBytes())
	out.copyAttributes(src)
	out.valid = src.valid
	return out, nil
}
