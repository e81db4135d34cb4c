// Package stream defines the byte-stream contract the core consumes for
// file, device, and playback I/O, plus the built-in backends. Streams are
// constructed by name through the registry so flows can open them from
// parameter strings alone.
package stream

import (
	"errors"
	"io"

	"github.com/zsiec/mediaflow/registry"
)

// ErrUnsupported is returned by stream operations the backend does not
// implement: writes on a read-only stream, seeks on a device, ioctls on a
// plain file.
var ErrUnsupported = errors.New("stream: operation not supported")

// Stream is a readable and/or writable byte stream. Backends implement the
// directions they support and return ErrUnsupported for the rest. Errors
// originating in syscalls wrap the POSIX errno.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Eof reports whether the read side has been exhausted.
	Eof() bool

	// IoCtrl issues a backend-specific control request. The request and
	// argument encoding are defined by the backend.
	IoCtrl(request uint, arg uintptr) (int, error)
}

// Factory names of the built-in backends.
const (
	FileReadStream      = "file_read_stream"
	FileWriteStream     = "file_write_stream"
	AudioPlaybackStream = "audio_playback_stream"
	V4L2CaptureStream   = "v4l2_capture_stream"
)

// Create constructs a stream by factory name from the default registry.
func Create(name, paramStr string) (Stream, error) {
	return registry.CreateAs[Stream](registry.Default(), registry.KindStream, name, paramStr)
}

// RegisterWith adds the built-in stream backends to r. Platform-specific
// backends register themselves only where they are compiled in.
func RegisterWith(r *registry.Registry) {
	registerFile(r)
	registerPlayback(r)
	registerPlatform(r)
}
