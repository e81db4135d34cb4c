// Package mux defines the container contracts the core consumes: Demuxer
// turns a byte stream into frames plus the configuration they carry, Muxer
// turns frames plus configuration into container bytes. Concrete containers
// live in subpackages and register with the factory registry.
package mux

import (
	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/stream"
)

// Demuxer probes a byte stream and yields its frames.
type Demuxer interface {
	// Init probes the input and returns the configuration the demuxed
	// data will carry.
	Init(s stream.Stream) (*media.MediaConfig, error)

	// Read returns the next frame. The final frame carries eof=true; Read
	// keeps returning an EOF-marked empty buffer afterwards.
	Read() (*media.Buffer, error)

	// Comments returns container-level metadata strings, when the format
	// has any.
	Comments() []string

	// IncludesDecoder reports whether the demuxer emits raw frames
	// directly, making a downstream decoder unnecessary.
	IncludesDecoder() bool
}

// Muxer assembles one or more elementary streams into a container.
type Muxer interface {
	// NewMuxerStream adds a stream with the given configuration and
	// returns its id.
	NewMuxerStream(cfg media.MediaConfig) (int, error)

	// WriteHeader returns the container header bytes for the stream.
	WriteHeader(id int) (*media.Buffer, error)

	// Write appends one frame to the stream.
	Write(id int, buf *media.Buffer) error

	// Close finishes the stream.
	Close(id int) error
}
