// Package codec defines the contracts encoders and decoders implement so
// the flow runtime can drive them without knowing any backend. A codec
// exposes a synchronous Process form, an asynchronous SendInput/FetchOutput
// form, or both; ErrUnsupported marks the form a backend does not provide.
package codec

import (
	"errors"

	"github.com/zsiec/mediaflow/media"
)

// Codec errors.
var (
	// ErrUnsupported marks an operating form the backend does not implement.
	ErrUnsupported = errors.New("codec: operation not supported")
	// ErrAgain means the codec needs more input before it can produce
	// output, or more output must be fetched before it accepts input.
	ErrAgain = errors.New("codec: resource temporarily unavailable")
	// ErrBackend wraps errors the underlying implementation rejected a
	// call with.
	ErrBackend = errors.New("codec: backend error")
)

// Codec is the contract common to encoders and decoders. Init is one-shot
// and must be called before any processing. Extra data carries
// codec-initialised container bytes (Ogg headers, SPS/PPS) that muxers and
// decoders need at stream start.
type Codec interface {
	Init() error
	Name() string

	SetExtraData([]byte)
	ExtraData() []byte

	// Process transcodes input into output synchronously; extra receives
	// side output (e.g. motion vectors) when the backend produces any.
	Process(input, output, extra *media.Buffer) error

	// SendInput and FetchOutput form the asynchronous interface.
	// FetchOutput returns nil, nil when no output is pending.
	SendInput(input *media.Buffer) error
	FetchOutput() (*media.Buffer, error)
}

// Encoder additionally accepts a media configuration and dynamic parameter
// changes.
type Encoder interface {
	Codec
	InitConfig(cfg media.MediaConfig) error
	RequestChange(mask uint32, value *ChangeParam)
}

// Decoder is a Codec whose input is a compressed stream. Decoders that need
// container headers receive them through SetExtraData before Init.
type Decoder interface {
	Codec
}

// Base provides the extra-data and name bookkeeping shared by backends.
// Embed it and override the processing methods.
type Base struct {
	name  string
	extra []byte
}

// NewBase returns a Base with the given codec name.
func NewBase(name string) Base { return Base{name: name} }

// Name returns the codec name.
func (b *Base) Name() string { return b.name }

// SetExtraData replaces the codec's extra data.
func (b *Base) SetExtraData(d []byte) { b.extra = d }

// ExtraData returns the codec's extra data.
func (b *Base) ExtraData() []byte { return b.extra }

// Process returns ErrUnsupported; async-only codecs keep this default.
func (b *Base) Process(input, output, extra *media.Buffer) error {
	return ErrUnsupported
}

// SendInput returns ErrUnsupported; sync-only codecs keep this default.
func (b *Base) SendInput(input *media.Buffer) error { return ErrUnsupported }

// FetchOutput returns ErrUnsupported; sync-only codecs keep this default.
func (b *Base) FetchOutput() (*media.Buffer, error) { return nil, ErrUnsupported }
