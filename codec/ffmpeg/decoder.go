package ffmpeg

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/mediaflow/codec"
	"github.com/zsiec/mediaflow/media"
)

// Decoder decodes a compressed elementary stream through libav. It is
// async-only: feed packets with SendInput, collect frames with FetchOutput.
type Decoder struct {
	codec.Base
	codecName string
	ctx       *astiav.CodecContext
	frame     *astiav.Frame
	pending   []*media.Buffer
	flushed   bool
}

// NewDecoder creates a decoder for the named codec (data-type suffix
// spelling, e.g. "h264"). Init opens the backend.
func NewDecoder(name string) *Decoder {
	return &Decoder{Base: codec.NewBase(name), codecName: name}
}

// Init locates and opens the libav decoder. Extra data set beforehand is
// handed to the backend for codecs that need container headers.
func (d *Decoder) Init() error {
	dec := astiav.FindDecoderByName(ffmpegName(d.codecName))
	if dec == nil {
		return fmt.Errorf("%w: no libav decoder %q", codec.ErrUnsupported, d.codecName)
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return fmt.Errorf("%w: alloc codec context", codec.ErrBackend)
	}
	if ed := d.ExtraData(); len(ed) > 0 {
		if err := ctx.SetExtraData(ed); err != nil {
			ctx.Free()
			return fromAstiav(err)
		}
	}
	if err := ctx.Open(dec, nil); err != nil {
		ctx.Free()
		return fromAstiav(err)
	}
	d.ctx = ctx
	d.frame = astiav.AllocFrame()
	return nil
}

// SendInput feeds one compressed packet. A nil or EOF-marked buffer
// flushes the decoder; frames buffered by the backend drain into pending
// outputs either way.
func (d *Decoder) SendInput(input *media.Buffer) error {
	if d.ctx == nil {
		return fmt.Errorf("%w: decoder not initialised", codec.ErrBackend)
	}
	if input == nil || !input.IsValid() {
		if !d.flushed {
			d.flushed = true
			if err := d.ctx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
				return fromAstiav(err)
			}
		}
		return d.receiveAll(true)
	}

	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromData(input.ValidBytes()); err != nil {
		return fromAstiav(err)
	}
	pkt.SetPts(input.Timestamp())
	if err := d.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fromAstiav(err)
	}
	if err := d.receiveAll(input.EOF()); err != nil {
		return err
	}
	if input.EOF() && !d.flushed {
		d.flushed = true
		if err := d.ctx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return fromAstiav(err)
		}
		return d.receiveAll(true)
	}
	return nil
}

// receiveAll drains decoded frames into the pending queue, copying each
// frame's planes into a freshly allocated image buffer.
func (d *Decoder) receiveAll(eof bool) error {
	for {
		if err := d.ctx.ReceiveFrame(d.frame); err != nil {
			if errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			if errors.Is(err, astiav.ErrEof) {
				d.markLastEOF(eof)
				return nil
			}
			return fromAstiav(err)
		}
		buf, err := d.frameToBuffer(d.frame)
		d.frame.Unref()
		if err != nil {
			return err
		}
		d.pending = append(d.pending, buf)
	}
}

func (d *Decoder) markLastEOF(eof bool) {
	if eof && len(d.pending) > 0 {
		d.pending[len(d.pending)-1].SetEOF(true)
	}
}

func (d *Decoder) frameToBuffer(frame *astiav.Frame) (*media.Buffer, error) {
	data, err := frame.Data().Bytes(1)
	if err != nil {
		return nil, fromAstiav(err)
	}
	buf, err := media.Alloc(len(data), media.MemCommon)
	if err != nil {
		return nil, err
	}
	copy(buf.Bytes(), data)
	buf.SetValidSize(len(data))
	buf.SetTimestamp(frame.Pts())
	if pf, ok := corePixelFormat(frame.PixelFormat()); ok {
		buf.SetImageInfo(media.ImageInfo{
			Format:    pf,
			Width:     frame.Width(),
			Height:    frame.Height(),
			VirWidth:  frame.Width(),
			VirHeight: frame.Height(),
		})
	} else {
		buf.SetType(media.TypeImage)
	}
	return buf, nil
}

// FetchOutput returns the next decoded frame, or nil when none is pending.
func (d *Decoder) FetchOutput() (*media.Buffer, error) {
	if len(d.pending) == 0 {
		return nil, nil
	}
	buf := d.pending[0]
	d.pending = d.pending[1:]
	return buf, nil
}

// Close releases the backend context.
func (d *Decoder) Close() {
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.ctx != nil {
		d.ctx.Free()
		d.ctx = nil
	}
}
