package ffmpeg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/mediaflow/codec"
	"github.com/zsiec/mediaflow/media"
)

// Encoder encodes raw video frames through libav. Async-only, like the
// decoder. Dynamic changes are drained before each frame: ForceIdrFrame
// maps to a forced I picture; changes libav cannot apply after open are
// logged and dropped, never fatal.
type Encoder struct {
	codec.Base
	codecName string
	log       *slog.Logger
	cfg       media.VideoConfig
	ctx       *astiav.CodecContext
	frame     *astiav.Frame
	pending   []*media.Buffer
	changes   codec.ChangeQueue
	forceIdr  bool
	flushed   bool
}

// NewEncoder creates an encoder for the named codec. InitConfig must run
// before the first frame.
func NewEncoder(name string) *Encoder {
	return &Encoder{
		Base:      codec.NewBase(name),
		codecName: name,
		log:       slog.With("component", "ffmpeg-encoder", "codec", name),
	}
}

// Init is a no-op; the backend opens in InitConfig once the stream
// geometry is known.
func (e *Encoder) Init() error { return nil }

// InitConfig opens the libav encoder with the video arm of cfg and
// captures the backend's extra data (parameter sets) when it emits any.
func (e *Encoder) InitConfig(cfg media.MediaConfig) error {
	if cfg.Kind != media.ConfigVideo {
		return fmt.Errorf("%w: ffmpeg encoder takes a video config", codec.ErrUnsupported)
	}
	enc := astiav.FindEncoderByName(ffmpegName(e.codecName))
	if enc == nil {
		return fmt.Errorf("%w: no libav encoder %q", codec.ErrUnsupported, e.codecName)
	}
	pf, ok := pixelFormat(cfg.Video.Image.Format)
	if !ok {
		return fmt.Errorf("%w: pixel format %s", codec.ErrUnsupported, cfg.Video.Image.Format)
	}

	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return fmt.Errorf("%w: alloc codec context", codec.ErrBackend)
	}
	ctx.SetWidth(cfg.Video.Image.Width)
	ctx.SetHeight(cfg.Video.Image.Height)
	ctx.SetPixelFormat(pf)
	fps := cfg.Video.FrameRate
	if fps <= 0 {
		fps = 30
	}
	ctx.SetTimeBase(astiav.NewRational(1, fps))
	ctx.SetFramerate(astiav.NewRational(fps, 1))
	if cfg.Video.BitRate > 0 {
		ctx.SetBitRate(int64(cfg.Video.BitRate))
	}
	if cfg.Video.GOP > 0 {
		ctx.SetGopSize(cfg.Video.GOP)
	}
	if err := ctx.Open(enc, nil); err != nil {
		ctx.Free()
		return fromAstiav(err)
	}
	e.cfg = cfg.Video
	e.ctx = ctx
	e.frame = astiav.AllocFrame()
	if ed := ctx.ExtraData(); len(ed) > 0 {
		e.SetExtraData(ed)
	}
	return nil
}

// RequestChange enqueues a dynamic-parameter change, consumed before the
// next frame.
func (e *Encoder) RequestChange(mask uint32, value *codec.ChangeParam) {
	e.changes.Push(mask, value)
}

// drainChanges applies queued changes in order. libav rejects most
// parameter changes on an open context; those are reported and skipped.
func (e *Encoder) drainChanges() {
	for {
		req, ok := e.changes.Peek()
		if !ok {
			return
		}
		switch req.Mask {
		case codec.ForceIdrFrame:
			e.forceIdr = true
		case codec.BitRateChange:
			if req.Param != nil {
				e.ctx.SetBitRate(int64(req.Param.Value))
				e.cfg.BitRate = req.Param.Value
			}
		default:
			e.log.Warn("change not applicable to this backend", "mask", req.Mask)
		}
	}
}

// SendInput encodes one raw frame. A nil or EOF-marked buffer flushes.
func (e *Encoder) SendInput(input *media.Buffer) error {
	if e.ctx == nil {
		return fmt.Errorf("%w: encoder not configured", codec.ErrBackend)
	}
	e.drainChanges()

	if input == nil || !input.IsValid() {
		return e.flush()
	}

	pf, _ := pixelFormat(e.cfg.Image.Format)
	e.frame.SetWidth(e.cfg.Image.Width)
	e.frame.SetHeight(e.cfg.Image.Height)
	e.frame.SetPixelFormat(pf)
	if err := e.frame.AllocBuffer(1); err != nil {
		return fromAstiav(err)
	}
	if err := e.frame.Data().SetBytes(input.ValidBytes(), 1); err != nil {
		return fromAstiav(err)
	}
	e.frame.SetPts(input.Timestamp())
	if e.forceIdr {
		e.frame.SetPictureType(astiav.PictureTypeI)
		e.forceIdr = false
	}
	err := e.ctx.SendFrame(e.frame)
	e.frame.Unref()
	if err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fromAstiav(err)
	}
	if err := e.receiveAll(); err != nil {
		return err
	}
	if input.EOF() {
		return e.flush()
	}
	return nil
}

func (e *Encoder) flush() error {
	if e.flushed {
		return nil
	}
	e.flushed = true
	if err := e.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fromAstiav(err)
	}
	if err := e.receiveAll(); err != nil {
		return err
	}
	if len(e.pending) > 0 {
		e.pending[len(e.pending)-1].SetEOF(true)
	}
	return nil
}

func (e *Encoder) receiveAll() error {
	for {
		pkt := astiav.AllocPacket()
		if err := e.ctx.ReceivePacket(pkt); err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fromAstiav(err)
		}
		buf, err := media.Alloc(pkt.Size(), media.MemCommon)
		if err != nil {
			pkt.Free()
			return err
		}
		copy(buf.Bytes(), pkt.Data())
		buf.SetValidSize(pkt.Size())
		buf.SetType(media.TypeImage)
		buf.SetTimestamp(pkt.Pts())
		if pkt.Flags().Has(astiav.PacketFlagKey) {
			buf.SetUserFlag(media.FlagIntra)
		}
		pkt.Free()
		e.pending = append(e.pending, buf)
	}
}

// FetchOutput returns the next encoded packet, or nil when none is
// pending.
func (e *Encoder) FetchOutput() (*media.Buffer, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	buf := e.pending[0]
	e.pending = e.pending[1:]
	return buf, nil
}

// Close releases the backend context.
func (e *Encoder) Close() {
	if e.frame != nil {
		e.frame.Free()
		e.frame = nil
	}
	if e.ctx != nil {
		e.ctx.Free()
		e.ctx = nil
	}
}
