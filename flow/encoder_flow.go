package flow

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/mediaflow/codec"
	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
)

// EncoderFlow wraps a codec.Encoder as a one-in one-out stage. Flow-level
// change requests are forwarded into the encoder before each frame; when
// the encoder carries extra data (parameter sets, container headers) it is
// emitted ahead of the first output, flagged ExtraIntra.
type EncoderFlow struct {
	*Flow
	enc       codec.Encoder
	useSync   bool
	extraSent bool
}

// NewEncoderFlow initialises enc with cfg and installs the transform
// worker. The encoder's synchronous Process form is preferred; when it
// reports ErrUnsupported the async SendInput/FetchOutput form is used.
func NewEncoderFlow(name string, enc codec.Encoder, cfg media.MediaConfig, log *slog.Logger) (*EncoderFlow, error) {
	if err := enc.Init(); err != nil {
		return nil, fmt.Errorf("flow: encoder init: %w", err)
	}
	if cfg.Kind != media.ConfigNone {
		if err := enc.InitConfig(cfg); err != nil {
			return nil, fmt.Errorf("flow: encoder config: %w", err)
		}
	}
	ef := &EncoderFlow{Flow: New(name, log), enc: enc, useSync: true}
	err := ef.InstallSlotMap(SlotMap{
		Inputs:  []SlotConfig{{Policy: Block, Capacity: 4}},
		Outputs: 1,
		Mode:    SyncJoin,
		Process: ef.encode,
	})
	if err != nil {
		return nil, err
	}
	return ef, nil
}

// Encoder returns the wrapped codec, for direct change requests.
func (ef *EncoderFlow) Encoder() codec.Encoder { return ef.enc }

func (ef *EncoderFlow) drainChanges() {
	for {
		req, ok := ef.PeekChange()
		if !ok {
			return
		}
		ef.enc.RequestChange(req.Mask, req.Param)
	}
}

func (ef *EncoderFlow) emitExtraData() {
	if ef.extraSent {
		return
	}
	ef.extraSent = true
	ed := ef.enc.ExtraData()
	if len(ed) == 0 {
		return
	}
	buf := media.WrapBytes(ed)
	buf.SetValidSize(len(ed))
	buf.SetUserFlag(media.FlagExtraIntra)
	ef.SetOutput(buf, 0)
}

func (ef *EncoderFlow) encode(f *Flow, inputs []*media.Buffer) bool {
	in := inputs[0]
	if in == nil {
		return true
	}
	ef.drainChanges()
	ef.emitExtraData()

	if ef.useSync {
		switch err := ef.syncEncode(in); {
		case err == nil:
			return true
		case errors.Is(err, codec.ErrUnsupported):
			ef.useSync = false
		default:
			ef.log.Error("encode failed", "error", err)
			return false
		}
	}
	if err := ef.asyncEncode(in); err != nil {
		if errors.Is(err, codec.ErrUnsupported) {
			ef.log.Error("encoder implements neither processing form")
		} else {
			ef.log.Error("encode failed", "error", err)
		}
		return false
	}
	return true
}

// syncEncode runs the one-shot Process form, sizing the output from the
// input; intra-frame codecs fit, and backends needing more use the async
// form instead.
func (ef *EncoderFlow) syncEncode(in *media.Buffer) error {
	size := in.Size()
	if size == 0 {
		size = 4096
	}
	out, err := media.Alloc(size, media.MemCommon)
	if err != nil {
		ef.log.Warn("output allocation failed", "error", err)
		return nil // transient: skip the frame
	}
	if err := ef.enc.Process(in, out, nil); err != nil {
		out.Release()
		return err
	}
	out.SetTimestamp(in.Timestamp())
	out.SetEOF(in.EOF())
	ef.SetOutput(out, 0)
	return nil
}

func (ef *EncoderFlow) asyncEncode(in *media.Buffer) error {
	if err := ef.enc.SendInput(in); err != nil {
		return err
	}
	for {
		out, err := ef.enc.FetchOutput()
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		ef.SetOutput(out, 0)
	}
}

// Close stops the workers.
func (ef *EncoderFlow) Close() error {
	ef.StopAllThreads()
	return nil
}

func registerEncoderFlow(r *registry.Registry) {
	r.Register(registry.KindFlow, "video_encoder_flow", registry.Factory{
		New: func(params map[string]string) (any, error) {
			name := params[param.KeyCodec]
			if name == "" {
				return nil, fmt.Errorf("flow: missing %s", param.KeyCodec)
			}
			var pb param.Builder
			for k, v := range params {
				pb.Set(k, v)
			}
			enc, err := registry.CreateAs[codec.Encoder](r, registry.KindEncoder, name, pb.String())
			if err != nil {
				return nil, err
			}
			cfg, err := media.ParseVideoConfig(params)
			if err != nil {
				return nil, err
			}
			return NewEncoderFlow(name, enc, cfg, nil)
		},
	})
}
