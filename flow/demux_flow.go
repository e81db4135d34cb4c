package flow

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/mux"
	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
	"github.com/zsiec/mediaflow/stream"
)

// DemuxFlow is a source wrapping a mux.Demuxer over a byte stream. The
// probed configuration is available through Config; the demuxer's extra
// data (container headers) goes out first, flagged ExtraIntra, then one
// packet per iteration until EOF.
type DemuxFlow struct {
	*Flow
	dmx       mux.Demuxer
	src       stream.Stream
	cfg       *media.MediaConfig
	extraSent bool
}

// NewDemuxFlow probes src with dmx and starts the source loop.
func NewDemuxFlow(name string, dmx mux.Demuxer, src stream.Stream, log *slog.Logger) (*DemuxFlow, error) {
	cfg, err := dmx.Init(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("flow: demuxer probe: %w", err)
	}
	df := &DemuxFlow{Flow: New(name, log), dmx: dmx, src: src, cfg: cfg}
	if err := df.SetAsSource(1, df.iterate); err != nil {
		src.Close()
		return nil, err
	}
	return df, nil
}

// Config returns the configuration the demuxed data carries.
func (df *DemuxFlow) Config() *media.MediaConfig { return df.cfg }

// Demuxer returns the wrapped demuxer, for Comments and extra data.
func (df *DemuxFlow) Demuxer() mux.Demuxer { return df.dmx }

func (df *DemuxFlow) iterate(f *Flow) bool {
	if !df.extraSent {
		df.extraSent = true
		if ed, ok := df.dmx.(interface{ ExtraData() []byte }); ok {
			if data := ed.ExtraData(); len(data) > 0 {
				buf := media.WrapBytes(data)
				buf.SetValidSize(len(data))
				buf.SetUserFlag(media.FlagExtraIntra)
				df.SetOutput(buf, 0)
			}
		}
	}

	buf, err := df.dmx.Read()
	if err != nil {
		df.log.Error("demux read failed", "error", err)
		df.SetDisable()
		return false
	}
	eof := buf.EOF()
	df.SetOutput(buf, 0)
	return !eof
}

// Close stops the source and releases the byte stream.
func (df *DemuxFlow) Close() error {
	df.StopAllThreads()
	return df.src.Close()
}

func registerDemuxFlow(r *registry.Registry) {
	r.Register(registry.KindFlow, "demux_flow", registry.Factory{
		New: func(params map[string]string) (any, error) {
			name := params[param.KeyCodec]
			if name == "" {
				return nil, fmt.Errorf("flow: missing %s (demuxer name)", param.KeyCodec)
			}
			path := params[param.KeyPath]
			if path == "" {
				return nil, fmt.Errorf("flow: missing %s", param.KeyPath)
			}
			dmx, err := registry.CreateAs[mux.Demuxer](r, registry.KindDemuxer, name, "")
			if err != nil {
				return nil, err
			}
			var sp param.Builder
			sp.Set(param.KeyPath, path).Set(param.KeyOpenMode, "re")
			src, err := registry.CreateAs[stream.Stream](r, registry.KindStream, stream.FileReadStream, sp.String())
			if err != nil {
				return nil, err
			}
			return NewDemuxFlow(name+":"+path, dmx, src, nil)
		},
	})
}
