package flow

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
	"github.com/zsiec/mediaflow/stream"
)

// FileWriteFlow is a sink that appends every valid input buffer to a file
// stream. Parameters: path and open_mode (default create+truncate).
type FileWriteFlow struct {
	*Flow
	dst stream.Stream
}

// NewFileWriteFlow constructs the sink from parsed parameters, opening its
// file stream through reg.
func NewFileWriteFlow(reg *registry.Registry, params map[string]string, log *slog.Logger) (*FileWriteFlow, error) {
	path := params[param.KeyPath]
	if path == "" {
		return nil, fmt.Errorf("flow: missing %s", param.KeyPath)
	}
	mode := params[param.KeyOpenMode]
	if mode == "" {
		mode = "we"
	}
	var sp param.Builder
	sp.Set(param.KeyPath, path).Set(param.KeyOpenMode, mode)
	dst, err := registry.CreateAs[stream.Stream](reg, registry.KindStream, stream.FileWriteStream, sp.String())
	if err != nil {
		return nil, err
	}

	fw := &FileWriteFlow{Flow: New(path, log), dst: dst}
	err = fw.InstallSlotMap(SlotMap{
		Inputs:  []SlotConfig{{Policy: Block, Capacity: 4}},
		Mode:    SyncJoin,
		Process: fw.write,
	})
	if err != nil {
		dst.Close()
		return nil, err
	}
	return fw, nil
}

func (fw *FileWriteFlow) write(f *Flow, inputs []*media.Buffer) bool {
	buf := inputs[0]
	if buf == nil || !buf.IsValid() {
		return true
	}
	if _, err := fw.dst.Write(buf.ValidBytes()); err != nil {
		fw.log.Error("write failed", "error", err)
		return false
	}
	return true
}

// Close stops the worker, releasing any buffers still queued without
// writing them, then releases the file stream.
func (fw *FileWriteFlow) Close() error {
	fw.StopAllThreads()
	return fw.dst.Close()
}

func registerFileWrite(r *registry.Registry) {
	r.Register(registry.KindFlow, "file_write_flow", registry.Factory{
		New: func(params map[string]string) (any, error) {
			return NewFileWriteFlow(r, params, nil)
		},
	})
}
