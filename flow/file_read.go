package flow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
	"github.com/zsiec/mediaflow/stream"
)

// FileReadFlow is a source that reads fixed-size chunks (or whole image
// frames) from a file stream and sends them on output slot 0. Parameters:
// path and open_mode select the file; mem_size_pertime sets the chunk
// size, or pixel_format/width/height describe frames; mem_type picks the
// buffer pool; fps paces production; loop_time replays the file (>0 for
// that many extra passes, <0 unbounded).
type FileReadFlow struct {
	*Flow
	src      stream.Stream
	mtype    media.MemType
	readSize int
	info     media.ImageInfo
	isImage  bool
	interval time.Duration // fps pacing, fixed at construction
	loopTime int
}

// NewFileReadFlow constructs the source from parsed parameters, opening
// its file stream through reg.
func NewFileReadFlow(reg *registry.Registry, params map[string]string, log *slog.Logger) (*FileReadFlow, error) {
	path := params[param.KeyPath]
	if path == "" {
		return nil, fmt.Errorf("flow: missing %s", param.KeyPath)
	}
	mode := params[param.KeyOpenMode]
	if mode == "" {
		mode = "re"
	}
	var sp param.Builder
	sp.Set(param.KeyPath, path).Set(param.KeyOpenMode, mode)
	src, err := registry.CreateAs[stream.Stream](reg, registry.KindStream, stream.FileReadStream, sp.String())
	if err != nil {
		return nil, err
	}

	fr := &FileReadFlow{
		Flow:     New(path, log),
		src:      src,
		mtype:    media.ParseMemType(params[param.KeyMemType]),
		loopTime: param.Int(params, param.KeyLoopTime, 0),
	}
	fr.readSize = param.Int(params, param.KeyMemSizePerTime, 0)
	if fr.readSize <= 0 {
		info, err := media.ParseImageInfo(params)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("flow: need %s or image geometry: %w", param.KeyMemSizePerTime, err)
		}
		fr.info = info
		fr.isImage = true
		fr.readSize = info.Size()
	}
	if fps := param.Int(params, param.KeyFPS, 0); fps > 0 {
		fr.interval = time.Second / time.Duration(fps)
	}

	if err := fr.SetAsSource(1, fr.iterate); err != nil {
		src.Close()
		return nil, err
	}
	return fr, nil
}

// iterate produces one buffer per call. A replay seeks back per loop_time;
// a natural end emits the EOF buffer and stops the source.
func (fr *FileReadFlow) iterate(f *Flow) bool {
	if fr.src.Eof() {
		switch {
		case fr.loopTime > 0:
			fr.loopTime--
			if _, err := fr.src.Seek(0, io.SeekStart); err != nil {
				fr.log.Warn("rewind failed", "error", err)
				return fr.finish()
			}
		case fr.loopTime < 0:
			if _, err := fr.src.Seek(0, io.SeekStart); err != nil {
				fr.log.Warn("rewind failed", "error", err)
				return fr.finish()
			}
		default:
			return fr.finish()
		}
	}

	buf, err := media.Alloc(fr.readSize, fr.mtype)
	if err != nil {
		// Transient: skip this frame and try again next iteration.
		fr.log.Warn("buffer allocation failed", "size", fr.readSize, "error", err)
		return true
	}
	n, err := io.ReadFull(fr.src, buf.Bytes())
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		buf.Release()
		fr.log.Error("read failed", "error", err)
		fr.SetDisable()
		return false
	}
	if n == 0 {
		buf.Release()
		return true
	}
	buf.SetValidSize(n)
	if fr.isImage {
		buf.SetImageInfo(fr.info)
		buf.SetValidSize(n)
	}
	buf.SetTimestamp(time.Now().UnixMilli())
	fr.SetOutput(buf, 0)

	if fr.interval > 0 {
		return fr.Sleep(fr.interval)
	}
	return !fr.stopRequested()
}

// finish emits the stream-ending buffer and stops the source loop.
func (fr *FileReadFlow) finish() bool {
	eof := media.WrapBytes(nil)
	eof.SetEOF(true)
	eof.SetTimestamp(time.Now().UnixMilli())
	fr.SetOutput(eof, 0)
	return false
}

// Close stops the workers and releases the file stream.
func (fr *FileReadFlow) Close() error {
	fr.StopAllThreads()
	return fr.src.Close()
}

func registerFileRead(r *registry.Registry) {
	r.Register(registry.KindFlow, "file_read_flow", registry.Factory{
		New: func(params map[string]string) (any, error) {
			return NewFileReadFlow(r, params, nil)
		},
	})
}
