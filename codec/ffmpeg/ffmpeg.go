// Package ffmpeg implements the codec contracts over libav via go-astiav.
// One decoder and one encoder type cover the codecs FFmpeg provides; they
// are registered under per-codec factory names so capability matching stays
// per-codec.
package ffmpeg

import (
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/mediaflow/codec"
	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/registry"
)

// pixelFormat maps core pixel formats onto libav's.
func pixelFormat(f media.PixelFormat) (astiav.PixelFormat, bool) {
	switch f {
	case media.PixFmtNV12:
		return astiav.PixelFormatNv12, true
	case media.PixFmtNV16:
		return astiav.PixelFormatNv16, true
	case media.PixFmtYUV420P:
		return astiav.PixelFormatYuv420P, true
	case media.PixFmtRGB24:
		return astiav.PixelFormatRgb24, true
	case media.PixFmtBGR24:
		return astiav.PixelFormatBgr24, true
	}
	return astiav.PixelFormatNone, false
}

// corePixelFormat is the reverse mapping; formats the core does not model
// report false and flow through as generic buffers.
func corePixelFormat(f astiav.PixelFormat) (media.PixelFormat, bool) {
	switch f {
	case astiav.PixelFormatNv12:
		return media.PixFmtNV12, true
	case astiav.PixelFormatNv16:
		return media.PixFmtNV16, true
	case astiav.PixelFormatYuv420P:
		return media.PixFmtYUV420P, true
	case astiav.PixelFormatRgb24:
		return media.PixFmtRGB24, true
	case astiav.PixelFormatBgr24:
		return media.PixFmtBGR24, true
	}
	return media.PixFmtNone, false
}

// ffmpegName translates a data-type codec suffix to the libav codec name.
func ffmpegName(tag string) string {
	switch tag {
	case "h265":
		return "hevc"
	}
	return tag
}

// RegisterWith adds the FFmpeg-backed codec factories to r.
func RegisterWith(r *registry.Registry) {
	decoders := []struct {
		name    string
		codec   string
		in, out string
	}{
		{"ffmpeg_h264", "h264", media.ImageH264, media.ImageYUV420P + "," + media.ImageNV12},
		{"ffmpeg_h265", "h265", media.ImageH265, media.ImageYUV420P + "," + media.ImageNV12},
	}
	for _, d := range decoders {
		d := d
		r.Register(registry.KindDecoder, d.name, registry.Factory{
			New: func(params map[string]string) (any, error) {
				return NewDecoder(d.codec), nil
			},
			Match: registry.TagMatcher(d.in, d.out),
		})
	}

	encoders := []struct {
		name    string
		codec   string
		in, out string
	}{
		{"ffmpeg_h264_enc", "h264", media.ImageYUV420P + "," + media.ImageNV12, media.ImageH264},
	}
	for _, e := range encoders {
		e := e
		r.Register(registry.KindEncoder, e.name, registry.Factory{
			New: func(params map[string]string) (any, error) {
				return NewEncoder(e.codec), nil
			},
			Match: registry.TagMatcher(e.in, e.out),
		})
	}
}

func fromAstiav(err error) error {
	return fmt.Errorf("%w: %v", codec.ErrBackend, err)
}
