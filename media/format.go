// Package media defines the reference-counted buffer model that flows
// through the mediaflow pipeline, along with the pixel/sample format and
// media configuration types shared by streams, codecs, and flows.
package media

// Type classifies the payload a buffer carries.
type Type int

// Buffer payload kinds.
const (
	TypeNone Type = iota
	TypeAudio
	TypeImage
	TypeText
	TypeGeneric
)

// Data-type tags used for capability matching at graph-wiring time. The
// format is class:codec, e.g. "audio:pcm_s16" for interleaved signed 16-bit
// PCM or "image:h264" for an H.264 elementary stream.
const (
	AudioPCMU8  = "audio:pcm_u8"
	AudioPCMS16 = "audio:pcm_s16"
	AudioPCMS32 = "audio:pcm_s32"
	AudioPCMFLT = "audio:pcm_flt"
	AudioVorbis = "audio:vorbis"
	AudioAAC    = "audio:aac"

	ImageNV12    = "image:nv12"
	ImageNV16    = "image:nv16"
	ImageYUV420P = "image:yuv420p"
	ImageRGB24   = "image:rgb24"
	ImageBGR24   = "image:bgr24"
	ImageRGB32   = "image:rgb32"
	ImageBGR32   = "image:bgr32"
	ImageJPEG    = "image:jpeg"
	ImageH264    = "image:h264"
	ImageH265    = "image:h265"
)

// Video frame-type bits carried in a buffer's user flag.
const (
	FlagExtraIntra uint32 = 1 << iota // parameter sets (SPS/PPS, codec headers)
	FlagIntra
	FlagPredicted
	FlagBiPredictive
	FlagBiDirectional
)

// SampleFormat identifies the in-memory layout of one audio sample.
type SampleFormat int

// Interleaved audio sample formats.
const (
	SampleFmtNone SampleFormat = iota
	SampleFmtU8
	SampleFmtS16
	SampleFmtS32
	SampleFmtFLT
)

// Bytes returns the per-sample byte width, or 0 for SampleFmtNone.
func (f SampleFormat) Bytes() int {
	switch f {
	case SampleFmtU8:
		return 1
	case SampleFmtS16:
		return 2
	case SampleFmtS32, SampleFmtFLT:
		return 4
	}
	return 0
}

// String returns the parameter-string spelling of the format.
func (f SampleFormat) String() string {
	switch f {
	case SampleFmtU8:
		return "u8"
	case SampleFmtS16:
		return "s16"
	case SampleFmtS32:
		return "s32"
	case SampleFmtFLT:
		return "flt"
	}
	return "none"
}

// ParseSampleFormat maps a parameter-string spelling to a SampleFormat.
// Unknown spellings map to SampleFmtNone.
func ParseSampleFormat(s string) SampleFormat {
	switch s {
	case "u8":
		return SampleFmtU8
	case "s16":
		return SampleFmtS16
	case "s32":
		return SampleFmtS32
	case "flt":
		return SampleFmtFLT
	}
	return SampleFmtNone
}

// SampleInfo describes the PCM layout of an audio buffer.
type SampleInfo struct {
	Format     SampleFormat
	Channels   int
	SampleRate int
	Frames     int
}

// FrameSize returns the byte size of one frame (one sample per channel).
func (si SampleInfo) FrameSize() int {
	return si.Format.Bytes() * si.Channels
}

// PixelFormat identifies the in-memory layout of an image buffer.
type PixelFormat int

// Raw pixel formats.
const (
	PixFmtNone PixelFormat = iota
	PixFmtNV12
	PixFmtNV16
	PixFmtYUV420P
	PixFmtRGB24
	PixFmtBGR24
	PixFmtRGB32
	PixFmtBGR32
)

// bytesPerPixel returns the num/den factor such that a WxH image occupies
// W*H*num/den bytes.
func (f PixelFormat) bytesPerPixel() (num, den int) {
	switch f {
	case PixFmtNV12, PixFmtYUV420P:
		return 3, 2
	case PixFmtNV16:
		return 2, 1
	case PixFmtRGB24, PixFmtBGR24:
		return 3, 1
	case PixFmtRGB32, PixFmtBGR32:
		return 4, 1
	}
	return 0, 1
}

// String returns the parameter-string spelling of the format.
func (f PixelFormat) String() string {
	switch f {
	case PixFmtNV12:
		return "nv12"
	case PixFmtNV16:
		return "nv16"
	case PixFmtYUV420P:
		return "yuv420p"
	case PixFmtRGB24:
		return "rgb24"
	case PixFmtBGR24:
		return "bgr24"
	case PixFmtRGB32:
		return "rgb32"
	case PixFmtBGR32:
		return "bgr32"
	}
	return "none"
}

// ParsePixelFormat maps a parameter-string spelling to a PixelFormat.
// Unknown spellings map to PixFmtNone.
func ParsePixelFormat(s string) PixelFormat {
	switch s {
	case "nv12":
		return PixFmtNV12
	case "nv16":
		return PixFmtNV16
	case "yuv420p":
		return PixFmtYUV420P
	case "rgb24":
		return PixFmtRGB24
	case "bgr24":
		return PixFmtBGR24
	case "rgb32":
		return PixFmtRGB32
	case "bgr32":
		return PixFmtBGR32
	}
	return PixFmtNone
}

// ImageInfo describes the geometry and pixel format of an image buffer.
// VirWidth/VirHeight are the allocated (possibly hardware-aligned)
// dimensions and are never smaller than Width/Height.
type ImageInfo struct {
	Format    PixelFormat
	Width     int
	Height    int
	VirWidth  int
	VirHeight int
}

// Size returns the byte size implied by the pixel format over the virtual
// geometry, or 0 when the format is unknown.
func (ii ImageInfo) Size() int {
	num, den := ii.Format.bytesPerPixel()
	return ii.VirWidth * ii.VirHeight * num / den
}
