package media

import (
	"fmt"
	"strconv"

	"github.com/zsiec/mediaflow/param"
)

// ConfigKind tags which arm of a MediaConfig is populated.
type ConfigKind int

// MediaConfig arms.
const (
	ConfigNone ConfigKind = iota
	ConfigVideo
	ConfigAudio
)

// VideoConfig is the encoder-facing description of a video stream.
type VideoConfig struct {
	Image     ImageInfo
	BitRate   int
	FrameRate int
	GOP       int
	Quality   int
	Profile   int
	Level     int
	Codec     string
}

// AudioConfig is the encoder-facing description of an audio stream.
// Quality follows the vorbis VBR convention: -0.1 (lowest) to 1.0 (highest).
type AudioConfig struct {
	Sample  SampleInfo
	BitRate int
	Quality float64
	Codec   string
}

// MediaConfig is a tagged configuration with a video or audio arm.
type MediaConfig struct {
	Kind  ConfigKind
	Video VideoConfig
	Audio AudioConfig
}

// ParseImageInfo builds an ImageInfo from a parameter map. Width and height
// are required; virtual geometry defaults to the real geometry and is
// clamped to be no smaller than it.
func ParseImageInfo(m map[string]string) (ImageInfo, error) {
	pf := ParsePixelFormat(m[param.KeyPixelFormat])
	if pf == PixFmtNone {
		return ImageInfo{}, fmt.Errorf("media: missing or unknown %s", param.KeyPixelFormat)
	}
	w := param.Int(m, param.KeyWidth, 0)
	h := param.Int(m, param.KeyHeight, 0)
	if w <= 0 || h <= 0 {
		return ImageInfo{}, fmt.Errorf("media: missing %s/%s", param.KeyWidth, param.KeyHeight)
	}
	vw := param.Int(m, param.KeyVirtualWidth, w)
	vh := param.Int(m, param.KeyVirtualHeight, h)
	if vw < w {
		vw = w
	}
	if vh < h {
		vh = h
	}
	return ImageInfo{Format: pf, Width: w, Height: h, VirWidth: vw, VirHeight: vh}, nil
}

// ParseSampleInfo builds a SampleInfo from a parameter map. Format,
// channels, and sample rate are required.
func ParseSampleInfo(m map[string]string) (SampleInfo, error) {
	sf := ParseSampleFormat(m[param.KeySampleFormat])
	if sf == SampleFmtNone {
		return SampleInfo{}, fmt.Errorf("media: missing or unknown %s", param.KeySampleFormat)
	}
	ch := param.Int(m, param.KeyChannels, 0)
	rate := param.Int(m, param.KeySampleRate, 0)
	if ch <= 0 || rate <= 0 {
		return SampleInfo{}, fmt.Errorf("media: missing %s/%s", param.KeyChannels, param.KeySampleRate)
	}
	return SampleInfo{Format: sf, Channels: ch, SampleRate: rate}, nil
}

// ParseVideoConfig builds the video arm of a MediaConfig from a parameter
// map.
func ParseVideoConfig(m map[string]string) (MediaConfig, error) {
	ii, err := ParseImageInfo(m)
	if err != nil {
		return MediaConfig{}, err
	}
	return MediaConfig{
		Kind: ConfigVideo,
		Video: VideoConfig{
			Image:     ii,
			BitRate:   param.Int(m, param.KeyBitRate, 0),
			FrameRate: param.Int(m, param.KeyFPS, 0),
			Quality:   param.Int(m, param.KeyQuality, 0),
			Codec:     m[param.KeyCodec],
		},
	}, nil
}

// ParseAudioConfig builds the audio arm of a MediaConfig from a parameter
// map.
func ParseAudioConfig(m map[string]string) (MediaConfig, error) {
	si, err := ParseSampleInfo(m)
	if err != nil {
		return MediaConfig{}, err
	}
	quality := 0.0
	if v := m[param.KeyQuality]; v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return MediaConfig{}, fmt.Errorf("media: bad %s %q: %w", param.KeyQuality, v, err)
		}
		quality = q
	}
	return MediaConfig{
		Kind: ConfigAudio,
		Audio: AudioConfig{
			Sample:  si,
			BitRate: param.Int(m, param.KeyBitRate, 0),
			Quality: quality,
			Codec:   m[param.KeyCodec],
		},
	}, nil
}
