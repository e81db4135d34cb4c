package stream

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hajimehoshi/oto/v2"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/registry"
)

// Oto allows a single context per process; the first playback stream's
// parameters win and later streams mix into the same context.
var (
	otoMu   sync.Mutex
	otoCtx  *oto.Context
	otoRate int
	otoCh   int
)

func playbackContext(sampleRate, channels int) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if sampleRate != otoRate || channels != otoCh {
			slog.Warn("audio context already initialized, mixing into it",
				"rate", otoRate, "channels", otoCh,
				"requestedRate", sampleRate, "requestedChannels", channels)
		}
		return otoCtx, nil
	}
	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("stream: audio context: %w", err)
	}
	// Readiness is asynchronous on some platforms; writes before the
	// context is ready are buffered by the player.
	go func() { <-ready }()
	otoCtx = ctx
	otoRate = sampleRate
	otoCh = channels
	return ctx, nil
}

// PlaybackStream is a write-only sink that plays interleaved s16 PCM on
// the default audio output. Write blocks as the player drains, which paces
// upstream producers to real time.
type PlaybackStream struct {
	player oto.Player
	pw     *io.PipeWriter
	closed bool
	mu     sync.Mutex
}

// OpenPlayback creates a playback stream. Only SampleFmtS16 is supported.
func OpenPlayback(si media.SampleInfo) (*PlaybackStream, error) {
	if si.Format != media.SampleFmtS16 {
		return nil, fmt.Errorf("%w: playback needs s16 samples, got %s", ErrUnsupported, si.Format)
	}
	if si.Channels <= 0 || si.SampleRate <= 0 {
		return nil, fmt.Errorf("stream: bad sample info %+v", si)
	}
	ctx, err := playbackContext(si.SampleRate, si.Channels)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)
	player.Play()
	return &PlaybackStream{player: player, pw: pw}, nil
}

// Read is not supported; playback is a sink.
func (s *PlaybackStream) Read(p []byte) (int, error) { return 0, ErrUnsupported }

// Write queues PCM bytes for playback, blocking as the device drains.
func (s *PlaybackStream) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// Seek is not supported on a live output.
func (s *PlaybackStream) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrUnsupported
}

// Eof always reports false; a sink has no read side to exhaust.
func (s *PlaybackStream) Eof() bool { return false }

// IoCtrl is not supported.
func (s *PlaybackStream) IoCtrl(request uint, arg uintptr) (int, error) {
	return -1, ErrUnsupported
}

// Close stops feeding the player and releases it.
func (s *PlaybackStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.pw.Close()
	return s.player.Close()
}

func registerPlayback(r *registry.Registry) {
	r.Register(registry.KindStream, AudioPlaybackStream, registry.Factory{
		New: func(params map[string]string) (any, error) {
			si, err := media.ParseSampleInfo(params)
			if err != nil {
				return nil, err
			}
			return OpenPlayback(si)
		},
		Match: registry.TagMatcher(media.AudioPCMS16, ""),
	})
}
