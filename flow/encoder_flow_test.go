package flow

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/mediaflow/codec"
	"github.com/zsiec/mediaflow/media"
)

// stubEncoder is a synchronous test codec: each output carries the current
// bitrate target in its first four bytes, so tests can observe when a
// BitRateChange lands.
type stubEncoder struct {
	codec.Base
	mu      sync.Mutex
	bitRate int
	changes codec.ChangeQueue
	inited  bool
}

func newStubEncoder() *stubEncoder {
	return &stubEncoder{Base: codec.NewBase("stub")}
}

func (e *stubEncoder) Init() error { return nil }

func (e *stubEncoder) InitConfig(cfg media.MediaConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bitRate = cfg.Video.BitRate
	e.inited = true
	return nil
}

func (e *stubEncoder) RequestChange(mask uint32, value *codec.ChangeParam) {
	e.changes.Push(mask, value)
}

func (e *stubEncoder) Process(input, output, extra *media.Buffer) error {
	// Apply queued changes before the frame, like a real backend.
	for {
		req, ok := e.changes.Peek()
		if !ok {
			break
		}
		if req.Mask == codec.BitRateChange && req.Param != nil {
			e.mu.Lock()
			e.bitRate = req.Param.Value
			e.mu.Unlock()
		}
	}
	e.mu.Lock()
	br := e.bitRate
	e.mu.Unlock()

	binary.BigEndian.PutUint32(output.Bytes()[:4], uint32(br))
	n := copy(output.Bytes()[4:], input.ValidBytes())
	output.SetValidSize(4 + n)
	return nil
}

func TestEncoderFlowAppliesBitRateChange(t *testing.T) {
	t.Parallel()

	enc := newStubEncoder()
	cfg := media.MediaConfig{
		Kind: media.ConfigVideo,
		Video: media.VideoConfig{
			Image:   media.ImageInfo{Format: media.PixFmtNV12, Width: 4, Height: 4, VirWidth: 4, VirHeight: 4},
			BitRate: 1000000,
		},
	}
	ef, err := NewEncoderFlow("stub-enc", enc, cfg, nil)
	if err != nil {
		t.Fatalf("NewEncoderFlow: %v", err)
	}
	defer ef.Close()

	sink := newRecordSink(t, SlotConfig{Capacity: 8, Policy: Block})
	defer sink.StopAllThreads()
	if err := ef.AddDownFlow(sink.Flow, 0, 0); err != nil {
		t.Fatal(err)
	}

	send := func(ts int64, eof bool) {
		b, _ := media.Alloc(16, media.MemCommon)
		b.SetValidSize(16)
		b.SetTimestamp(ts)
		b.SetEOF(eof)
		if err := ef.SendInput(b, 0); err != nil {
			t.Fatal(err)
		}
	}

	waitOutputs := func(n int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			sink.mu.Lock()
			got := len(sink.payloads)
			sink.mu.Unlock()
			if got >= n {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("sink stuck at %d outputs, want %d", got, n)
			}
			time.Sleep(time.Millisecond)
		}
	}

	send(1, false)
	waitOutputs(1) // the first frame encodes before the change is requested
	ef.RequestChange(codec.BitRateChange, &codec.ChangeParam{Value: 500000})
	send(2, false)
	send(3, true)

	select {
	case <-sink.eofSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("EOF never reached the sink")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.payloads) < 3 {
		t.Fatalf("sink saw %d outputs, want at least 3", len(sink.payloads))
	}
	first := binary.BigEndian.Uint32(sink.payloads[0][:4])
	if first != 1000000 {
		t.Errorf("first frame bitrate: got %d, want 1000000", first)
	}
	// The change lands before the next frame.
	second := binary.BigEndian.Uint32(sink.payloads[1][:4])
	if second != 500000 {
		t.Errorf("post-change bitrate: got %d, want 500000", second)
	}
}

func TestEncoderFlowEmitsExtraDataFirst(t *testing.T) {
	t.Parallel()

	enc := newStubEncoder()
	enc.SetExtraData([]byte("headers"))
	ef, err := NewEncoderFlow("stub-enc", enc, media.MediaConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()

	sink := newRecordSink(t, SlotConfig{Capacity: 8, Policy: Block})
	defer sink.StopAllThreads()
	if err := ef.AddDownFlow(sink.Flow, 0, 0); err != nil {
		t.Fatal(err)
	}

	b, _ := media.Alloc(8, media.MemCommon)
	b.SetValidSize(8)
	b.SetEOF(true)
	if err := ef.SendInput(b, 0); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sink.eofSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("EOF never reached the sink")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.payloads) < 2 {
		t.Fatalf("sink saw %d buffers, want extra data + frame", len(sink.payloads))
	}
	if string(sink.payloads[0]) != "headers" {
		t.Errorf("first buffer: got %q, want the extra data", sink.payloads[0])
	}
	if sink.flags[0]&media.FlagExtraIntra == 0 {
		t.Error("extra data buffer should be flagged ExtraIntra")
	}
}
