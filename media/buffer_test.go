package media

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"unsafe"
)

func TestAllocCloneByteEqual(t *testing.T) {
	t.Parallel()

	src, err := Alloc(256, MemCommon)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(i)
	}
	src.SetValidSize(200)
	src.SetType(TypeGeneric)
	src.SetUserFlag(FlagIntra)
	src.SetTimestamp(12345)

	mid, err := Clone(src, MemCommon)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	dst, err := Clone(mid, MemCommon)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	if !bytes.Equal(dst.ValidBytes(), src.ValidBytes()) {
		t.Error("double clone: valid range not byte-equal to source")
	}
	if dst.ValidSize() != src.ValidSize() {
		t.Errorf("valid size: got %d, want %d", dst.ValidSize(), src.ValidSize())
	}
	if dst.Type() != TypeGeneric || dst.UserFlag() != FlagIntra || dst.Timestamp() != 12345 {
		t.Error("clone did not carry attributes")
	}

	src.Release()
	mid.Release()
	dst.Release()
}

func TestReleaseOrder(t *testing.T) {
	t.Parallel()

	b, err := Alloc(16, MemCommon)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	var order []string
	b.SetUserData("payload", func(any) { order = append(order, "user") })
	for _, name := range []string{"h0", "h1", "h2"} {
		name := name
		b.AttachRelated(Holder{Value: name, Release: func() { order = append(order, name) }}, -1)
	}

	b.Retain()
	b.Release()
	if len(order) != 0 {
		t.Fatalf("released with a reference still held: %v", order)
	}
	b.Release()

	// User payload first, then holders in reverse attach order.
	want := []string{"user", "h2", "h1", "h0"}
	if len(order) != len(want) {
		t.Fatalf("release callbacks: got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("release order: got %v, want %v", order, want)
		}
	}
}

func TestSetUserDataReplacesPayload(t *testing.T) {
	t.Parallel()

	b := WrapBytes(make([]byte, 4))
	first := 0
	second := 0
	b.SetUserData(1, func(any) { first++ })
	b.SetUserData(2, func(any) { second++ })
	if first != 1 {
		t.Errorf("previous payload deleter: fired %d times, want 1", first)
	}
	b.Release()
	if second != 1 {
		t.Errorf("final payload deleter: fired %d times, want 1", second)
	}
}

func TestAttachRelatedAtIndex(t *testing.T) {
	t.Parallel()

	b := WrapBytes(nil)
	b.AttachRelated(Holder{Value: "at3"}, 3)
	if got := len(b.Related()); got != 4 {
		t.Fatalf("holder vector length: got %d, want 4", got)
	}
	if b.Related()[3].Value != "at3" {
		t.Error("holder not assigned at index 3")
	}
	if b.Related()[0].Value != nil {
		t.Error("padding slots should be empty")
	}
	b.Release()
}

func TestSampleBufferFramesInvariant(t *testing.T) {
	t.Parallel()

	b, err := Alloc(4096, MemCommon)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer b.Release()

	b.SetSampleInfo(SampleInfo{Format: SampleFmtS16, Channels: 2, SampleRate: 48000})
	if b.Type() != TypeAudio {
		t.Errorf("type: got %v, want TypeAudio", b.Type())
	}
	b.SetFrames(1024)
	if got := b.ValidSize(); got != 1024*4 {
		t.Errorf("valid size after SetFrames: got %d, want %d", got, 1024*4)
	}
	si, ok := b.SampleInfo()
	if !ok || si.Frames != 1024 {
		t.Errorf("sample info frames: got %+v ok=%v", si, ok)
	}
}

func TestImageBufferValidSize(t *testing.T) {
	t.Parallel()

	ii := ImageInfo{Format: PixFmtNV12, Width: 320, Height: 240, VirWidth: 320, VirHeight: 240}
	b, err := Alloc(ii.Size(), MemCommon)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer b.Release()

	b.SetImageInfo(ii)
	if b.Type() != TypeImage {
		t.Errorf("type: got %v, want TypeImage", b.Type())
	}
	want := 320 * 240 * 3 / 2
	if got := b.ValidSize(); got != want {
		t.Errorf("valid size: got %d, want %d", got, want)
	}
}

func TestSetValidSizePanicsOutOfRange(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("SetValidSize beyond capacity did not panic")
		}
	}()
	b, _ := Alloc(8, MemCommon)
	b.SetValidSize(9)
}

func TestAllocAligned(t *testing.T) {
	t.Parallel()

	b, err := AllocAligned(100, true)
	if err != nil {
		t.Fatalf("AllocAligned: %v", err)
	}
	defer b.Release()

	page := uintptr(os.Getpagesize())
	if addr := uintptr(unsafe.Pointer(&b.Bytes()[0])); addr%page != 0 {
		t.Errorf("region not page aligned: %#x", addr)
	}
	if b.Size() != 100 {
		t.Errorf("size: got %d, want 100", b.Size())
	}
}

func TestAllocHW(t *testing.T) {
	t.Parallel()

	b, err := Alloc(4096, MemHW)
	if errors.Is(err, ErrUnsupported) {
		t.Skip("hardware memory not wired on this platform")
	}
	if err != nil {
		t.Fatalf("Alloc(MemHW): %v", err)
	}

	if !b.IsHW() {
		t.Fatal("hardware buffer without handle")
	}
	h, ok := b.HW()
	if !ok || h.FD < 0 {
		t.Fatalf("hardware handle: %+v ok=%v", h, ok)
	}
	// The mapping is host-visible: write through the pointer, clone to
	// common memory, and compare.
	for i := range b.Bytes() {
		b.Bytes()[i] = byte(i * 7)
	}
	b.SetValidSize(4096)
	c, err := Clone(b, MemCommon)
	if err != nil {
		t.Fatalf("Clone hw→common: %v", err)
	}
	if !bytes.Equal(c.ValidBytes(), b.ValidBytes()) {
		t.Error("hw→common clone not byte-equal")
	}
	c.Release()
	b.Release()
}

func TestWrapBytesBorrowed(t *testing.T) {
	t.Parallel()

	backing := []byte{1, 2, 3, 4}
	released := false
	b := WrapBytes(backing)
	b.AttachRelated(Holder{Value: backing, Release: func() { released = true }}, -1)
	b.SetValidSize(4)
	b.Release()
	if !released {
		t.Error("related holder did not fire on release")
	}
	// The borrowed backing itself is untouched.
	if backing[0] != 1 {
		t.Error("borrowed region was modified by release")
	}
}
