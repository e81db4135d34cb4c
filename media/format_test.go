package media

import "testing"

func TestSampleFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fmt  SampleFormat
		want int
	}{
		{SampleFmtNone, 0},
		{SampleFmtU8, 1},
		{SampleFmtS16, 2},
		{SampleFmtS32, 4},
		{SampleFmtFLT, 4},
	}
	for _, tt := range tests {
		if got := tt.fmt.Bytes(); got != tt.want {
			t.Errorf("%v.Bytes() = %d, want %d", tt.fmt, got, tt.want)
		}
	}
}

func TestSampleFormatRoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range []SampleFormat{SampleFmtU8, SampleFmtS16, SampleFmtS32, SampleFmtFLT} {
		if got := ParseSampleFormat(f.String()); got != f {
			t.Errorf("ParseSampleFormat(%q) = %v, want %v", f.String(), got, f)
		}
	}
	if got := ParseSampleFormat("dsd"); got != SampleFmtNone {
		t.Errorf("ParseSampleFormat(dsd) = %v, want SampleFmtNone", got)
	}
}

func TestImageInfoSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fmt  PixelFormat
		want int
	}{
		{PixFmtNV12, 640 * 480 * 3 / 2},
		{PixFmtYUV420P, 640 * 480 * 3 / 2},
		{PixFmtNV16, 640 * 480 * 2},
		{PixFmtRGB24, 640 * 480 * 3},
		{PixFmtBGR32, 640 * 480 * 4},
		{PixFmtNone, 0},
	}
	for _, tt := range tests {
		ii := ImageInfo{Format: tt.fmt, Width: 640, Height: 480, VirWidth: 640, VirHeight: 480}
		if got := ii.Size(); got != tt.want {
			t.Errorf("%v size: got %d, want %d", tt.fmt, got, tt.want)
		}
	}
}

func TestParseMemType(t *testing.T) {
	t.Parallel()

	if ParseMemType("common") != MemCommon {
		t.Error("common should map to MemCommon")
	}
	if ParseMemType("hw_ion") != MemHW || ParseMemType("hw_drm") != MemHW {
		t.Error("hw_ion/hw_drm should map to MemHW")
	}
	if ParseMemType("") != MemCommon {
		t.Error("empty mem_type should default to MemCommon")
	}
}

func TestFrameSize(t *testing.T) {
	t.Parallel()

	si := SampleInfo{Format: SampleFmtS16, Channels: 2, SampleRate: 44100}
	if got := si.FrameSize(); got != 4 {
		t.Errorf("FrameSize: got %d, want 4", got)
	}
}
