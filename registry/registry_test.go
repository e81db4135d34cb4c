package registry

import (
	"errors"
	"testing"

	"github.com/zsiec/mediaflow/media"
	"github.com/zsiec/mediaflow/param"
)

type fakeStream struct {
	params map[string]string
}

func TestCreate(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(KindStream, "fake_stream", Factory{
		New: func(params map[string]string) (any, error) {
			if params[param.KeyPath] == "" {
				return nil, errors.New("missing path")
			}
			return &fakeStream{params: params}, nil
		},
	})

	inst, err := r.Create(KindStream, "fake_stream", "path=/tmp/x\nopen_mode=re\n")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fs, ok := inst.(*fakeStream)
	if !ok {
		t.Fatalf("Create returned %T, want *fakeStream", inst)
	}
	if fs.params[param.KeyOpenMode] != "re" {
		t.Errorf("open_mode: got %q, want re", fs.params[param.KeyOpenMode])
	}
}

func TestCreateConstructionFailure(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(KindStream, "fake_stream", Factory{
		New: func(params map[string]string) (any, error) {
			return nil, errors.New("missing path")
		},
	})

	if _, err := r.Create(KindStream, "fake_stream", ""); err == nil {
		t.Fatal("Create should surface constructor errors")
	}
}

func TestCreateNotFound(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Create(KindEncoder, "no_such_codec", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Create unknown: got %v, want ErrNotFound", err)
	}
}

func TestKindsArePartitioned(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(KindEncoder, "thing", Factory{New: func(map[string]string) (any, error) { return "encoder", nil }})
	r.Register(KindDecoder, "thing", Factory{New: func(map[string]string) (any, error) { return "decoder", nil }})

	enc, err := r.Create(KindEncoder, "thing", "")
	if err != nil || enc != "encoder" {
		t.Fatalf("encoder kind: got %v, %v", enc, err)
	}
	dec, err := r.Create(KindDecoder, "thing", "")
	if err != nil || dec != "decoder" {
		t.Fatalf("decoder kind: got %v, %v", dec, err)
	}
}

func TestIsMatch(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(KindEncoder, "vorbis", Factory{
		New:   func(map[string]string) (any, error) { return nil, nil },
		Match: TagMatcher(media.AudioPCMS16, media.AudioVorbis),
	})

	tests := []struct {
		rule string
		want bool
	}{
		{"input_data_type=audio:pcm_s16", true},
		{"output_data_type=audio:vorbis", true},
		{"input_data_type=audio:pcm_s16\noutput_data_type=audio:vorbis", true},
		{"input_data_type=image:nv12", false},
		{"input_data_type=audio:pcm_s16,audio:pcm_s32", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := r.IsMatch(KindEncoder, "vorbis", tt.rule); got != tt.want {
			t.Errorf("IsMatch(%q) = %v, want %v", tt.rule, got, tt.want)
		}
	}

	if r.IsMatch(KindEncoder, "missing", "input_data_type=audio:pcm_s16") {
		t.Error("IsMatch on unknown name should be false")
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	r := New()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		r.Register(KindFlow, n, Factory{New: func(map[string]string) (any, error) { return nil, nil }})
	}
	got := r.Names(KindFlow)
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("Names: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names: got %v, want %v", got, want)
		}
	}
}

func TestCreateAs(t *testing.T) {
	t.Parallel()

	r := New()
	r.Register(KindStream, "fake_stream", Factory{
		New: func(params map[string]string) (any, error) { return &fakeStream{params: params}, nil },
	})

	fs, err := CreateAs[*fakeStream](r, KindStream, "fake_stream", "path=/x")
	if err != nil {
		t.Fatalf("CreateAs: %v", err)
	}
	if fs.params[param.KeyPath] != "/x" {
		t.Errorf("params: %v", fs.params)
	}

	if _, err := CreateAs[int](r, KindStream, "fake_stream", ""); err == nil {
		t.Error("CreateAs with wrong type should fail")
	}
}
