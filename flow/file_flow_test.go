package flow

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
	"github.com/zsiec/mediaflow/stream"
)

func newFlowTestRegistry() *registry.Registry {
	r := registry.New()
	stream.RegisterWith(r)
	RegisterWith(r)
	return r
}

func TestFileReadFlowChunking(t *testing.T) {
	t.Parallel()

	// A 10,000-byte input read 4096 at a time yields 4096, 4096, 1808,
	// then one EOF.
	path := filepath.Join(t.TempDir(), "in.bin")
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r := newFlowTestRegistry()
	var pb param.Builder
	pb.Set(param.KeyPath, path).
		SetInt(param.KeyMemSizePerTime, 4096).
		SetInt(param.KeyLoopTime, 0)
	src, err := registry.CreateAs[*FileReadFlow](r, registry.KindFlow, "file_read_flow", pb.String())
	if err != nil {
		t.Fatalf("create file_read_flow: %v", err)
	}
	defer src.Close()

	sink := newRecordSink(t, SlotConfig{Capacity: 8, Policy: Block})
	defer sink.StopAllThreads()
	if err := src.AddDownFlow(sink.Flow, 0, 0); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sink.eofSeen:
	case <-time.After(10 * time.Second):
		t.Fatal("EOF never reached the sink")
	}

	_, sizes := sink.recorded()
	want := []int{4096, 4096, 1808}
	if len(sizes) != len(want) {
		t.Fatalf("sink saw sizes %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("buffer %d size: got %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestFileReadFlowLoopTime(t *testing.T) {
	t.Parallel()

	// loop_time=2 replays the file twice after the first pass.
	path := filepath.Join(t.TempDir(), "in.bin")
	content := []byte("0123456789abcdef") // 16 bytes, chunk size 8 → 2 chunks/pass
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	r := newFlowTestRegistry()
	var pb param.Builder
	pb.Set(param.KeyPath, path).
		SetInt(param.KeyMemSizePerTime, 8).
		SetInt(param.KeyLoopTime, 2)
	src, err := registry.CreateAs[*FileReadFlow](r, registry.KindFlow, "file_read_flow", pb.String())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	sink := newRecordSink(t, SlotConfig{Capacity: 16, Policy: Block})
	defer sink.StopAllThreads()
	if err := src.AddDownFlow(sink.Flow, 0, 0); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sink.eofSeen:
	case <-time.After(10 * time.Second):
		t.Fatal("EOF never reached the sink")
	}

	_, sizes := sink.recorded()
	if len(sizes) != 6 { // 2 chunks × 3 passes
		t.Errorf("sink saw %d chunks, want 6", len(sizes))
	}
}

func TestFileWriteFlowRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.bin")
	outPath := filepath.Join(dir, "out.bin")
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i * 3)
	}
	if err := os.WriteFile(inPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r := newFlowTestRegistry()
	var pbIn param.Builder
	pbIn.Set(param.KeyPath, inPath).SetInt(param.KeyMemSizePerTime, 512)
	src, err := registry.CreateAs[*FileReadFlow](r, registry.KindFlow, "file_read_flow", pbIn.String())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	var pbOut param.Builder
	pbOut.Set(param.KeyPath, outPath)
	dst, err := registry.CreateAs[*FileWriteFlow](r, registry.KindFlow, "file_write_flow", pbOut.String())
	if err != nil {
		t.Fatal(err)
	}
	if err := src.AddDownFlow(dst.Flow, 0, 0); err != nil {
		t.Fatal(err)
	}

	// The sink worker exits once the EOF buffer passes through.
	done := make(chan struct{})
	go func() {
		dst.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("write flow did not finish")
	}
	if err := dst.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip: %d bytes out, %d in, equal=%v", len(got), len(data), bytes.Equal(got, data))
	}
}

func TestFileReadFlowMissingParams(t *testing.T) {
	t.Parallel()

	r := newFlowTestRegistry()
	if _, err := r.Create(registry.KindFlow, "file_read_flow", ""); err == nil {
		t.Error("construction without path should fail")
	}
	if _, err := r.Create(registry.KindFlow, "file_read_flow", "path=/tmp/x\n"); err == nil {
		t.Error("construction without size or geometry should fail")
	}
}
