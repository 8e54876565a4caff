package gpu

import (
	"bytes"
	"context"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"
)

func TestOpenNoopBackend(t *testing.T) {
	dev, err := Open("noop")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()
	if dev.AdapterInfo().Name == "" {
		t.Fatal("adapter name is empty")
	}
	if dev.AdapterInfo().Type != gpucontext.AdapterTypeUnknown {
		t.Fatalf("adapter type: got %v, want unknown", dev.AdapterInfo().Type)
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		name string
		want gputypes.Backend
		ok   bool
	}{
		{"", gputypes.BackendEmpty, true},
		{"noop", gputypes.BackendEmpty, true},
		{"Vulkan", gputypes.BackendVulkan, true},
		{"dx12", gputypes.BackendDX12, true},
		{"metal", gputypes.BackendMetal, true},
		{"gles", gputypes.BackendGL, true},
		{"glide", gputypes.BackendEmpty, false},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.name)
		if (err == nil) != tt.ok {
			t.Fatalf("ParseBackend(%q): err = %v, want ok=%v", tt.name, err, tt.ok)
		}
		if tt.ok && got != tt.want {
			t.Fatalf("ParseBackend(%q): got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBufferAddressesAreAlignedAndDistinct(t *testing.T) {
	dev := newTestDevice(nil)
	a, err := dev.CreateBuffer("a", 10, gputypes.BufferUsageVertex)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	b, _ := dev.CreateBuffer("b", 1000, gputypes.BufferUsageIndex)
	c, _ := dev.CreateBuffer("c", 1, gputypes.BufferUsageVertex)

	for _, buf := range []*Buffer{a, b, c} {
		if buf.Address%addressAlignment != 0 {
			t.Fatalf("%s: address %#x not %d-aligned", buf.Label, buf.Address, addressAlignment)
		}
	}
	if b.Address < a.Address+a.Size || c.Address < b.Address+b.Size {
		t.Fatalf("overlapping addresses: %#x %#x %#x", a.Address, b.Address, c.Address)
	}
	if dev.LiveBuffers() != 3 {
		t.Fatalf("LiveBuffers: got %d, want 3", dev.LiveBuffers())
	}
}

func TestStorageBuffersGetViews(t *testing.T) {
	dev := newTestDevice(nil)
	plain, _ := dev.CreateBuffer("plain", 64, gputypes.BufferUsageVertex)
	if plain.View != NoView {
		t.Fatalf("vertex buffer got view %d", plain.View)
	}

	s1, _ := dev.CreateBuffer("s1", 64, gputypes.BufferUsageStorage)
	s2, _ := dev.CreateBuffer("s2", 64, gputypes.BufferUsageStorage)
	if s1.View == s2.View {
		t.Fatal("two live buffers share a view slot")
	}
	if dev.Views().Lookup(s2.View) != s2 {
		t.Fatal("Lookup does not return the owning buffer")
	}

	slot := s1.View
	dev.DestroyBuffer(s1)
	if s1.Alive() {
		t.Fatal("destroyed buffer still alive")
	}
	if dev.Views().Lookup(slot) != nil {
		t.Fatal("freed slot still resolves")
	}
	s3, _ := dev.CreateBuffer("s3", 64, gputypes.BufferUsageStorage)
	if s3.View != slot {
		t.Fatalf("freed slot not reused: got %d, want %d", s3.View, slot)
	}
	if dev.Views().Len() != 2 {
		t.Fatalf("views in use: got %d, want 2", dev.Views().Len())
	}
}

func TestCreateBufferWithDataRoundTrip(t *testing.T) {
	dev := newTestDevice(nil)
	data := []byte("voxels all the way down")
	b, err := dev.CreateBufferWithData("data", data, gputypes.BufferUsageCopySrc)
	if err != nil {
		t.Fatalf("CreateBufferWithData: %v", err)
	}
	got, err := dev.ReadBuffer(b, 0, b.Size)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("ReadBuffer: got %q, want %q", got, data)
	}
}

func TestUploadReleasesStagingAfterFence(t *testing.T) {
	mq := &manualQueue{}
	dev := newTestDevice(mq)
	r := &Retirer{}
	q := NewQueue(dev, mq, KindCopy, r)

	dst, _ := dev.CreateBuffer("dst", 128, gputypes.BufferUsageCopyDst|gputypes.BufferUsageVertex)
	cl, _ := q.Begin("upload")
	if err := cl.Upload(dst, 16, make([]byte, 64)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	st := cl.Stats()
	if st.Uploads != 1 || st.Copies != 1 || st.UploadBytes != 64 {
		t.Fatalf("stats: got %+v", st)
	}
	if dev.LiveBuffers() != 2 {
		t.Fatalf("LiveBuffers with staging: got %d, want 2", dev.LiveBuffers())
	}

	f, err := q.Execute(cl)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n := r.Collect(); n != 0 {
		t.Fatalf("Collect before completion ran %d entries", n)
	}
	if dev.LiveBuffers() != 2 {
		t.Fatal("staging buffer destroyed while in flight")
	}

	mq.finishAll()
	if !q.QueryCompleted(f) {
		t.Fatal("fence not complete")
	}
	if n := r.Collect(); n != 1 {
		t.Fatalf("Collect: ran %d, want 1", n)
	}
	if dev.LiveBuffers() != 1 {
		t.Fatalf("LiveBuffers after collect: got %d, want 1", dev.LiveBuffers())
	}
}

func TestCopyUsageIsChecked(t *testing.T) {
	dev := newTestDevice(nil)
	q := NewQueue(dev, dev.Queue(), KindCopy, &Retirer{})
	src, _ := dev.CreateBuffer("src", 16, gputypes.BufferUsageVertex)
	dst, _ := dev.CreateBuffer("dst", 16, gputypes.BufferUsageCopyDst)
	cl, _ := q.Begin("bad copy")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic copying from a buffer without CopySrc")
		}
	}()
	cl.Copy(src, dst, 0, 0, 16)
}

func TestDiscardRunsDeferredImmediately(t *testing.T) {
	dev := newTestDevice(nil)
	q := NewQueue(dev, dev.Queue(), KindGraphics, &Retirer{})
	cl, _ := q.Begin("scratch")
	ran := false
	cl.Defer(func() { ran = true })
	cl.Discard()
	if !ran {
		t.Fatal("deferred work did not run on Discard")
	}
}

func TestManagerWaitForIdleFlushes(t *testing.T) {
	dev := newTestDevice(nil)
	m := NewQueueManager(dev)
	buf, _ := dev.CreateBuffer("old mesh", 64, gputypes.BufferUsageVertex)

	cl, _ := m.BeginGraphics("frame")
	cl.Release(buf)
	if _, err := m.ExecuteGraphics(cl); err != nil {
		t.Fatalf("ExecuteGraphics: %v", err)
	}
	if err := m.WaitForIdle(context.Background()); err != nil {
		t.Fatalf("WaitForIdle: %v", err)
	}
	if buf.Alive() {
		t.Fatal("released buffer survived WaitForIdle")
	}
	if m.Retirer().Pending() != 0 {
		t.Fatalf("pending after idle: %d", m.Retirer().Pending())
	}
}

func TestBarrierNeedsBothUsages(t *testing.T) {
	dev := newTestDevice(nil)
	q := NewQueue(dev, dev.Queue(), KindGraphics, &Retirer{})
	buf, _ := dev.CreateBuffer("scratch", 64, gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst)
	cl, _ := q.Begin("barriers")
	defer cl.Discard()

	cl.Barrier(buf, gputypes.BufferUsageCopyDst, gputypes.BufferUsageCopySrc)
	if got := cl.Stats().Barriers; got != 1 {
		t.Fatalf("barriers: got %d, want 1", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on a barrier to a usage the buffer lacks")
		}
	}()
	cl.Barrier(buf, gputypes.BufferUsageCopyDst, gputypes.BufferUsageStorage)
}
