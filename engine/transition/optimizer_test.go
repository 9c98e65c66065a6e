package transition

import (
	"testing"

	"github.com/prism-rt/prism/engine/device"
)

func newTexture(t *testing.T, dev *device.TraceDevice, label string) device.Texture {
	t.Helper()
	tex, err := dev.CreateTexture(device.TextureDesc{
		Label:  label,
		Format: device.FormatRGBA16Float,
		Width:  64,
		Height: 64,
		Mips:   1,
		Usage:  device.TextureUsageShaderResource | device.TextureUsageStorage,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	return tex
}

func TestOptimizerDropsRedundantTransitions(t *testing.T) {
	dev := device.NewTraceDevice()
	tex := newTexture(t, dev, "ViewZ")
	opt := NewOptimizer(8)

	read := State{Access: device.AccessShaderResource, Layout: device.LayoutShaderResource}

	out := opt.Optimize([]Request{{Texture: tex, State: read}})
	if len(out) != 1 {
		t.Fatalf("first request: got %d barriers, want 1", len(out))
	}

	out = opt.Optimize([]Request{{Texture: tex, State: read}})
	if len(out) != 0 {
		t.Fatalf("repeated request: got %d barriers, want 0", len(out))
	}
}

func TestOptimizerStorageHazardAlwaysEmits(t *testing.T) {
	dev := device.NewTraceDevice()
	tex := newTexture(t, dev, "Diff")
	opt := NewOptimizer(8)

	write := State{Access: device.AccessShaderResourceStorage, Layout: device.LayoutGeneral}

	opt.Optimize([]Request{{Texture: tex, State: write}})
	out := opt.Optimize([]Request{{Texture: tex, State: write}})
	if len(out) != 1 {
		t.Fatalf("storage to storage: got %d barriers, want 1", len(out))
	}
	b := out[0]
	if b.FromAccess != device.AccessShaderResourceStorage || b.ToAccess != device.AccessShaderResourceStorage {
		t.Fatalf("storage hazard barrier has access %v -> %v", b.FromAccess, b.ToAccess)
	}
}

func TestOptimizerRecordsDroppedRequests(t *testing.T) {
	dev := device.NewTraceDevice()
	tex := newTexture(t, dev, "Normal")
	opt := NewOptimizer(8)

	read := State{Access: device.AccessShaderResource, Layout: device.LayoutShaderResource}
	write := State{Access: device.AccessShaderResourceStorage, Layout: device.LayoutGeneral}

	opt.Seed(tex, read)
	if out := opt.Optimize([]Request{{Texture: tex, State: read}}); len(out) != 0 {
		t.Fatalf("seeded request: got %d barriers, want 0", len(out))
	}

	out := opt.Optimize([]Request{{Texture: tex, State: write}})
	if len(out) != 1 {
		t.Fatalf("got %d barriers, want 1", len(out))
	}
	if out[0].FromAccess != device.AccessShaderResource {
		t.Fatalf("dropped request did not update the record: from %v", out[0].FromAccess)
	}
}

func TestOptimizerMixedBatch(t *testing.T) {
	dev := device.NewTraceDevice()
	a := newTexture(t, dev, "A")
	b := newTexture(t, dev, "B")
	c := newTexture(t, dev, "C")
	opt := NewOptimizer(8)

	read := State{Access: device.AccessShaderResource, Layout: device.LayoutShaderResource}
	write := State{Access: device.AccessShaderResourceStorage, Layout: device.LayoutGeneral}

	opt.Seed(a, read)
	opt.Seed(b, write)
	opt.Seed(c, write)

	out := opt.Optimize([]Request{
		{Texture: a, State: read},  // unchanged, dropped
		{Texture: b, State: write}, // storage hazard, kept
		{Texture: c, State: read},  // changed, kept
	})
	if len(out) != 2 {
		t.Fatalf("got %d barriers, want 2", len(out))
	}
	if out[0].Texture != b || out[1].Texture != c {
		t.Fatalf("unexpected barrier order: %q, %q", out[0].Texture.Label(), out[1].Texture.Label())
	}
}

func TestOptimizerCapacityOverflowPanics(t *testing.T) {
	dev := device.NewTraceDevice()
	a := newTexture(t, dev, "A")
	b := newTexture(t, dev, "B")
	opt := NewOptimizer(1)

	write := State{Access: device.AccessShaderResourceStorage, Layout: device.LayoutGeneral}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on batch overflow")
		}
	}()
	opt.Optimize([]Request{
		{Texture: a, State: write},
		{Texture: b, State: write},
	})
}
