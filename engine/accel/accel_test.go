package accel

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/prism-rt/prism/engine/device"
	"github.com/prism-rt/prism/engine/frame"
	"github.com/prism-rt/prism/engine/registry"
	"github.com/prism-rt/prism/engine/scene"
)

func testScene(t *testing.T) scene.Scene {
	t.Helper()
	sc := scene.NewScene("test", scene.WithComputeWorkers(1))
	sc.AddMesh(scene.Mesh{
		Name:     "tri",
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []uint32{0, 1, 2},
	})
	sc.AddMaterial(scene.Material{Name: "opaque", BaseColor: [4]float32{1, 1, 1, 1}})
	sc.AddMaterial(scene.Material{Name: "emissive", BaseColor: [4]float32{1, 1, 1, 1}, Emissive: [3]float32{4, 4, 4}})
	sc.AddMaterial(scene.Material{Name: "off", BaseColor: [4]float32{0, 0, 0, 0}})
	sc.AddMaterial(scene.Material{Name: "glass", BaseColor: [4]float32{1, 1, 1, 0.4}})
	return sc
}

func identityTransform() [16]float32 {
	var m [16]float32
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	return m
}

func testSetup(t *testing.T, sc scene.Scene, capacity uint32) (*device.TraceDevice, registry.Registry, frame.Slots, Manager) {
	t.Helper()
	dev := device.NewTraceDevice()
	reg, err := registry.NewRegistry(dev, registry.Config{
		RenderWidth:      64,
		RenderHeight:     64,
		OutputWidth:      64,
		OutputHeight:     64,
		FrameSlots:       2,
		InstanceCapacity: capacity,
		PrimitiveNum:     sc.PrimitiveNum(),
		ConstantSize:     512,
		ShaderTableSize:  4096,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.AllocateAll(); err != nil {
		t.Fatalf("AllocateAll: %v", err)
	}
	ring := func(slotSize uint64) frame.RingRegion {
		r, err := frame.NewRingRegion(2*slotSize, slotSize, 2)
		if err != nil {
			t.Fatalf("NewRingRegion: %v", err)
		}
		return r
	}
	slots, err := frame.NewSlots(dev, frame.Config{
		Count:    2,
		Constant: ring(reg.ConstantRegionSize()),
		Instance: ring(uint64(capacity) * registry.InstanceDataStride),
		Tlas:     ring(uint64(capacity) * registry.TlasInstanceStride),
	})
	if err != nil {
		t.Fatalf("NewSlots: %v", err)
	}
	mgr, err := NewManager(dev, reg, sc, capacity)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := mgr.BuildStatic(); err != nil {
		t.Fatalf("BuildStatic: %v", err)
	}
	return dev, reg, slots, mgr
}

func rebuildOnce(t *testing.T, dev *device.TraceDevice, slots frame.Slots, mgr Manager, desc RebuildDesc) RebuildStats {
	t.Helper()
	slot := slots.Acquire(desc.FrameIndex)
	if err := slot.Main.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	stats, err := mgr.Rebuild(slot.Main, slot, desc)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if err := slot.Main.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := dev.Queue().Submit([]device.CommandBuffer{slot.Main}, slot.Fence); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return stats
}

func TestRebuildClassification(t *testing.T) {
	sc := testScene(t)
	// One instance per material: opaque, emissive, off, transparent.
	for mat := 0; mat < 4; mat++ {
		sc.AddInstance(scene.Instance{MeshIndex: 0, MaterialIndex: mat, ObjectToWorld: identityTransform()})
	}
	dev, _, slots, mgr := testSetup(t, sc, 8)

	stats := rebuildOnce(t, dev, slots, mgr, RebuildDesc{Emission: true})

	if stats.WorldInstanceNum != 3 {
		t.Fatalf("world instances: got %d, want 3 (off material skipped)", stats.WorldInstanceNum)
	}
	if stats.LightInstanceNum != 1 {
		t.Fatalf("light instances: got %d, want 1 (emissive only)", stats.LightInstanceNum)
	}
	if stats.LightInstanceNum > stats.WorldInstanceNum {
		t.Fatalf("light TLAS larger than world TLAS: %d > %d", stats.LightInstanceNum, stats.WorldInstanceNum)
	}

	// Both rebuilds must be recorded with the packed counts.
	var builds []device.Op
	for _, op := range dev.Log() {
		if op.Kind == device.OpBuildTLAS {
			builds = append(builds, op)
		}
	}
	if len(builds) != 2 {
		t.Fatalf("got %d TLAS builds, want 2", len(builds))
	}
	if builds[0].Name != "World" || builds[0].InstanceNum != 3 {
		t.Fatalf("world build: %q with %d instances", builds[0].Name, builds[0].InstanceNum)
	}
	if builds[1].Name != "Light" || builds[1].InstanceNum != 1 {
		t.Fatalf("light build: %q with %d instances", builds[1].Name, builds[1].InstanceNum)
	}
}

func TestRebuildCapacityOverflowPanics(t *testing.T) {
	sc := testScene(t)
	sc.AddInstance(scene.Instance{MeshIndex: 0, MaterialIndex: 0, ObjectToWorld: identityTransform()})
	sc.AddInstance(scene.Instance{MeshIndex: 0, MaterialIndex: 0, ObjectToWorld: identityTransform()})
	dev, _, slots, mgr := testSetup(t, sc, 1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when instance count exceeds capacity")
		}
	}()
	rebuildOnce(t, dev, slots, mgr, RebuildDesc{})
}

// A static instance's world-to-previous-world transform must be identity.
// The motion rows follow the three object-to-world rows in the record.
func TestRebuildStaticMotionIsIdentity(t *testing.T) {
	sc := testScene(t)
	sc.AddInstance(scene.Instance{MeshIndex: 0, MaterialIndex: 0, ObjectToWorld: identityTransform()})
	dev, reg, slots, mgr := testSetup(t, sc, 4)

	rebuildOnce(t, dev, slots, mgr, RebuildDesc{})

	raw := dev.BufferBytes(reg.Buffer(registry.BufInstanceDataStaging))
	want := [3][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			off := 48 + (row*4+col)*4
			got := math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			if diff := got - want[row][col]; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("motion transform [%d][%d] = %g, want %g", row, col, got, want[row][col])
			}
		}
	}
}

// The instance record's leading rows carry the object-to-world rotation with
// the integer payload in their fourth lanes, and the hardware TLAS record
// keeps the full transform plus the classification flags.
func TestRebuildRecordCarriesObjectToWorld(t *testing.T) {
	sc := testScene(t)
	sc.AddMesh(scene.Mesh{
		Name:     "tri2",
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 0, 1},
		Indices:  []uint32{0, 1, 2},
	})
	xf := identityTransform()
	xf[12], xf[13], xf[14] = 5, 7, 9
	sc.AddInstance(scene.Instance{MeshIndex: 1, MaterialIndex: 1, ObjectToWorld: xf, ObjectToWorldPrev: xf})
	dev, reg, slots, mgr := testSetup(t, sc, 4)

	rebuildOnce(t, dev, slots, mgr, RebuildDesc{Emission: true})

	f32 := func(raw []byte, off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
	}
	u32 := func(raw []byte, off int) uint32 {
		return binary.LittleEndian.Uint32(raw[off:])
	}

	data := dev.BufferBytes(reg.Buffer(registry.BufInstanceDataStaging))
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			want := float32(0)
			if row == col {
				want = 1
			}
			if got := f32(data, (row*4+col)*4); got != want {
				t.Fatalf("object-to-world [%d][%d] = %g, want %g", row, col, got, want)
			}
		}
	}

	// Fourth lanes: base primitive id, material index, packed averages.
	if got := u32(data, 3*4); got != 1 {
		t.Fatalf("base primitive id = %d, want 1", got)
	}
	if got := u32(data, 7*4); got != 1 {
		t.Fatalf("material index = %d, want 1", got)
	}
	wantPacked := uint32(127) | 127<<7 | 127<<14 | 3<<21 | 1<<27
	if got := u32(data, 11*4); got != wantPacked {
		t.Fatalf("packed material = %#x, want %#x", got, wantPacked)
	}

	tlas := dev.BufferBytes(reg.Buffer(registry.BufWorldTlasStaging))
	if tx, ty, tz := f32(tlas, 12), f32(tlas, 28), f32(tlas, 44); tx != 5 || ty != 7 || tz != 9 {
		t.Fatalf("TLAS translation = (%g, %g, %g), want (5, 7, 9)", tx, ty, tz)
	}
	wantID := uint32(FlagEmission)<<instanceFlagShift | uint32(FlagEmission)<<24
	if got := u32(tlas, 48); got != wantID {
		t.Fatalf("TLAS id and mask = %#x, want %#x", got, wantID)
	}
	wantHW := (tlasCullDisable | tlasForceOpaque) << 24
	if got := u32(tlas, 52); got != wantHW {
		t.Fatalf("TLAS instance flags = %#x, want %#x", got, wantHW)
	}
}

// Forced-emission promotion must pick the same instances on every rebuild of
// an unchanged scene.
func TestRebuildForcedEmissionStableAcrossRebuilds(t *testing.T) {
	sc := testScene(t)
	spin := func(phase float64, transform *[16]float32) {}
	for i := 0; i < 64; i++ {
		sc.AddInstance(scene.Instance{
			MeshIndex: 0, MaterialIndex: 0,
			ObjectToWorld: identityTransform(), ObjectToWorldPrev: identityTransform(),
			Animate: spin,
		})
	}
	dev, _, slots, mgr := testSetup(t, sc, 128)

	var counts []uint32
	for frame := uint64(0); frame < 8; frame++ {
		stats := rebuildOnce(t, dev, slots, mgr, RebuildDesc{
			FrameIndex:      frame,
			Emission:        true,
			EmissiveObjects: true,
		})
		counts = append(counts, stats.LightInstanceNum)
	}
	if counts[0] == 0 {
		t.Fatal("no instances promoted to forced emission")
	}
	for frame, n := range counts {
		if n != counts[0] {
			t.Fatalf("light instances drifted: frame 0 packed %d, frame %d packed %d", counts[0], frame, n)
		}
	}
}

// With emission disabled, emissive materials trace as opaque geometry and
// the light TLAS stays empty. Promotion needs both toggles.
func TestRebuildEmissionToggles(t *testing.T) {
	sc := testScene(t)
	spin := func(phase float64, transform *[16]float32) {}
	sc.AddInstance(scene.Instance{MeshIndex: 0, MaterialIndex: 1, ObjectToWorld: identityTransform()})
	for i := 0; i < 16; i++ {
		sc.AddInstance(scene.Instance{
			MeshIndex: 0, MaterialIndex: 0,
			ObjectToWorld: identityTransform(), ObjectToWorldPrev: identityTransform(),
			Animate: spin,
		})
	}
	dev, _, slots, mgr := testSetup(t, sc, 32)

	stats := rebuildOnce(t, dev, slots, mgr, RebuildDesc{FrameIndex: 0})
	if stats.LightInstanceNum != 0 {
		t.Fatalf("emission off packed %d light instances, want 0", stats.LightInstanceNum)
	}

	stats = rebuildOnce(t, dev, slots, mgr, RebuildDesc{FrameIndex: 1, Emission: true})
	if stats.LightInstanceNum != 1 {
		t.Fatalf("emission on packed %d light instances, want the emissive panel only", stats.LightInstanceNum)
	}
}

// Rebuilds for successive frames must land in their slot's staging region.
func TestRebuildUsesSlotRingOffsets(t *testing.T) {
	sc := testScene(t)
	sc.AddInstance(scene.Instance{MeshIndex: 0, MaterialIndex: 1, ObjectToWorld: identityTransform()})
	dev, _, slots, mgr := testSetup(t, sc, 4)

	rebuildOnce(t, dev, slots, mgr, RebuildDesc{Emission: true, FrameIndex: 0})
	rebuildOnce(t, dev, slots, mgr, RebuildDesc{Emission: true, FrameIndex: 1})

	var offsets []uint64
	for _, op := range dev.Log() {
		if op.Kind == device.OpBuildTLAS && op.Name == "World" {
			offsets = append(offsets, op.Offset)
		}
	}
	if len(offsets) != 2 {
		t.Fatalf("got %d world builds, want 2", len(offsets))
	}
	if offsets[0] == offsets[1] {
		t.Fatalf("both frames staged at offset %d, want distinct slots", offsets[0])
	}
}
