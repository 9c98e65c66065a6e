package frame

import (
	"testing"

	"github.com/prism-rt/prism/engine/device"
)

func ring(t *testing.T, capacity, slotSize uint64, slots uint32) RingRegion {
	t.Helper()
	r, err := NewRingRegion(capacity, slotSize, slots)
	if err != nil {
		t.Fatalf("NewRingRegion: %v", err)
	}
	return r
}

func TestSlotsRingOffsets(t *testing.T) {
	dev := device.NewTraceDevice()
	s, err := NewSlots(dev, Config{
		Count:    3,
		Constant: ring(t, 3*256, 256, 3),
		Instance: ring(t, 3*1024, 1024, 3),
		Tlas:     ring(t, 3*2048, 2048, 3),
	})
	if err != nil {
		t.Fatalf("NewSlots: %v", err)
	}

	for frame := uint64(0); frame < 6; frame++ {
		slot := s.Acquire(frame)
		wantIndex := uint32(frame % 3)
		if slot.Index != wantIndex {
			t.Fatalf("frame %d: slot %d, want %d", frame, slot.Index, wantIndex)
		}
		if slot.ConstantOffset != uint64(wantIndex)*256 {
			t.Fatalf("frame %d: constant offset %d", frame, slot.ConstantOffset)
		}
		if slot.WorldTlasOffset != uint64(wantIndex)*2048 {
			t.Fatalf("frame %d: world TLAS offset %d", frame, slot.WorldTlasOffset)
		}
	}
}

func TestRingRegionRejectsOverflow(t *testing.T) {
	if _, err := NewRingRegion(1024, 512, 3); err == nil {
		t.Fatal("3 slots of 512 bytes fit in 1024, expected an error")
	}
	if _, err := NewRingRegion(1024, 512, 0); err == nil {
		t.Fatal("zero slots accepted")
	}
	r, err := NewRingRegion(1536, 512, 3)
	if err != nil {
		t.Fatalf("NewRingRegion: %v", err)
	}
	if got := r.OffsetFor(4); got != 512 {
		t.Fatalf("OffsetFor(4) = %d, want 512", got)
	}
}

func TestSlotsRejectZeroRegions(t *testing.T) {
	dev := device.NewTraceDevice()
	if _, err := NewSlots(dev, Config{Count: 2}); err == nil {
		t.Fatal("zero-value ring regions accepted")
	}
}

// A slot's fence must be waited on before its command buffers are recorded
// again, and that wait has to land after the slot's previous submission.
func TestSlotReuseWaitsForPreviousSubmission(t *testing.T) {
	dev := device.NewTraceDevice()
	s, err := NewSlots(dev, Config{
		Count:    2,
		Constant: ring(t, 2*256, 256, 2),
		Instance: ring(t, 2*64, 64, 2),
		Tlas:     ring(t, 2*64, 64, 2),
	})
	if err != nil {
		t.Fatalf("NewSlots: %v", err)
	}
	queue := dev.Queue()

	runFrame := func(frame uint64) {
		slot := s.Acquire(frame)
		if err := slot.Main.Begin(); err != nil {
			t.Fatalf("frame %d begin: %v", frame, err)
		}
		slot.Main.DebugMarker("Frame")
		if err := slot.Main.End(); err != nil {
			t.Fatalf("frame %d end: %v", frame, err)
		}
		if err := queue.Submit([]device.CommandBuffer{slot.Main}, slot.Fence); err != nil {
			t.Fatalf("frame %d submit: %v", frame, err)
		}
	}

	for frame := uint64(0); frame < 4; frame++ {
		runFrame(frame)
	}

	// Frames 0 and 2 share slot 0. The wait preceding frame 2 must use
	// slot 0's fence and appear between the two submissions. Slot 0's
	// fence is the one waited on at the very first acquire.
	log := dev.Log()
	var fence0 string
	for _, op := range log {
		if op.Kind == device.OpFenceWait {
			fence0 = op.Name
			break
		}
	}
	if fence0 == "" {
		t.Fatal("no fence wait recorded")
	}

	submit0, submit2 := -1, -1
	for i, op := range log {
		if op.Kind == device.OpSubmit && op.Name == "Frame0.Main" {
			if submit0 < 0 {
				submit0 = i
			} else if submit2 < 0 {
				submit2 = i
			}
		}
	}
	if submit0 < 0 || submit2 < 0 {
		t.Fatal("slot 0 was not submitted twice")
	}

	wait2 := -1
	for i := submit0 + 1; i < submit2; i++ {
		if log[i].Kind == device.OpFenceWait && log[i].Name == fence0 {
			wait2 = i
			break
		}
	}
	if wait2 < 0 {
		t.Fatalf("no wait on %s between submissions %d and %d", fence0, submit0, submit2)
	}
}
