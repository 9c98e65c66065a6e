// Package frame manages the ring of buffered frame slots: per-slot command
// buffers, completion fences, and ring offsets into the host-upload buffers.
package frame

import (
	"fmt"

	"github.com/prism-rt/prism/engine/device"
)

// Slot is the per-buffered-frame working set. Main records acceleration
// rebuilds and ray dispatches, Denoise the denoiser passes, Post everything
// from composition to present. Fence gates CPU reuse of the slot.
type Slot struct {
	Index uint32

	Main    device.CommandBuffer
	Denoise device.CommandBuffer
	Post    device.CommandBuffer

	Fence device.Fence

	// Ring offsets into the host-upload buffers for this slot.
	ConstantOffset  uint64
	InstanceOffset  uint64
	WorldTlasOffset uint64
	LightTlasOffset uint64
}

// RingRegion partitions a host-upload buffer into one fixed-size region per
// buffered frame. Construction proves the regions fit the buffer, so the
// per-frame offsets can never run past its end.
type RingRegion struct {
	capacity uint64
	slotSize uint64
	slotNum  uint64
}

// NewRingRegion validates that slotNum regions of slotSize bytes fit within
// capacity bytes.
//
// Parameters:
//   - capacity: the backing buffer's total byte size
//   - slotSize: the byte span one buffered frame uses
//   - slotNum: the number of buffered frames
//
// Returns:
//   - RingRegion: the validated region layout
//   - error: an error if the regions overflow the buffer
func NewRingRegion(capacity, slotSize uint64, slotNum uint32) (RingRegion, error) {
	if slotNum == 0 {
		return RingRegion{}, fmt.Errorf("ring region needs at least one slot")
	}
	if slotSize*uint64(slotNum) > capacity {
		return RingRegion{}, fmt.Errorf("ring regions overflow the buffer: %d slots of %d bytes exceed capacity %d",
			slotNum, slotSize, capacity)
	}
	return RingRegion{capacity: capacity, slotSize: slotSize, slotNum: uint64(slotNum)}, nil
}

// OffsetFor returns the byte offset of the region owned by the given frame.
func (r RingRegion) OffsetFor(frameIndex uint64) uint64 {
	return (frameIndex % r.slotNum) * r.slotSize
}

// SlotSize returns the byte span of one region.
func (r RingRegion) SlotSize() uint64 { return r.slotSize }

// Config sizes the slot ring. The ring regions carry the per-slot byte spans
// of the corresponding host-upload buffers, validated against the buffers'
// actual capacities.
type Config struct {
	Count    uint32
	Constant RingRegion
	Instance RingRegion
	Tlas     RingRegion
}

// Slots owns the frame slot ring.
type Slots interface {
	// Acquire maps a frame index to its slot, blocking until the GPU has
	// finished the slot's previous use. The slot's command buffers must
	// not be re-begun before Acquire returns.
	//
	// Parameters:
	//   - frameIndex: the monotonically increasing frame counter
	//
	// Returns:
	//   - *Slot: the ready slot for this frame
	Acquire(frameIndex uint64) *Slot

	// Count returns the number of buffered frames.
	Count() uint32

	// WaitAll blocks until every slot's last submission has completed.
	// Used at shutdown and before resolution changes.
	WaitAll()
}

type slots struct {
	ring []Slot
}

var _ Slots = &slots{}

// NewSlots creates the slot ring with command buffers and fences. Fences
// start signaled so the first pass over the ring does not block.
func NewSlots(dev device.Device, cfg Config) (Slots, error) {
	if cfg.Count == 0 {
		return nil, fmt.Errorf("slot count must be positive")
	}
	if cfg.Constant.slotNum == 0 || cfg.Instance.slotNum == 0 || cfg.Tlas.slotNum == 0 {
		return nil, fmt.Errorf("ring regions must come from NewRingRegion")
	}
	s := &slots{ring: make([]Slot, cfg.Count)}
	for i := uint32(0); i < cfg.Count; i++ {
		slot := &s.ring[i]
		slot.Index = i

		var err error
		if slot.Main, err = dev.NewCommandBuffer(fmt.Sprintf("Frame%d.Main", i)); err != nil {
			return nil, fmt.Errorf("create main command buffer: %w", err)
		}
		if slot.Denoise, err = dev.NewCommandBuffer(fmt.Sprintf("Frame%d.Denoise", i)); err != nil {
			return nil, fmt.Errorf("create denoise command buffer: %w", err)
		}
		if slot.Post, err = dev.NewCommandBuffer(fmt.Sprintf("Frame%d.Post", i)); err != nil {
			return nil, fmt.Errorf("create post command buffer: %w", err)
		}
		if slot.Fence, err = dev.NewFence(); err != nil {
			return nil, fmt.Errorf("create frame fence: %w", err)
		}

		slot.ConstantOffset = cfg.Constant.OffsetFor(uint64(i))
		slot.InstanceOffset = cfg.Instance.OffsetFor(uint64(i))
		slot.WorldTlasOffset = cfg.Tlas.OffsetFor(uint64(i))
		slot.LightTlasOffset = cfg.Tlas.OffsetFor(uint64(i))
	}
	return s, nil
}

func (s *slots) Acquire(frameIndex uint64) *Slot {
	slot := &s.ring[frameIndex%uint64(len(s.ring))]
	slot.Fence.Wait()
	return slot
}

func (s *slots) Count() uint32 {
	return uint32(len(s.ring))
}

func (s *slots) WaitAll() {
	for i := range s.ring {
		s.ring[i].Fence.Wait()
	}
}
