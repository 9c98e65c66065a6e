// Package transition filters redundant texture state transitions out of
// per-pass barrier batches while preserving write ordering hazards.
package transition

import (
	"fmt"

	"github.com/prism-rt/prism/engine/device"
)

// State is the tracked access and layout of a texture.
type State struct {
	Access device.Access
	Layout device.Layout
}

// Request asks for a texture to be in the given state before the next pass.
type Request struct {
	Texture device.Texture
	State   State
}

// Optimizer tracks the current state of every texture it has seen and turns
// requested states into the minimal barrier batch. A request whose state
// matches the record is dropped, except when both the recorded and requested
// access are storage: back-to-back storage use is a write hazard and still
// needs a barrier. Records update on every request, dropped or not.
type Optimizer struct {
	records map[device.Texture]State

	// scratch is reused across Optimize calls; its capacity bounds the
	// batch size and overflow is a programming error.
	scratch []device.TextureBarrier
}

// NewOptimizer creates an optimizer with the given per-batch barrier
// capacity. Textures start in the unknown state until seeded or requested.
func NewOptimizer(capacity int) *Optimizer {
	return &Optimizer{
		records: make(map[device.Texture]State),
		scratch: make([]device.TextureBarrier, 0, capacity),
	}
}

// Seed sets the recorded state of a texture without emitting a barrier.
// Used for resources whose state is established outside the frame graph,
// like the swapchain backbuffer after present.
func (o *Optimizer) Seed(t device.Texture, s State) {
	o.records[t] = s
}

// Recorded returns the tracked state of a texture.
func (o *Optimizer) Recorded(t device.Texture) State {
	return o.records[t]
}

// Optimize filters a batch of requests into the barriers that must actually
// be issued. The returned slice is valid until the next Optimize call.
//
// Parameters:
//   - requests: desired texture states for the upcoming pass
//
// Returns:
//   - []device.TextureBarrier: the transitions to record, possibly empty
func (o *Optimizer) Optimize(requests []Request) []device.TextureBarrier {
	o.scratch = o.scratch[:0]
	for _, req := range requests {
		prev := o.records[req.Texture]
		changed := prev != req.State
		hazard := prev.Access == device.AccessShaderResourceStorage &&
			req.State.Access == device.AccessShaderResourceStorage
		if changed || hazard {
			if len(o.scratch) == cap(o.scratch) {
				panic(fmt.Sprintf("transition batch overflow: capacity %d", cap(o.scratch)))
			}
			o.scratch = append(o.scratch, device.TextureBarrier{
				Texture:    req.Texture,
				FromAccess: prev.Access,
				ToAccess:   req.State.Access,
				FromLayout: prev.Layout,
				ToLayout:   req.State.Layout,
			})
		}
		o.records[req.Texture] = req.State
	}
	return o.scratch
}
