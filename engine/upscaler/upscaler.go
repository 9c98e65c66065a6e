// Package upscaler wraps the optional neural upscaling session. The session
// is initialized once at startup; if that fails the renderer falls back to
// its own temporal accumulation and upsample passes for the whole run.
package upscaler

import (
	"log"
	"sync"

	"github.com/prism-rt/prism/engine/device"
)

// EvalDesc describes one upscale evaluation.
type EvalDesc struct {
	Input  device.Texture
	Output device.Texture

	// Reset discards the session's temporal history this frame.
	Reset bool

	Jitter [2]float32

	RenderWidth  uint32
	RenderHeight uint32
	OutputWidth  uint32
	OutputHeight uint32
}

// Neural is the upscaling session facade.
type Neural interface {
	// Available reports whether the session initialized. The value never
	// changes after construction.
	Available() bool

	// Evaluate records one upscale into cb. Panics if the session is
	// unavailable; callers gate on Available.
	Evaluate(cb device.CommandBuffer, desc EvalDesc)
}

// Config controls session creation.
type Config struct {
	// Enabled requests a session at all; when false the fallback path is
	// taken without probing.
	Enabled bool

	OutputWidth  uint32
	OutputHeight uint32
}

type neural struct {
	mu *sync.Mutex

	available bool
	pipeline  device.Pipeline
}

var _ Neural = &neural{}

// NewNeural probes for an upscaling session once. Probe failure is not an
// error: the renderer runs the fallback path instead, so the only error
// returned is a nil device.
//
// Parameters:
//   - dev: the graphics device
//   - cfg: session configuration
//
// Returns:
//   - Neural: the session facade, possibly permanently unavailable
func NewNeural(dev device.Device, cfg Config) Neural {
	n := &neural{mu: &sync.Mutex{}}
	if !cfg.Enabled {
		log.Printf("[Upscaler] Neural upscaling disabled, using temporal fallback")
		return n
	}

	p, err := dev.CreatePipeline(device.PipelineDesc{
		Label: "NeuralUpscale.Evaluate",
		Kind:  device.PipelineCompute,
	})
	if err != nil {
		log.Printf("[Upscaler] Session init failed, using temporal fallback for this run: %v", err)
		return n
	}

	n.pipeline = p
	n.available = true
	log.Printf("[Upscaler] Neural session ready at %dx%d", cfg.OutputWidth, cfg.OutputHeight)
	return n
}

func (n *neural) Available() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.available
}

func (n *neural) Evaluate(cb device.CommandBuffer, desc EvalDesc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.available {
		panic("upscaler: Evaluate called without an available session")
	}
	cb.DebugMarker("NeuralUpscale")
	cb.SetPipeline(n.pipeline)
	cb.Dispatch((desc.OutputWidth+15)/16, (desc.OutputHeight+15)/16, 1)
}
