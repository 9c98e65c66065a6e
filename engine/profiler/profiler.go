package profiler

import (
	"log"
	"runtime"
	"sync"
	"time"
)

// Profiler tracks frame rate, render resolution, and Go memory statistics.
// Stats go to the log at a fixed interval so a long capture stays readable.
type Profiler struct {
	mu sync.Mutex

	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration

	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	// Latest observed render state, reported alongside the timing stats.
	rectWidth   uint32
	rectHeight  uint32
	renderScale float32
	resetFactor float32
}

// NewProfiler creates a Profiler with a one second reporting interval.
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
		renderScale:    1,
	}
}

// ObserveFrame records the render rect and history state of the frame that
// just completed. Call once per frame before Tick.
//
// Parameters:
//   - rectWidth, rectHeight: the scaled render rect in pixels
//   - scale: the resolution scale applied this frame
//   - resetFactor: the denoiser history factor applied this frame
func (p *Profiler) ObserveFrame(rectWidth, rectHeight uint32, scale, resetFactor float32) {
	p.mu.Lock()
	p.rectWidth = rectWidth
	p.rectHeight = rectHeight
	p.renderScale = scale
	p.resetFactor = resetFactor
	p.mu.Unlock()
}

// Tick counts one frame and logs the accumulated statistics when the
// reporting interval has elapsed.
//
// Returns:
//   - bool: true if stats were logged this tick
func (p *Profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	now := time.Now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses.
	gcCount := p.memStats.NumGC
	var maxPauseUs uint64
	if gcCount > 0 {
		start := p.lastGCCount
		if gcCount-start > 256 {
			start = gcCount - 256
		}
		for i := start; i < gcCount; i++ {
			if pause := p.memStats.PauseNs[i%256] / 1000; pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	log.Printf("[Profiler] FPS: %.2f | Rect: %dx%d (%.2fx) | History: %.2f | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (max pause: %d µs)",
		fps, p.rectWidth, p.rectHeight, p.renderScale, p.resetFactor,
		allocMB, allocRateMB, gcCount, maxPauseUs)

	p.frameCount = 0
	p.lastTime = now
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
