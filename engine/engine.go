// Package engine ties the pieces together: the window, the scene, the
// renderer, and the input bindings. It runs the animation tick and the render
// loop on their own goroutines and shuts everything down through a single
// quit channel.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/prism-rt/prism/common"
	"github.com/prism-rt/prism/engine/camera"
	"github.com/prism-rt/prism/engine/capture"
	"github.com/prism-rt/prism/engine/denoiser"
	"github.com/prism-rt/prism/engine/profiler"
	"github.com/prism-rt/prism/engine/renderer"
	"github.com/prism-rt/prism/engine/scene"
	"github.com/prism-rt/prism/engine/window"
)

const sunStepDegrees = 2

// engine implements the Engine interface.
type engine struct {
	tickRateChannel chan time.Duration

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once

	window window.Window
	orch   renderer.Orchestrator
	scene  scene.Scene

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration

	recMu    sync.Mutex
	recorder *capture.Recorder
	recPath  string
	playback *capture.Playback
}

// Engine drives the whole application: animation ticks, render frames,
// window messages, and capture recording.
type Engine interface {
	// Window returns the attached window, or nil when running headless.
	Window() window.Window

	// Renderer returns the frame orchestrator.
	Renderer() renderer.Orchestrator

	// EnableProfiler enables periodic performance output to the log.
	EnableProfiler()

	// DisableProfiler disables performance output.
	DisableProfiler()

	// SetTickRate sets the animation tick rate in ticks per second.
	// Takes effect immediately when the engine is running.
	//
	// Parameters:
	//   - fps: target ticks per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// StartRecording begins appending one capture entry per rendered frame.
	// The capture is written to path when StopRecording is called.
	//
	// Parameters:
	//   - path: destination capture file path
	StartRecording(path string)

	// StopRecording saves the pending capture, if any.
	//
	// Returns:
	//   - error: an error if the capture cannot be written
	StopRecording() error

	// PlayCapture replays a recorded capture: each rendered frame consumes
	// one entry and applies its settings before the frame starts. Render
	// frames continue live once the capture is exhausted.
	//
	// Parameters:
	//   - path: source capture file path
	//
	// Returns:
	//   - error: an error if the capture cannot be loaded
	PlayCapture(path string) error

	// Run starts the engine loops and blocks until the window closes or
	// Quit is called.
	Run()

	// Quit signals all engine goroutines to stop. Safe to call multiple
	// times; subsequent calls are no-ops.
	Quit()
}

var _ Engine = &engine{}

// NewEngine creates an Engine around an orchestrator and its scene.
//
// Parameters:
//   - orch: the frame orchestrator, already initialized
//   - scn: the scene the orchestrator renders
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(orch renderer.Orchestrator, scn scene.Scene, options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		orch:            orch,
		scene:           scn,
		profiler:        profiler.NewProfiler(),
		engineTickRate:  time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}

	if e.window != nil {
		e.bindInput()
	}

	return e
}

// bindInput wires window events to the camera controller and the render
// settings.
func (e *engine) bindInput() {
	cam := e.orch.Camera()

	e.window.SetResizeCallback(func(width, height int) {
		cam.SetAspect(float32(width) / float32(height))
	})

	e.window.SetScrollCallback(func(delta float32) {
		cam.Controller().Zoom(-delta * 0.5)
	})

	e.window.SetDragCallback(func(dx, dy float32, pan bool) {
		if pan {
			cam.Controller().Pan(-dx*0.01, dy*0.01)
			return
		}
		cam.Controller().Orbit(dx*0.005, dy*0.005)
	})

	e.window.SetKeyDownCallback(func(keyCode uint32) {
		s := e.orch.Settings()
		switch keyCode {
		case common.KeySpace:
			s.Animate = !s.Animate
		case common.KeyT:
			s.TAA = !s.TAA
		case common.KeyV:
			if s.Denoiser == denoiser.VariantBlur {
				s.Denoiser = denoiser.VariantEdgeAware
			} else {
				s.Denoiser = denoiser.VariantBlur
			}
		case common.KeyC:
			s.AdaptiveResolution = !s.AdaptiveResolution
		case common.KeyF:
			e.orch.Denoiser().ForceReset()
		case common.KeyX:
			s.SpecSecondBounce = !s.SpecSecondBounce
		case common.KeyE:
			s.Emission = !s.Emission
		case common.KeyG:
			s.EmissiveObjects = !s.EmissiveObjects
		case common.KeyW:
			s.SunElevation += sunStepDegrees
		case common.KeyS:
			s.SunElevation -= sunStepDegrees
		case common.KeyA:
			s.SunAzimuth -= sunStepDegrees
		case common.KeyD:
			s.SunAzimuth += sunStepDegrees
		case common.Key0, common.Key1, common.Key2, common.Key3,
			common.Key4, common.Key5, common.Key6:
			s.OutputMode = renderer.OutputMode(keyCode - common.Key0)
		default:
			return
		}
		e.orch.SetSettings(s)
	})
}

func (e *engine) Window() window.Window           { return e.window }
func (e *engine) Renderer() renderer.Orchestrator { return e.orch }

func (e *engine) Run() {
	e.running = true
	e.wg.Add(3)
	go e.handleTick()
	go e.handleRender()
	go e.handleQuit()

	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()
	e.orch.WaitIdle()
}

func (e *engine) Quit() {
	e.signalQuit()
}

func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.running = false
		close(e.quitChannel)
	})
}

// handleTick runs the fixed-rate animation loop: scene transforms advance
// here while render frames consume whatever state is current.
func (e *engine) handleTick() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := now.Sub(lastTick).Seconds()
			lastTick = now

			s := e.orch.Settings()
			if s.Animate {
				e.scene.Animate(dt, s.AnimationSpeed)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the render loop. Recovers from panics so a renderer
// fault tears the engine down instead of crashing the process mid-submit.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Engine] Render goroutine recovered from panic: %v", r)
			e.signalQuit()
		}
	}()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
			e.applyPlayback()

			stats, err := e.orch.RenderFrame()
			if err != nil {
				log.Printf("[Engine] Render frame failed: %v", err)
				e.signalQuit()
				return
			}

			e.appendRecording()

			if e.profilingEnabled {
				e.profiler.ObserveFrame(stats.RectWidth, stats.RectHeight, stats.ResolutionScale, stats.ResetFactor)
				e.profiler.Tick()
			}
		}
	}
}

func (e *engine) handleQuit() {
	defer e.wg.Done()
	<-e.quitChannel
}

// applyPlayback consumes one capture entry, if a playback is active, and
// applies its settings before the next frame.
func (e *engine) applyPlayback() {
	e.recMu.Lock()
	pb := e.playback
	e.recMu.Unlock()
	if pb == nil {
		return
	}

	settingsBlob, _, ok := pb.Next()
	if !ok {
		e.recMu.Lock()
		e.playback = nil
		e.recMu.Unlock()
		log.Printf("[Engine] Capture playback finished")
		return
	}
	if s, ok := common.StructFromBytes[renderer.Settings](settingsBlob); ok {
		e.orch.SetSettings(s)
	}
}

// appendRecording adds this frame's settings and camera state to the active
// recorder, if any.
func (e *engine) appendRecording() {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if e.recorder == nil {
		return
	}
	s := e.orch.Settings()
	cam := e.orch.Camera().State()
	if err := e.recorder.Append(common.StructToBytes(&s), common.StructToBytes(&cam)); err != nil {
		log.Printf("[Engine] Capture append failed, recording stopped: %v", err)
		e.recorder = nil
	}
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Second / time.Duration(fps)

	if e.running {
		// Non-blocking send; replace any pending update.
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

func (e *engine) StartRecording(path string) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.recorder = capture.NewRecorder(settingsBlobSize(), cameraBlobSize())
	e.recPath = path
	log.Printf("[Engine] Recording capture to %s", path)
}

func (e *engine) StopRecording() error {
	e.recMu.Lock()
	rec, path := e.recorder, e.recPath
	e.recorder = nil
	e.recMu.Unlock()
	if rec == nil {
		return nil
	}
	log.Printf("[Engine] Saving capture with %d entries", rec.EntryNum())
	return rec.Save(path)
}

func (e *engine) PlayCapture(path string) error {
	pb, err := capture.Load(path, settingsBlobSize(), cameraBlobSize())
	if err != nil {
		return err
	}
	e.recMu.Lock()
	e.playback = pb
	e.recMu.Unlock()
	log.Printf("[Engine] Replaying %d captured frames from %s", pb.EntryNum(), path)
	return nil
}

func settingsBlobSize() int {
	var s renderer.Settings
	return len(common.StructToBytes(&s))
}

func cameraBlobSize() int {
	var st camera.State
	return len(common.StructToBytes(&st))
}
