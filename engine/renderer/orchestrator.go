// Package renderer drives the frame: acceleration rebuilds, ray dispatch,
// denoising, composition, temporal resolve or neural upscale, and present.
// All GPU work goes through the abstract device; the orchestrator owns the
// pass order, the barrier batches, and the per-frame constant ring.
package renderer

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/prism-rt/prism/common"
	"github.com/prism-rt/prism/engine/accel"
	"github.com/prism-rt/prism/engine/camera"
	"github.com/prism-rt/prism/engine/denoiser"
	"github.com/prism-rt/prism/engine/device"
	"github.com/prism-rt/prism/engine/frame"
	"github.com/prism-rt/prism/engine/registry"
	"github.com/prism-rt/prism/engine/scene"
	"github.com/prism-rt/prism/engine/transition"
	"github.com/prism-rt/prism/engine/upscaler"
)

// Raygen shader group indices in the shader table. Checkerboarded variants
// trace at half rate; the second-bounce variants add one specular bounce.
const (
	raygenFull              = 0
	raygenFullSecondBounce  = 1
	raygenHalf              = 2
	raygenHalfSecondBounce  = 3
	shaderGroupNum          = 8 // 4 raygen, 2 miss, 2 hit
	shaderTableEntryAlign   = 64
	transitionBatchCapacity = 32
	warmupSize              = 256
	minResolutionScale      = 0.5
)

// FrameStats reports what one RenderFrame actually did.
type FrameStats struct {
	RectWidth  uint32
	RectHeight uint32

	ResolutionScale float32
	ResetFactor     float32
	FrameTimeMs     float32

	WorldInstanceNum uint32
	LightInstanceNum uint32
}

// Config sizes the orchestrator.
type Config struct {
	ScreenWidth  uint32
	ScreenHeight uint32

	FrameSlots       uint32
	InstanceCapacity uint32

	// UpscalerEnabled requests a neural upscaling session. When the session
	// fails to initialize the temporal path is used instead.
	UpscalerEnabled bool
}

// Orchestrator renders frames.
type Orchestrator interface {
	// RenderFrame records, submits, and presents one frame.
	//
	// Returns:
	//   - FrameStats: what the frame did
	//   - error: an error if recording or submission fails
	RenderFrame() (FrameStats, error)

	// Settings returns a copy of the current settings.
	Settings() Settings

	// SetSettings replaces the settings. Takes effect next frame.
	SetSettings(s Settings)

	// Denoiser returns the denoising engine for direct tuning.
	Denoiser() denoiser.Engine

	// Camera returns the attached camera.
	Camera() camera.Camera

	// FrameIndex returns the number of frames rendered so far.
	FrameIndex() uint64

	// WaitIdle blocks until every in-flight frame has completed.
	WaitIdle()

	// Destroy waits for the GPU and releases every owned resource.
	Destroy()
}

type pipelines struct {
	integrateBRDF device.Pipeline
	raytracing    device.Pipeline
	composition   device.Pipeline
	temporal      device.Pipeline
	upsample      device.Pipeline
	preUpscale    device.Pipeline
	afterUpscale  device.Pipeline
}

type bindings struct {
	integrateBRDF device.BindingSet
	raytracing    device.BindingSet
	composition   device.BindingSet
	temporal      [2]device.BindingSet // indexed by frame parity
	upsample      device.BindingSet
	preUpscale    device.BindingSet
	afterUpscale  device.BindingSet
}

type orchestrator struct {
	mu *sync.Mutex

	dev   device.Device
	queue device.Queue
	swap  device.Swapchain

	cfg      Config
	settings Settings

	reg   registry.Registry
	slots frame.Slots
	accel accel.Manager
	den   denoiser.Engine
	up    upscaler.Neural
	opt   *transition.Optimizer

	scene scene.Scene
	cam   camera.Camera

	pipes pipelines
	binds bindings

	frameIndex uint64

	// Previous-frame camera state for reprojection.
	prevCam     camera.State
	havePrevCam bool

	rectWPrev uint32
	rectHPrev uint32

	// Adaptive resolution controller state.
	scale        float32
	prevTime     time.Time
	avgFrameTime float32 // milliseconds
}

var _ Orchestrator = &orchestrator{}

// NewOrchestrator creates every GPU resource, builds the static acceleration
// structures and the shader table, and leaves the renderer ready for the
// frame loop.
//
// Parameters:
//   - dev: the graphics device
//   - swap: the presentation swapchain
//   - scn: the scene to render
//   - cam: the camera
//   - cfg: sizing configuration
//
// Returns:
//   - Orchestrator: the renderer
//   - error: an error if any resource creation or static build fails
func NewOrchestrator(dev device.Device, swap device.Swapchain, scn scene.Scene, cam camera.Camera, cfg Config) (Orchestrator, error) {
	cfg.FrameSlots = common.Coalesce(cfg.FrameSlots, 2)
	cfg.InstanceCapacity = common.Coalesce(cfg.InstanceCapacity, uint32(len(scn.Instances())))

	entry := alignU32(dev.ShaderGroupIdentifierSize(), shaderTableEntryAlign)
	tableSize := uint64(entry) * shaderGroupNum

	reg, err := registry.NewRegistry(dev, registry.Config{
		RenderWidth:      cfg.ScreenWidth,
		RenderHeight:     cfg.ScreenHeight,
		OutputWidth:      cfg.ScreenWidth,
		OutputHeight:     cfg.ScreenHeight,
		FrameSlots:       cfg.FrameSlots,
		InstanceCapacity: cfg.InstanceCapacity,
		PrimitiveNum:     scn.PrimitiveNum(),
		ConstantSize:     ConstantsSize,
		ShaderTableSize:  tableSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	if _, err := reg.AllocateAll(); err != nil {
		return nil, fmt.Errorf("allocate resources: %w", err)
	}

	constantRing, err := frame.NewRingRegion(
		reg.Buffer(registry.BufGlobalConstants).Size(), reg.ConstantRegionSize(), cfg.FrameSlots)
	if err != nil {
		return nil, fmt.Errorf("constant ring: %w", err)
	}
	instanceRing, err := frame.NewRingRegion(
		reg.Buffer(registry.BufInstanceDataStaging).Size(),
		uint64(cfg.InstanceCapacity)*registry.InstanceDataStride, cfg.FrameSlots)
	if err != nil {
		return nil, fmt.Errorf("instance ring: %w", err)
	}
	tlasRing, err := frame.NewRingRegion(
		reg.Buffer(registry.BufWorldTlasStaging).Size(),
		uint64(cfg.InstanceCapacity)*registry.TlasInstanceStride, cfg.FrameSlots)
	if err != nil {
		return nil, fmt.Errorf("tlas ring: %w", err)
	}

	slots, err := frame.NewSlots(dev, frame.Config{
		Count:    cfg.FrameSlots,
		Constant: constantRing,
		Instance: instanceRing,
		Tlas:     tlasRing,
	})
	if err != nil {
		return nil, fmt.Errorf("create frame slots: %w", err)
	}

	o := &orchestrator{
		mu:       &sync.Mutex{},
		dev:      dev,
		queue:    dev.Queue(),
		swap:     swap,
		cfg:      cfg,
		settings: DefaultSettings(),
		reg:      reg,
		slots:    slots,
		scene:    scn,
		cam:      cam,
		opt:      transition.NewOptimizer(transitionBatchCapacity),
		scale:    1,
	}

	if err := o.createPipelines(); err != nil {
		return nil, err
	}
	if err := o.createBindings(); err != nil {
		return nil, err
	}
	if err := o.buildShaderTable(entry); err != nil {
		return nil, err
	}

	o.accel, err = accel.NewManager(dev, reg, scn, cfg.InstanceCapacity)
	if err != nil {
		return nil, fmt.Errorf("create acceleration manager: %w", err)
	}
	if err := o.accel.BuildStatic(); err != nil {
		return nil, fmt.Errorf("build static acceleration structures: %w", err)
	}

	o.den, err = denoiser.NewEngine(dev)
	if err != nil {
		return nil, fmt.Errorf("create denoiser: %w", err)
	}
	o.up = upscaler.NewNeural(dev, upscaler.Config{
		Enabled:      cfg.UpscalerEnabled,
		OutputWidth:  cfg.ScreenWidth,
		OutputHeight: cfg.ScreenHeight,
	})

	log.Printf("[Renderer] Ready: %dx%d, %d frame slots, %d instances",
		cfg.ScreenWidth, cfg.ScreenHeight, cfg.FrameSlots, cfg.InstanceCapacity)
	return o, nil
}

func (o *orchestrator) createPipelines() error {
	compute := func(label string) (device.Pipeline, error) {
		return o.dev.CreatePipeline(device.PipelineDesc{Label: label, Kind: device.PipelineCompute})
	}
	var err error
	if o.pipes.integrateBRDF, err = compute("IntegrateBRDF"); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if o.pipes.composition, err = compute("Composition"); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if o.pipes.temporal, err = compute("Temporal"); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if o.pipes.upsample, err = compute("Upsample"); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if o.pipes.preUpscale, err = compute("PreUpscale"); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if o.pipes.afterUpscale, err = compute("AfterUpscale"); err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	o.pipes.raytracing, err = o.dev.CreatePipeline(device.PipelineDesc{
		Label:    "Raytracing",
		Kind:     device.PipelineRayTracing,
		GroupNum: shaderGroupNum,
	})
	if err != nil {
		return fmt.Errorf("create ray-tracing pipeline: %w", err)
	}
	return nil
}

func (o *orchestrator) createBindings() error {
	set := func(label string) (device.BindingSet, error) {
		return o.dev.CreateBindingSet(label)
	}
	var err error
	if o.binds.integrateBRDF, err = set("IntegrateBRDF"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.raytracing, err = set("Raytracing"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.composition, err = set("Composition"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.temporal[0], err = set("Temporal.Even"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.temporal[1], err = set("Temporal.Odd"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.upsample, err = set("Upsample"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.preUpscale, err = set("PreUpscale"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	if o.binds.afterUpscale, err = set("AfterUpscale"); err != nil {
		return fmt.Errorf("create binding set: %w", err)
	}
	return nil
}

// buildShaderTable writes one aligned shader-group identifier per group into
// the device-local shader table through a temporary upload buffer.
func (o *orchestrator) buildShaderTable(entry uint32) error {
	size := uint64(entry) * shaderGroupNum
	tmp, err := o.dev.CreateBuffer(device.BufferDesc{
		Label: "ShaderTableUpload",
		Size:  size,
		Pool:  device.PoolHostUpload,
	})
	if err != nil {
		return fmt.Errorf("create shader table upload: %w", err)
	}
	defer o.dev.DestroyBuffer(tmp)

	if _, err := o.dev.AllocateAndBind(device.PoolHostUpload, []device.Buffer{tmp}, nil); err != nil {
		return fmt.Errorf("bind shader table upload: %w", err)
	}
	data, err := o.dev.MapBuffer(tmp, 0, size)
	if err != nil {
		return fmt.Errorf("map shader table upload: %w", err)
	}
	for g := 0; g < shaderGroupNum; g++ {
		id := o.dev.ShaderGroupIdentifier(o.pipes.raytracing, g)
		copy(data[uint64(g)*uint64(entry):], id)
	}
	o.dev.UnmapBuffer(tmp)

	cb, err := o.dev.NewCommandBuffer("ShaderTableUpload")
	if err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	cb.CopyBuffer(o.reg.Buffer(registry.BufShaderTable), 0, tmp, 0, size)
	if err := cb.End(); err != nil {
		return err
	}
	if err := o.queue.Submit([]device.CommandBuffer{cb}, nil); err != nil {
		return fmt.Errorf("submit shader table upload: %w", err)
	}
	o.queue.WaitIdle()
	return nil
}

func (o *orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

func (o *orchestrator) SetSettings(s Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = s
}

func (o *orchestrator) Denoiser() denoiser.Engine { return o.den }
func (o *orchestrator) Camera() camera.Camera     { return o.cam }

func (o *orchestrator) FrameIndex() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frameIndex
}

func (o *orchestrator) WaitIdle() {
	o.slots.WaitAll()
}

func (o *orchestrator) Destroy() {
	o.queue.WaitIdle()
	o.slots.WaitAll()
	o.accel.Destroy()
	o.reg.Destroy()
}

// raygenIndex maps the sampling settings to the shader-table raygen group.
func raygenIndex(rpp uint32, specSecondBounce bool) int {
	idx := raygenFull
	if rpp == 0 {
		idx = raygenHalf
	}
	if specSecondBounce {
		idx++
	}
	return idx
}

func grid(v uint32) uint32 {
	return (v + 15) / 16
}

func alignU32(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// adaptScale moves the render scale toward the value that would hit the frame
// time budget, smoothed by the average frame time so a single hitch does not
// thrash the rect size.
func (o *orchestrator) adaptScale(s *Settings, frameTimeMs float32) {
	if !s.AdaptiveResolution || !s.LimitFps || frameTimeMs <= 0 {
		return
	}
	msLimit := 1000 / s.MaxFps
	ratio := float32(math.Sqrt(float64(msLimit / frameTimeMs)))
	target := o.scale * ratio
	f := 1 / (1 + 1000/o.avgFrameTime)
	o.scale = common.Clamp(common.Lerp(o.scale, target, f), minResolutionScale, 1)
	s.ResolutionScale = o.scale
}

func (o *orchestrator) RenderFrame() (FrameStats, error) {
	o.mu.Lock()
	s := o.settings
	frameIndex := o.frameIndex
	o.mu.Unlock()

	start := time.Now()
	var frameTimeMs float32
	if !o.prevTime.IsZero() {
		frameTimeMs = float32(start.Sub(o.prevTime).Seconds() * 1000)
		if o.avgFrameTime == 0 {
			o.avgFrameTime = frameTimeMs
		} else {
			o.avgFrameTime += (frameTimeMs - o.avgFrameTime) * 0.25
		}
	}
	o.prevTime = start

	o.adaptScale(&s, frameTimeMs)
	if !s.AdaptiveResolution {
		o.scale = common.Clamp(s.ResolutionScale, minResolutionScale, 1)
	}
	rectW := uint32(float32(o.cfg.ScreenWidth)*o.scale + 0.5)
	rectH := uint32(float32(o.cfg.ScreenHeight)*o.scale + 0.5)
	if o.rectWPrev == 0 {
		o.rectWPrev, o.rectHPrev = rectW, rectH
	}

	slot := o.slots.Acquire(frameIndex)

	o.cam.SetOrtho(s.Ortho)
	o.cam.Update(frameIndex)
	cam := o.cam.State()
	if !o.havePrevCam {
		o.prevCam = cam
		o.havePrevCam = true
	}

	if err := o.uploadConstants(&s, cam, slot, rectW, rectH, frameIndex); err != nil {
		return FrameStats{}, err
	}

	stats, err := o.recordMain(&s, slot, rectW, rectH, frameIndex)
	if err != nil {
		return FrameStats{}, err
	}

	factor, err := o.recordDenoise(&s, cam, slot, rectW, rectH, frameIndex)
	if err != nil {
		return FrameStats{}, err
	}

	if err := o.recordPost(&s, cam, slot, rectW, rectH, frameIndex, factor); err != nil {
		return FrameStats{}, err
	}

	if err := o.queue.Submit([]device.CommandBuffer{slot.Main, slot.Denoise, slot.Post}, slot.Fence); err != nil {
		return FrameStats{}, fmt.Errorf("submit frame %d: %w", frameIndex, err)
	}
	o.swap.Present()

	if s.LimitFps {
		msLimit := time.Duration(float64(time.Second) / float64(s.MaxFps))
		for time.Since(start) < msLimit {
		}
	}

	o.prevCam = cam
	o.rectWPrev, o.rectHPrev = rectW, rectH
	o.mu.Lock()
	o.frameIndex++
	o.mu.Unlock()

	stats.RectWidth = rectW
	stats.RectHeight = rectH
	stats.ResolutionScale = o.scale
	stats.ResetFactor = factor
	stats.FrameTimeMs = frameTimeMs
	return stats, nil
}

func (o *orchestrator) uploadConstants(s *Settings, cam camera.State, slot *frame.Slot, rectW, rectH uint32, frameIndex uint64) error {
	gc := fillConstants(s, cam, o.cam.Near(), o.den.AmbientInComposition(),
		rectW, rectH, o.rectWPrev, o.rectHPrev,
		o.cfg.ScreenWidth, o.cfg.ScreenHeight, frameIndex)

	ring := o.reg.Buffer(registry.BufGlobalConstants)
	data, err := o.dev.MapBuffer(ring, slot.ConstantOffset, uint64(ConstantsSize))
	if err != nil {
		return fmt.Errorf("map constants: %w", err)
	}
	copy(data, common.StructToBytes(&gc))
	o.dev.UnmapBuffer(ring)
	return nil
}

// recordMain records the warm-up, the TLAS rebuild, and the ray dispatch.
func (o *orchestrator) recordMain(s *Settings, slot *frame.Slot, rectW, rectH uint32, frameIndex uint64) (FrameStats, error) {
	cb := slot.Main
	if err := cb.Begin(); err != nil {
		return FrameStats{}, err
	}

	if frameIndex == 0 {
		cb.DebugMarker("IntegrateBRDF")
		brdf := o.reg.Texture(registry.TexIntegrateBRDF)
		cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
			{Texture: brdf, State: storageState()},
		}), nil)
		cb.SetPipeline(o.pipes.integrateBRDF)
		cb.SetBindings(o.binds.integrateBRDF)
		cb.Dispatch(grid(warmupSize), grid(warmupSize), 1)
		cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
			{Texture: brdf, State: shaderResourceState()},
		}), nil)
	}

	cb.DebugMarker("AccelerationRebuild")
	stats, err := o.accel.Rebuild(cb, slot, accel.RebuildDesc{
		FrameIndex:      frameIndex,
		Emission:        s.Emission,
		EmissiveObjects: s.EmissiveObjects,
	})
	if err != nil {
		return FrameStats{}, fmt.Errorf("rebuild acceleration structures: %w", err)
	}

	cb.DebugMarker("Raytracing")
	requests := []transition.Request{
		{Texture: o.reg.Texture(registry.TexComposedLightingViewZ), State: shaderResourceState()},
	}
	for _, role := range []registry.TextureRole{
		registry.TexViewZ,
		registry.TexDirectLighting,
		registry.TexTransparentLighting,
		registry.TexObjectMotion,
		registry.TexNormalRoughness,
		registry.TexBaseColorMetalness,
		registry.TexUnfilteredShadowData,
		registry.TexUnfilteredShadowTranslucency,
		registry.TexUnfilteredDiff,
		registry.TexUnfilteredSpec,
		registry.TexDiffDirectionPdf,
		registry.TexSpecDirectionPdf,
	} {
		requests = append(requests, transition.Request{Texture: o.reg.Texture(role), State: storageState()})
	}
	cb.PipelineBarrier(o.opt.Optimize(requests), []device.BufferBarrier{{
		Buffer:     o.reg.Buffer(registry.BufInstanceData),
		FromAccess: device.AccessCopyDestination,
		ToAccess:   device.AccessShaderResource,
	}})

	cb.SetPipeline(o.pipes.raytracing)
	cb.SetBindings(o.binds.raytracing)
	cb.DispatchRays(device.RaysDesc{
		Table:       o.reg.Buffer(registry.BufShaderTable),
		RaygenGroup: raygenIndex(s.Rpp, s.SpecSecondBounce),
		Width:       rectW,
		Height:      rectH,
	})

	if err := cb.End(); err != nil {
		return FrameStats{}, err
	}
	return FrameStats{
		WorldInstanceNum: stats.WorldInstanceNum,
		LightInstanceNum: stats.LightInstanceNum,
	}, nil
}

// recordDenoise transitions the traced signals and runs the active denoiser
// variant. Returns the history reset factor applied this frame.
func (o *orchestrator) recordDenoise(s *Settings, cam camera.State, slot *frame.Slot, rectW, rectH uint32, frameIndex uint64) (float32, error) {
	cb := slot.Denoise
	if err := cb.Begin(); err != nil {
		return 0, err
	}
	cb.DebugMarker("Denoise")

	requests := []transition.Request{
		{Texture: o.reg.Texture(registry.TexObjectMotion), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexNormalRoughness), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexViewZ), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexUnfilteredDiff), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexUnfilteredSpec), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexDiffDirectionPdf), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexSpecDirectionPdf), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexUnfilteredShadowData), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexUnfilteredShadowTranslucency), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexShadow), State: storageState()},
		{Texture: o.reg.Texture(registry.TexDiff), State: storageState()},
		{Texture: o.reg.Texture(registry.TexSpec), State: storageState()},
	}
	cb.PipelineBarrier(o.opt.Optimize(requests), nil)

	o.den.SetActive(s.Denoiser)

	var pool denoiser.UserPool
	pool[denoiser.PoolMotion] = o.reg.Texture(registry.TexObjectMotion)
	pool[denoiser.PoolNormalRoughness] = o.reg.Texture(registry.TexNormalRoughness)
	pool[denoiser.PoolViewZ] = o.reg.Texture(registry.TexViewZ)
	pool[denoiser.PoolDiffRadiance] = o.reg.Texture(registry.TexUnfilteredDiff)
	pool[denoiser.PoolSpecRadiance] = o.reg.Texture(registry.TexUnfilteredSpec)
	pool[denoiser.PoolDiffDirectionPdf] = o.reg.Texture(registry.TexDiffDirectionPdf)
	pool[denoiser.PoolSpecDirectionPdf] = o.reg.Texture(registry.TexSpecDirectionPdf)
	pool[denoiser.PoolShadowData] = o.reg.Texture(registry.TexUnfilteredShadowData)
	pool[denoiser.PoolShadowTranslucency] = o.reg.Texture(registry.TexUnfilteredShadowTranslucency)
	pool[denoiser.PoolOutShadowTranslucency] = o.reg.Texture(registry.TexShadow)
	pool[denoiser.PoolOutDiff] = o.reg.Texture(registry.TexDiff)
	pool[denoiser.PoolOutSpec] = o.reg.Texture(registry.TexSpec)

	diffCb, specCb := denoiser.CheckerboardOff, denoiser.CheckerboardOff
	if s.Rpp == 0 {
		diffCb, specCb = denoiser.CheckerboardWhite, denoiser.CheckerboardBlack
	}

	mvScale := [2]float32{1 / float32(rectW), 1 / float32(rectH)}
	if s.MotionVectorsInWorldSpace {
		mvScale = [2]float32{1, 1}
	}
	var jitter [2]float32
	if s.TAA {
		jitter = cam.Jitter
	}

	cs := denoiser.CommonSettings{
		ViewToClip:        cam.ViewToClip,
		ViewToClipPrev:    o.prevCam.ViewToClip,
		WorldToView:       cam.WorldToView,
		WorldToViewPrev:   o.prevCam.WorldToView,
		MotionVectorScale: mvScale,
		Jitter:            jitter,
		ResolutionScale:   o.scale,
		MeterToUnits:      s.MeterToUnits,
		DenoisingRange:    4 * o.scene.Radius() / s.MeterToUnits,
		RectWidth:         rectW,
		RectHeight:        rectH,
		Rpp:               s.Rpp,
		FrameIndex:        frameIndex,
		DiffCheckerboard:  diffCb,
		SpecCheckerboard:  specCb,
	}
	inputs := denoiser.FrameInputs{
		SunElevation:          s.SunElevation,
		Ortho:                 cam.IsOrtho,
		ReferenceAccumulation: o.den.Settings().ReferenceAccumulation,
		OutputMode:            int(s.OutputMode),
	}
	factor := o.den.Denoise(cb, inputs, cs, &pool)

	if err := cb.End(); err != nil {
		return 0, err
	}
	return factor, nil
}

// recordPost records composition, the resolve path (neural upscale or
// temporal accumulation plus optional upsample), the backbuffer copy, and the
// present transitions.
func (o *orchestrator) recordPost(s *Settings, cam camera.State, slot *frame.Slot, rectW, rectH uint32, frameIndex uint64, factor float32) error {
	cb := slot.Post
	if err := cb.Begin(); err != nil {
		return err
	}

	cb.DebugMarker("Composition")
	composed := o.reg.Texture(registry.TexComposedLightingViewZ)
	cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
		{Texture: o.reg.Texture(registry.TexViewZ), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexDirectLighting), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexNormalRoughness), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexBaseColorMetalness), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexShadow), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexDiff), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexSpec), State: shaderResourceState()},
		{Texture: composed, State: storageState()},
	}), nil)
	cb.SetPipeline(o.pipes.composition)
	cb.SetBindings(o.binds.composition)
	cb.Dispatch(grid(rectW), grid(rectH), 1)

	var finalResult device.Texture
	if o.up.Available() {
		finalResult = o.recordUpscalePath(cb, cam, rectW, rectH, factor)
	} else {
		finalResult = o.recordTemporalPath(cb, rectW, rectH, frameIndex)
	}

	back := o.swap.Acquire()
	cb.DebugMarker("CopyToBackbuffer")
	copyBatch := o.opt.Optimize([]transition.Request{
		{Texture: finalResult, State: transition.State{Access: device.AccessCopySource, Layout: device.LayoutGeneral}},
	})
	copyBatch = append(copyBatch, device.TextureBarrier{
		Texture:    back,
		FromAccess: device.AccessUnknown,
		FromLayout: device.LayoutUnknown,
		ToAccess:   device.AccessCopyDestination,
		ToLayout:   device.LayoutGeneral,
	})
	cb.PipelineBarrier(copyBatch, nil)
	cb.CopyTexture(back, finalResult)

	cb.DebugMarker("UI")
	cb.PipelineBarrier([]device.TextureBarrier{{
		Texture:    back,
		FromAccess: device.AccessCopyDestination,
		FromLayout: device.LayoutGeneral,
		ToAccess:   device.AccessColorAttachment,
		ToLayout:   device.LayoutColorAttachment,
	}}, nil)
	cb.PipelineBarrier([]device.TextureBarrier{{
		Texture:    back,
		FromAccess: device.AccessColorAttachment,
		FromLayout: device.LayoutColorAttachment,
		ToAccess:   device.AccessUnknown,
		ToLayout:   device.LayoutPresent,
	}}, nil)

	return cb.End()
}

// recordUpscalePath shrinks the guide textures to the render rect, evaluates
// the neural session, and sharpens into the final target.
func (o *orchestrator) recordUpscalePath(cb device.CommandBuffer, cam camera.State, rectW, rectH uint32, factor float32) device.Texture {
	composed := o.reg.Texture(registry.TexComposedLightingViewZ)
	history := o.reg.Texture(registry.TexTaaHistory)
	final := o.reg.Texture(registry.TexFinal)

	cb.DebugMarker("PreUpscale")
	cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
		{Texture: o.reg.Texture(registry.TexObjectMotion), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexTransparentLighting), State: shaderResourceState()},
		{Texture: composed, State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexViewZ), State: storageState()},
		{Texture: o.reg.Texture(registry.TexUnfilteredShadowData), State: storageState()},
		{Texture: o.reg.Texture(registry.TexUnfilteredDiff), State: storageState()},
	}), nil)
	cb.SetPipeline(o.pipes.preUpscale)
	cb.SetBindings(o.binds.preUpscale)
	cb.Dispatch(grid(rectW), grid(rectH), 1)

	cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
		{Texture: history, State: storageState()},
	}), nil)
	o.up.Evaluate(cb, upscaler.EvalDesc{
		Input:        composed,
		Output:       history,
		Reset:        factor == 0,
		Jitter:       [2]float32{-cam.Jitter[0], -cam.Jitter[1]},
		RenderWidth:  rectW,
		RenderHeight: rectH,
		OutputWidth:  o.cfg.ScreenWidth,
		OutputHeight: o.cfg.ScreenHeight,
	})

	cb.DebugMarker("AfterUpscale")
	cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
		{Texture: history, State: shaderResourceState()},
		{Texture: final, State: storageState()},
	}), nil)
	cb.SetPipeline(o.pipes.afterUpscale)
	cb.SetBindings(o.binds.afterUpscale)
	cb.Dispatch(grid(o.cfg.ScreenWidth), grid(o.cfg.ScreenHeight), 1)
	return final
}

// recordTemporalPath ping-pongs the accumulation history by frame parity and
// upsamples only when rendering below presentation resolution.
func (o *orchestrator) recordTemporalPath(cb device.CommandBuffer, rectW, rectH uint32, frameIndex uint64) device.Texture {
	isEven := frameIndex&1 == 0
	taaSrc := o.reg.Texture(registry.TexTaaHistory)
	taaDst := o.reg.Texture(registry.TexTaaHistoryPrev)
	if isEven {
		taaSrc, taaDst = taaDst, taaSrc
	}

	cb.DebugMarker("Temporal")
	cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
		{Texture: o.reg.Texture(registry.TexObjectMotion), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexComposedLightingViewZ), State: shaderResourceState()},
		{Texture: o.reg.Texture(registry.TexTransparentLighting), State: shaderResourceState()},
		{Texture: taaSrc, State: shaderResourceState()},
		{Texture: taaDst, State: storageState()},
	}), nil)
	cb.SetPipeline(o.pipes.temporal)
	cb.SetBindings(o.binds.temporal[frameIndex&1])
	cb.Dispatch(grid(rectW), grid(rectH), 1)

	if o.scale >= 1 {
		return taaDst
	}

	cb.DebugMarker("Upsample")
	final := o.reg.Texture(registry.TexFinal)
	cb.PipelineBarrier(o.opt.Optimize([]transition.Request{
		{Texture: taaDst, State: shaderResourceState()},
		{Texture: final, State: storageState()},
	}), nil)
	cb.SetPipeline(o.pipes.upsample)
	cb.SetBindings(o.binds.upsample)
	cb.Dispatch(grid(o.cfg.ScreenWidth), grid(o.cfg.ScreenHeight), 1)
	return final
}

func shaderResourceState() transition.State {
	return transition.State{Access: device.AccessShaderResource, Layout: device.LayoutShaderResource}
}

func storageState() transition.State {
	return transition.State{Access: device.AccessShaderResourceStorage, Layout: device.LayoutGeneral}
}
