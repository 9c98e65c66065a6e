// Package denoiser orchestrates temporal denoising of the ray-traced
// signals. Two variants stay resident with independent history: a blur-based
// one and an edge-aware one. The engine computes the per-frame history reset
// factor from settings deltas and drives whichever variant is active.
package denoiser

import (
	"log"
	"math"
	"sync"

	"github.com/prism-rt/prism/common"
	"github.com/prism-rt/prism/engine/device"
)

// VariantKind selects the active denoiser.
type VariantKind int

const (
	VariantBlur VariantKind = iota
	VariantEdgeAware
)

func (k VariantKind) String() string {
	if k == VariantEdgeAware {
		return "edge-aware"
	}
	return "blur"
}

// Checkerboard selects which half of the checkerboarded signal a pass
// resolves when rays are traced at half rate.
type Checkerboard int

const (
	CheckerboardOff Checkerboard = iota
	CheckerboardWhite
	CheckerboardBlack
)

// AccumulationMode tells a variant what to do with its temporal history.
type AccumulationMode int

const (
	AccumulationContinue AccumulationMode = iota
	AccumulationClearAndRestart
)

// PoolSlot indexes the fixed user pool the variants consume. Unused slots
// stay nil.
type PoolSlot int

const (
	PoolMotion PoolSlot = iota
	PoolNormalRoughness
	PoolViewZ
	PoolDiffRadiance
	PoolSpecRadiance
	PoolDiffDirectionPdf
	PoolSpecDirectionPdf
	PoolDiffConfidence
	PoolSpecConfidence
	PoolShadowData
	PoolShadowTranslucency
	PoolOutShadowTranslucency
	PoolOutDiff
	PoolOutSpec

	PoolSlotNum
)

// UserPool maps pool slots to textures for one Denoise call.
type UserPool [PoolSlotNum]device.Texture

// Settings are the tunable denoising knobs. Thresholds expressed in percent
// are converted at use sites.
type Settings struct {
	BlurRadius                 float32
	AdaptiveRadiusScale        float32
	DisocclusionThreshold      float32 // percent
	ResidualNoiseLevel         float32 // percent
	MaxAccumulatedFrameNum     uint32
	MaxFastAccumulatedFrameNum uint32
	StabilizationStrength      float32
	AntilagIntensity           bool
	AntilagHitDistance         bool
	AntiFirefly                bool
	ReferenceAccumulation      bool
}

// DefaultSettings returns the tuned defaults.
func DefaultSettings() Settings {
	return Settings{
		BlurRadius:                 30,
		AdaptiveRadiusScale:        5,
		DisocclusionThreshold:      1.0,
		ResidualNoiseLevel:         3,
		MaxAccumulatedFrameNum:     31,
		MaxFastAccumulatedFrameNum: 7,
		StabilizationStrength:      1,
		AntilagIntensity:           true,
		AntilagHitDistance:         true,
	}
}

// Antilag bounds how aggressively history is discarded when the signal
// changes faster than the accumulated mean.
type Antilag struct {
	ThresholdMin float32
	ThresholdMax float32
	SigmaScale   float32
	Enable       bool
}

// AntilagSettings derives the intensity and hit-distance antilag parameters
// from the residual noise level and the rays-per-pixel rate. Higher noise
// widens the thresholds; more rays per pixel tightens them.
//
// Parameters:
//   - s: the active settings
//   - rpp: rays per pixel, 0 meaning checkerboarded half rate
//
// Returns:
//   - Antilag: intensity antilag parameters
//   - Antilag: hit-distance antilag parameters
func AntilagSettings(s Settings, rpp uint32) (Antilag, Antilag) {
	f := common.Saturate(s.ResidualNoiseLevel / 5)
	scale := 1.0 / (1.0 + float32(rpp)*0.5)

	intensity := Antilag{
		ThresholdMin: common.Lerp(0.03, 0.04, f) * scale,
		ThresholdMax: common.Lerp(0.15, 0.20, f) * scale,
		SigmaScale:   1,
		Enable:       s.AntilagIntensity,
	}
	hitDistance := Antilag{
		ThresholdMin: common.Lerp(0.01, 0.02, f) * scale,
		ThresholdMax: common.Lerp(0.06, 0.10, f) * scale,
		SigmaScale:   1,
		Enable:       s.AntilagHitDistance,
	}

	intensity.ThresholdMin *= 0.25
	hitDistance.ThresholdMin *= 0.25
	return intensity, hitDistance
}

// FrameInputs are the per-frame facts the reset heuristic compares against
// the previous frame.
type FrameInputs struct {
	SunElevation          float32 // degrees
	Variant               VariantKind
	Ortho                 bool
	ReferenceAccumulation bool
	OutputMode            int
	ForceReset            bool
}

// outputModeLit is the top of the lit output mode range; modes above
// outputModeDebug are raw debug visualizations incompatible with the lit
// history.
const (
	outputModeLit   = 6
	outputModeDebug = 13
)

// sunFade maps sun elevation in degrees to perceived scene brightness.
func sunFade(elevationDeg float32) float32 {
	s := float32(math.Sin(float64(common.DegToRad(elevationDeg))))
	return common.Smoothstep(-0.9, 0.05, s)
}

// ResetFactor computes the history scale for this frame: 1 keeps full
// history, 0 forces a clear. Sun movement fades history smoothly; switching
// the denoiser variant, the projection kind, reference accumulation, or
// crossing between lit and debug output modes clears it outright.
//
// Parameters:
//   - prev: last frame's inputs
//   - curr: this frame's inputs
//
// Returns:
//   - float32: the history factor in [0, 1]
func ResetFactor(prev, curr FrameInputs) float32 {
	sunCurr := sunFade(curr.SunElevation)
	sunPrev := sunFade(prev.SunElevation)
	delta := sunCurr - sunPrev
	if delta < 0 {
		delta = -delta
	}
	factor := 1 - common.Smoothstep(0, 0.2, delta)

	if prev.Variant != curr.Variant {
		factor = 0
	}
	if prev.Ortho != curr.Ortho {
		factor = 0
	}
	if prev.ReferenceAccumulation != curr.ReferenceAccumulation {
		factor = 0
	}
	if (prev.OutputMode >= outputModeDebug && curr.OutputMode <= outputModeLit) ||
		(prev.OutputMode <= outputModeLit && curr.OutputMode >= outputModeDebug) {
		factor = 0
	}
	if curr.ForceReset {
		factor = 0
	}
	return factor
}

// CommonSettings carry the camera and scaling state into a variant.
type CommonSettings struct {
	ViewToClip      [16]float32
	ViewToClipPrev  [16]float32
	WorldToView     [16]float32
	WorldToViewPrev [16]float32

	MotionVectorScale [2]float32
	Jitter            [2]float32
	ResolutionScale   float32

	MeterToUnits          float32
	DenoisingRange        float32
	DisocclusionThreshold float32

	RectWidth  uint32
	RectHeight uint32

	// Rpp is the traced rays per pixel; it feeds the antilag threshold
	// derivation.
	Rpp uint32

	FrameIndex       uint64
	AccumulationMode AccumulationMode

	DiffCheckerboard Checkerboard
	SpecCheckerboard Checkerboard

	MaxAccumulatedFrameNum     uint32
	MaxFastAccumulatedFrameNum uint32
}

// Variant is one resident denoiser implementation.
type Variant interface {
	// Kind returns the variant identity.
	Kind() VariantKind

	// AmbientSupported reports whether the variant's output already
	// carries the ambient term. When false, composition must skip its
	// own ambient contribution.
	AmbientSupported() bool

	// AccumulatedFrames returns the current temporal history length.
	AccumulatedFrames() uint32

	// Prepare installs the frame's tunables before Denoise: the blur and
	// stabilization knobs from s plus the derived antilag parameters.
	Prepare(s Settings, intensity, hitDistance Antilag)

	// Denoise records the variant's passes into cb and advances or
	// clears its history per the accumulation mode.
	Denoise(cb device.CommandBuffer, cs CommonSettings, pool *UserPool)
}

// Engine owns both variants and the reset heuristic.
type Engine interface {
	// Active returns the active variant kind.
	Active() VariantKind

	// SetActive switches the active variant. History of the new variant
	// is cleared on the next Denoise via the reset heuristic.
	SetActive(kind VariantKind)

	// Variant returns the resident variant of the given kind.
	Variant(kind VariantKind) Variant

	// AmbientInComposition reports whether composition should apply the
	// ambient term, which depends on the active variant's capability.
	AmbientInComposition() bool

	// ForceReset clears history on the next frame.
	ForceReset()

	// Settings returns the current knobs.
	Settings() Settings

	// SetSettings replaces the knobs.
	SetSettings(s Settings)

	// Denoise computes the reset factor against the previous frame,
	// scales the accumulation budgets, and runs the active variant.
	//
	// Parameters:
	//   - cb: the command buffer to record into, already begun
	//   - inputs: this frame's reset heuristic facts
	//   - cs: camera and scaling state; accumulation fields are
	//     overwritten by the engine
	//   - pool: the textures the variant reads and writes
	//
	// Returns:
	//   - float32: the reset factor applied this frame
	Denoise(cb device.CommandBuffer, inputs FrameInputs, cs CommonSettings, pool *UserPool) float32
}

type engine struct {
	mu *sync.Mutex

	variants [2]Variant
	active   VariantKind

	settings Settings

	prev       FrameInputs
	havePrev   bool
	forceReset bool

	warnedAmbient bool
}

var _ Engine = &engine{}

// NewEngine creates both variants resident on the device.
//
// Parameters:
//   - dev: the graphics device, used to create the variant pipelines
//
// Returns:
//   - Engine: the denoising engine
//   - error: an error if pipeline creation fails
func NewEngine(dev device.Device) (Engine, error) {
	blur, err := newBlurVariant(dev)
	if err != nil {
		return nil, err
	}
	edge, err := newEdgeAwareVariant(dev)
	if err != nil {
		return nil, err
	}
	return &engine{
		mu:       &sync.Mutex{},
		variants: [2]Variant{blur, edge},
		settings: DefaultSettings(),
	}, nil
}

func (e *engine) Active() VariantKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *engine) SetActive(kind VariantKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = kind
}

func (e *engine) Variant(kind VariantKind) Variant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.variants[kind]
}

func (e *engine) AmbientInComposition() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	supported := e.variants[e.active].AmbientSupported()
	if !supported && !e.warnedAmbient {
		log.Printf("[Denoiser] %s variant carries no ambient term, composition ambient disabled", e.active)
		e.warnedAmbient = true
	}
	return supported
}

func (e *engine) ForceReset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceReset = true
}

func (e *engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *engine) SetSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

func (e *engine) Denoise(cb device.CommandBuffer, inputs FrameInputs, cs CommonSettings, pool *UserPool) float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	inputs.Variant = e.active
	if e.forceReset {
		inputs.ForceReset = true
		e.forceReset = false
	}

	factor := float32(0)
	if e.havePrev {
		factor = ResetFactor(e.prev, inputs)
	}
	e.prev = inputs
	e.havePrev = true

	cs.MaxAccumulatedFrameNum = uint32(float32(e.settings.MaxAccumulatedFrameNum)*factor + 0.5)
	cs.MaxFastAccumulatedFrameNum = uint32(float32(e.settings.MaxFastAccumulatedFrameNum)*factor + 0.5)
	if factor == 0 {
		cs.AccumulationMode = AccumulationClearAndRestart
	} else {
		cs.AccumulationMode = AccumulationContinue
	}
	cs.DisocclusionThreshold = e.settings.DisocclusionThreshold * 0.01

	intensity, hitDistance := AntilagSettings(e.settings, cs.Rpp)
	active := e.variants[e.active]
	active.Prepare(e.settings, intensity, hitDistance)
	active.Denoise(cb, cs, pool)
	return factor
}
