package renderer

import (
	"github.com/prism-rt/prism/engine/denoiser"
)

// OutputMode selects what the composition pass writes. Modes up to
// OutputAmbientOcclusion are lit results sharing temporal history; modes
// from OutputMip upward are raw debug visualizations.
type OutputMode int

const (
	OutputFinal OutputMode = iota
	OutputDenoisedDiffuse
	OutputDenoisedSpecular
	OutputShadow
	OutputDirectLighting
	OutputTransparentLighting
	OutputAmbientOcclusion
)

const (
	OutputBaseColor OutputMode = iota + 13
	OutputNormal
	OutputRoughness
	OutputMetalness
	OutputWorldPosition
	OutputMotion
	OutputMip
)

// Settings are the per-run tweakables. The orchestrator snapshots them at
// the top of every frame, so mid-frame mutation from another goroutine never
// tears a frame.
type Settings struct {
	// Rpp is rays per pixel; 0 traces at checkerboarded half rate.
	Rpp uint32

	// SpecSecondBounce enables the second specular bounce raygen variant.
	SpecSecondBounce bool

	// TAA applies sub-pixel jitter and temporal accumulation.
	TAA bool

	Denoiser   denoiser.VariantKind
	OutputMode OutputMode

	SunAzimuth   float32 // degrees
	SunElevation float32 // degrees

	// Emission lights the scene from emissive materials; off by default,
	// they trace as plain opaque geometry.
	Emission bool

	// EmissiveObjects promotes a random third of the animated instances
	// to emitters. Needs Emission to take effect.
	EmissiveObjects bool

	Animate        bool
	AnimationSpeed float64

	// ResolutionScale is the internal render scale in (0, 1]. Adaptive
	// mode overwrites it each frame.
	ResolutionScale float32

	// AdaptiveResolution retunes ResolutionScale toward the FPS floor.
	AdaptiveResolution bool

	// LimitFps busy-waits the frame loop down to MaxFps when set.
	LimitFps bool
	MaxFps   float32
	MinFps   float32

	Exposure          float32
	EmissionIntensity float32
	MeterToUnits      float32
	Ambient           float32

	MotionVectorsInWorldSpace bool

	Ortho bool

	Debug     float32
	Separator float32
}

// DefaultSettings returns sane starting values.
func DefaultSettings() Settings {
	return Settings{
		Rpp:               1,
		TAA:               true,
		SunElevation:      60,
		SunAzimuth:        -147,
		Animate:           true,
		AnimationSpeed:    0.2,
		ResolutionScale:   1,
		MaxFps:            60,
		MinFps:            30,
		Exposure:          0.005,
		EmissionIntensity: 1,
		MeterToUnits:      1,
		Ambient:           1,
	}
}
