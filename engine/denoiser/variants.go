package denoiser

import (
	"fmt"

	"github.com/prism-rt/prism/engine/device"
)

func dispatchGrid(w, h uint32) (uint32, uint32) {
	return (w + 15) / 16, (h + 15) / 16
}

func createPipelines(dev device.Device, prefix string, names []string) ([]device.Pipeline, error) {
	out := make([]device.Pipeline, len(names))
	for i, n := range names {
		p, err := dev.CreatePipeline(device.PipelineDesc{
			Label: fmt.Sprintf("%s.%s", prefix, n),
			Kind:  device.PipelineCompute,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s pipeline %q: %w", prefix, n, err)
		}
		out[i] = p
	}
	return out, nil
}

// blurVariant accumulates with a fixed temporal weight, then spreads the
// residual noise with an adaptive spatial blur whose radius shrinks as
// history grows. Its ambient term is folded into the denoised output.
type blurVariant struct {
	pipelines   []device.Pipeline
	accumulated uint32

	blurRadius    float32
	adaptiveScale float32
	stabilization float32
	antiFirefly   bool
	intensity     Antilag
	hitDistance   Antilag
}

var _ Variant = &blurVariant{}

var blurPasses = []string{
	"TemporalAccumulation",
	"HistoryFix",
	"Blur",
	"PostBlur",
	"AntiFirefly",
	"TemporalStabilization",
	"ShadowResolve",
}

const (
	blurPassTemporalAccumulation = iota
	blurPassHistoryFix
	blurPassBlur
	blurPassPostBlur
	blurPassAntiFirefly
	blurPassTemporalStabilization
	blurPassShadowResolve
)

func newBlurVariant(dev device.Device) (*blurVariant, error) {
	pipelines, err := createPipelines(dev, "DenoiseBlur", blurPasses)
	if err != nil {
		return nil, err
	}
	return &blurVariant{pipelines: pipelines}, nil
}

func (v *blurVariant) Kind() VariantKind { return VariantBlur }

func (v *blurVariant) AmbientSupported() bool { return true }

func (v *blurVariant) AccumulatedFrames() uint32 { return v.accumulated }

func (v *blurVariant) Prepare(s Settings, intensity, hitDistance Antilag) {
	v.blurRadius = s.BlurRadius
	v.adaptiveScale = s.AdaptiveRadiusScale
	v.stabilization = s.StabilizationStrength
	v.antiFirefly = s.AntiFirefly
	v.intensity = intensity
	v.hitDistance = hitDistance
}

// AntilagParams returns the installed antilag parameters.
func (v *blurVariant) AntilagParams() (Antilag, Antilag) {
	return v.intensity, v.hitDistance
}

// effectiveRadius widens the blur while history is short and collapses to
// zero when the base radius is disabled.
func (v *blurVariant) effectiveRadius(cs CommonSettings) float32 {
	if v.blurRadius <= 0 {
		return 0
	}
	history := float32(v.accumulated) / float32(cs.MaxAccumulatedFrameNum+1)
	return v.blurRadius * (1 + v.adaptiveScale*(1-history))
}

func (v *blurVariant) Denoise(cb device.CommandBuffer, cs CommonSettings, pool *UserPool) {
	if cs.AccumulationMode == AccumulationClearAndRestart {
		v.accumulated = 0
	}

	cb.DebugMarker("DenoiseBlur")
	gx, gy := dispatchGrid(cs.RectWidth, cs.RectHeight)
	run := func(i int) {
		cb.SetPipeline(v.pipelines[i])
		cb.Dispatch(gx, gy, 1)
	}

	run(blurPassTemporalAccumulation)
	run(blurPassHistoryFix)
	if v.effectiveRadius(cs) > 0 {
		run(blurPassBlur)
		run(blurPassPostBlur)
	}
	if v.antiFirefly {
		run(blurPassAntiFirefly)
	}
	if v.stabilization > 0 {
		run(blurPassTemporalStabilization)
	}
	run(blurPassShadowResolve)

	if v.accumulated < cs.MaxAccumulatedFrameNum {
		v.accumulated++
	} else {
		v.accumulated = cs.MaxAccumulatedFrameNum
	}
}

// edgeAwareVariant keeps a fast and a slow history and filters with
// iterated edge-stopping passes. It carries no ambient term, so composition
// has to skip its own when this variant is active.
type edgeAwareVariant struct {
	pipelines   []device.Pipeline
	firefly     device.Pipeline
	atrous      []device.Pipeline
	accumulated uint32
	fast        uint32

	antiFirefly bool
	intensity   Antilag
	hitDistance Antilag
}

var _ Variant = &edgeAwareVariant{}

var edgeAwarePasses = []string{
	"Prepass",
	"Reprojection",
	"DisocclusionFix",
	"HistoryClamping",
	"VarianceEstimation",
}

const atrousIterationNum = 5

func newEdgeAwareVariant(dev device.Device) (*edgeAwareVariant, error) {
	pipelines, err := createPipelines(dev, "DenoiseEdgeAware", edgeAwarePasses)
	if err != nil {
		return nil, err
	}
	atrousNames := make([]string, atrousIterationNum)
	for i := range atrousNames {
		atrousNames[i] = fmt.Sprintf("Atrous%d", i)
	}
	atrous, err := createPipelines(dev, "DenoiseEdgeAware", atrousNames)
	if err != nil {
		return nil, err
	}
	firefly, err := createPipelines(dev, "DenoiseEdgeAware", []string{"AntiFirefly"})
	if err != nil {
		return nil, err
	}
	return &edgeAwareVariant{pipelines: pipelines, firefly: firefly[0], atrous: atrous}, nil
}

func (v *edgeAwareVariant) Kind() VariantKind { return VariantEdgeAware }

func (v *edgeAwareVariant) AmbientSupported() bool { return false }

func (v *edgeAwareVariant) AccumulatedFrames() uint32 { return v.accumulated }

// FastAccumulatedFrames returns the fast history length.
func (v *edgeAwareVariant) FastAccumulatedFrames() uint32 { return v.fast }

func (v *edgeAwareVariant) Prepare(s Settings, intensity, hitDistance Antilag) {
	v.antiFirefly = s.AntiFirefly
	v.intensity = intensity
	v.hitDistance = hitDistance
}

// AntilagParams returns the installed antilag parameters.
func (v *edgeAwareVariant) AntilagParams() (Antilag, Antilag) {
	return v.intensity, v.hitDistance
}

func (v *edgeAwareVariant) Denoise(cb device.CommandBuffer, cs CommonSettings, pool *UserPool) {
	if cs.AccumulationMode == AccumulationClearAndRestart {
		v.accumulated = 0
		v.fast = 0
	}

	cb.DebugMarker("DenoiseEdgeAware")
	gx, gy := dispatchGrid(cs.RectWidth, cs.RectHeight)
	for _, p := range v.pipelines {
		cb.SetPipeline(p)
		cb.Dispatch(gx, gy, 1)
	}
	if v.antiFirefly {
		cb.SetPipeline(v.firefly)
		cb.Dispatch(gx, gy, 1)
	}
	for _, p := range v.atrous {
		cb.SetPipeline(p)
		cb.Dispatch(gx, gy, 1)
	}

	if v.accumulated < cs.MaxAccumulatedFrameNum {
		v.accumulated++
	} else {
		v.accumulated = cs.MaxAccumulatedFrameNum
	}
	if v.fast < cs.MaxFastAccumulatedFrameNum {
		v.fast++
	} else {
		v.fast = cs.MaxFastAccumulatedFrameNum
	}
}
