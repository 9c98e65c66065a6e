package denoiser

import (
	"testing"

	"github.com/prism-rt/prism/engine/device"
)

func TestResetFactorSunMovementMonotonic(t *testing.T) {
	base := FrameInputs{SunElevation: -5}
	prevFactor := float32(1)
	for _, elevation := range []float32{-5, -10, -15, -20, -30, -45, -60} {
		curr := FrameInputs{SunElevation: elevation}
		factor := ResetFactor(base, curr)
		if factor < 0 || factor > 1 {
			t.Fatalf("elevation %g: factor %g out of range", elevation, factor)
		}
		if factor > prevFactor {
			t.Fatalf("elevation %g: factor %g grew from %g while the sun moved further", elevation, factor, prevFactor)
		}
		prevFactor = factor
	}

	if f := ResetFactor(base, base); f != 1 {
		t.Fatalf("static sun: factor %g, want 1", f)
	}
	if f := ResetFactor(FrameInputs{SunElevation: 45}, FrameInputs{SunElevation: -60}); f != 0 {
		t.Fatalf("day to night: factor %g, want 0", f)
	}
}

func TestResetFactorDiscreteTriggers(t *testing.T) {
	base := FrameInputs{SunElevation: 30, OutputMode: 2}
	cases := []struct {
		name string
		curr FrameInputs
		want float32
	}{
		{"unchanged", base, 1},
		{"variant switch", FrameInputs{SunElevation: 30, OutputMode: 2, Variant: VariantEdgeAware}, 0},
		{"ortho toggle", FrameInputs{SunElevation: 30, OutputMode: 2, Ortho: true}, 0},
		{"reference accumulation toggle", FrameInputs{SunElevation: 30, OutputMode: 2, ReferenceAccumulation: true}, 0},
		{"lit to debug output", FrameInputs{SunElevation: 30, OutputMode: 14}, 0},
		{"lit to lit output", FrameInputs{SunElevation: 30, OutputMode: 5}, 1},
		{"forced", FrameInputs{SunElevation: 30, OutputMode: 2, ForceReset: true}, 0},
	}
	for _, tc := range cases {
		if got := ResetFactor(base, tc.curr); got != tc.want {
			t.Errorf("%s: factor %g, want %g", tc.name, got, tc.want)
		}
	}

	// Debug to lit crossing resets in the other direction too.
	if got := ResetFactor(FrameInputs{SunElevation: 30, OutputMode: 14}, base); got != 0 {
		t.Errorf("debug to lit output: factor %g, want 0", got)
	}
}

func TestAntilagSettingsDerivation(t *testing.T) {
	s := DefaultSettings() // residual noise level 3 -> f = 0.6

	intensity, hitDistance := AntilagSettings(s, 0)
	approx := func(got, want float32, what string) {
		t.Helper()
		if diff := got - want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("%s: got %g, want %g", what, got, want)
		}
	}
	approx(intensity.ThresholdMin, 0.036*0.25, "intensity min at rpp 0")
	approx(intensity.ThresholdMax, 0.18, "intensity max at rpp 0")
	approx(hitDistance.ThresholdMin, 0.016*0.25, "hit distance min at rpp 0")
	approx(hitDistance.ThresholdMax, 0.084, "hit distance max at rpp 0")

	// More rays per pixel tightens every threshold by the same scale.
	intensity2, _ := AntilagSettings(s, 2)
	approx(intensity2.ThresholdMin, intensity.ThresholdMin*0.5, "intensity min at rpp 2")
	approx(intensity2.ThresholdMax, intensity.ThresholdMax*0.5, "intensity max at rpp 2")
}

func runDenoiseWith(t *testing.T, dev *device.TraceDevice, e Engine, inputs FrameInputs, cs CommonSettings) float32 {
	t.Helper()
	cb, err := dev.NewCommandBuffer("Denoise")
	if err != nil {
		t.Fatalf("NewCommandBuffer: %v", err)
	}
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var pool UserPool
	factor := e.Denoise(cb, inputs, cs, &pool)
	if err := cb.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := dev.Queue().Submit([]device.CommandBuffer{cb}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return factor
}

func runDenoise(t *testing.T, dev *device.TraceDevice, e Engine, inputs FrameInputs) float32 {
	t.Helper()
	return runDenoiseWith(t, dev, e, inputs, CommonSettings{RectWidth: 128, RectHeight: 128})
}

// Every Denoise must push the freshly derived antilag thresholds into the
// active variant, honoring the frame's rays-per-pixel rate.
func TestDenoiseForwardsAntilagToActiveVariant(t *testing.T) {
	dev := device.NewTraceDevice()
	e, err := NewEngine(dev)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	cs := CommonSettings{RectWidth: 128, RectHeight: 128, Rpp: 2}
	runDenoiseWith(t, dev, e, FrameInputs{SunElevation: 30}, cs)

	wantIntensity, wantHitDistance := AntilagSettings(e.Settings(), 2)
	blur := e.Variant(VariantBlur).(*blurVariant)
	intensity, hitDistance := blur.AntilagParams()
	if intensity != wantIntensity {
		t.Fatalf("intensity antilag = %+v, want %+v", intensity, wantIntensity)
	}
	if hitDistance != wantHitDistance {
		t.Fatalf("hit distance antilag = %+v, want %+v", hitDistance, wantHitDistance)
	}

	e.SetActive(VariantEdgeAware)
	runDenoiseWith(t, dev, e, FrameInputs{SunElevation: 30}, cs)
	edge := e.Variant(VariantEdgeAware).(*edgeAwareVariant)
	intensity, _ = edge.AntilagParams()
	if intensity != wantIntensity {
		t.Fatalf("edge-aware intensity antilag = %+v, want %+v", intensity, wantIntensity)
	}
}

func pipelineRan(log []device.Op, label string) bool {
	for _, op := range log {
		if op.Kind == device.OpSetPipeline && op.Name == label {
			return true
		}
	}
	return false
}

// Stabilization strength zero disables the temporal stabilization pass, and
// a zero blur radius disables the spatial blur passes.
func TestBlurPassesFollowTunables(t *testing.T) {
	dev := device.NewTraceDevice()
	e, err := NewEngine(dev)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	runDenoise(t, dev, e, FrameInputs{SunElevation: 30})
	log := dev.Log()
	for _, label := range []string{"DenoiseBlur.Blur", "DenoiseBlur.PostBlur", "DenoiseBlur.TemporalStabilization"} {
		if !pipelineRan(log, label) {
			t.Fatalf("defaults skipped %q", label)
		}
	}
	if pipelineRan(log, "DenoiseBlur.AntiFirefly") {
		t.Fatal("anti-firefly ran while disabled")
	}

	s := e.Settings()
	s.StabilizationStrength = 0
	s.BlurRadius = 0
	s.AntiFirefly = true
	e.SetSettings(s)
	dev.ResetLog()
	runDenoise(t, dev, e, FrameInputs{SunElevation: 30})
	log = dev.Log()
	for _, label := range []string{"DenoiseBlur.Blur", "DenoiseBlur.PostBlur", "DenoiseBlur.TemporalStabilization"} {
		if pipelineRan(log, label) {
			t.Fatalf("%q ran while disabled", label)
		}
	}
	if !pipelineRan(log, "DenoiseBlur.AntiFirefly") {
		t.Fatal("anti-firefly skipped while enabled")
	}
	for _, label := range []string{"DenoiseBlur.TemporalAccumulation", "DenoiseBlur.HistoryFix", "DenoiseBlur.ShadowResolve"} {
		if !pipelineRan(log, label) {
			t.Fatalf("mandatory pass %q skipped", label)
		}
	}
}

// The edge-aware variant gates its firefly suppression the same way.
func TestEdgeAwareAntiFireflyFollowsSetting(t *testing.T) {
	dev := device.NewTraceDevice()
	e, err := NewEngine(dev)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.SetActive(VariantEdgeAware)

	runDenoise(t, dev, e, FrameInputs{SunElevation: 30})
	if pipelineRan(dev.Log(), "DenoiseEdgeAware.AntiFirefly") {
		t.Fatal("anti-firefly ran while disabled")
	}

	s := e.Settings()
	s.AntiFirefly = true
	e.SetSettings(s)
	dev.ResetLog()
	runDenoise(t, dev, e, FrameInputs{SunElevation: 30})
	if !pipelineRan(dev.Log(), "DenoiseEdgeAware.AntiFirefly") {
		t.Fatal("anti-firefly skipped while enabled")
	}
}

func TestVariantSwitchClearsHistoryForOneFrame(t *testing.T) {
	dev := device.NewTraceDevice()
	e, err := NewEngine(dev)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	steady := FrameInputs{SunElevation: 30, OutputMode: 0}

	// Warm the blur variant past its fast history.
	for i := 0; i < 10; i++ {
		runDenoise(t, dev, e, steady)
	}
	blur := e.Variant(VariantBlur)
	if blur.AccumulatedFrames() < 5 {
		t.Fatalf("blur history did not accumulate: %d frames", blur.AccumulatedFrames())
	}
	blurHistory := blur.AccumulatedFrames()

	// Switching variants must clear the new variant's history exactly
	// once and leave the inactive one untouched.
	e.SetActive(VariantEdgeAware)
	if factor := runDenoise(t, dev, e, steady); factor != 0 {
		t.Fatalf("switch frame: factor %g, want 0", factor)
	}
	edge := e.Variant(VariantEdgeAware)
	if edge.AccumulatedFrames() != 0 {
		t.Fatalf("switch frame: edge-aware history %d, want 0", edge.AccumulatedFrames())
	}
	if blur.AccumulatedFrames() != blurHistory {
		t.Fatalf("switch frame touched inactive history: %d, want %d", blur.AccumulatedFrames(), blurHistory)
	}

	if factor := runDenoise(t, dev, e, steady); factor != 1 {
		t.Fatalf("frame after switch: factor %g, want 1", factor)
	}
	if edge.AccumulatedFrames() != 1 {
		t.Fatalf("frame after switch: edge-aware history %d, want 1", edge.AccumulatedFrames())
	}
}

func TestFirstFrameClearsAndRestarts(t *testing.T) {
	dev := device.NewTraceDevice()
	e, err := NewEngine(dev)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if factor := runDenoise(t, dev, e, FrameInputs{SunElevation: 30}); factor != 0 {
		t.Fatalf("first frame: factor %g, want 0", factor)
	}
}

func TestAmbientInCompositionFollowsVariant(t *testing.T) {
	dev := device.NewTraceDevice()
	e, err := NewEngine(dev)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if !e.AmbientInComposition() {
		t.Fatal("blur variant should keep ambient in composition")
	}
	e.SetActive(VariantEdgeAware)
	if e.AmbientInComposition() {
		t.Fatal("edge-aware variant should disable composition ambient")
	}
}
