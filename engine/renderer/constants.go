package renderer

import (
	"math"
	"unsafe"

	"github.com/prism-rt/prism/common"
	"github.com/prism-rt/prism/engine/camera"
	"github.com/prism-rt/prism/engine/denoiser"
)

// GlobalConstants is the per-frame constant block, laid out to match the
// shader-side declaration. One aligned region per frame slot lives in the
// constants ring.
type GlobalConstants struct {
	WorldToView     [16]float32
	ViewToWorld     [16]float32
	ViewToClip      [16]float32
	WorldToClipPrev [16]float32
	WorldToClip     [16]float32

	CameraFrustum        [4]float32
	SunDirectionExposure [4]float32 // xyz direction, w exposure
	WorldOriginMipBias   [4]float32 // xyz camera position, w mip bias

	OutputSize    [2]float32
	InvOutputSize [2]float32
	RectSize      [2]float32
	InvRectSize   [2]float32
	RectSizePrev  [2]float32
	Jitter        [2]float32

	NearZ                float32
	Ambient              float32
	AmbientInComposition float32
	Separator            float32
	EmissionIntensity    float32
	MeterToUnits         float32
	IsOrtho              float32
	Debug                float32

	DenoiserType     uint32
	OnScreen         uint32
	FrameIndex       uint32
	WorldSpaceMotion uint32
	SampleNum        uint32
	_                [3]uint32
}

// ConstantsSize is the unaligned byte size of the constant block.
const ConstantsSize = uint32(unsafe.Sizeof(GlobalConstants{}))

// sunDirection converts azimuth and elevation in degrees to a unit vector.
func sunDirection(azimuthDeg, elevationDeg float32) [3]float32 {
	az := float64(common.DegToRad(azimuthDeg))
	el := float64(common.DegToRad(elevationDeg))
	cosE := math.Cos(el)
	return [3]float32{
		float32(cosE * math.Sin(az)),
		float32(math.Sin(el)),
		float32(cosE * math.Cos(az)),
	}
}

// fillConstants assembles the constant block for one frame.
func fillConstants(s *Settings, cam camera.State, nearZ float32, ambientInComposition bool,
	rectW, rectH, rectWPrev, rectHPrev, outW, outH uint32, frameIndex uint64) GlobalConstants {

	var inv [16]float32
	common.Invert4(inv[:], cam.WorldToView[:])

	sun := sunDirection(s.SunAzimuth, s.SunElevation)

	gc := GlobalConstants{
		WorldToView:     cam.WorldToView,
		ViewToWorld:     inv,
		ViewToClip:      cam.ViewToClip,
		WorldToClipPrev: cam.WorldToClipPrev,
		WorldToClip:     cam.WorldToClip,

		SunDirectionExposure: [4]float32{sun[0], sun[1], sun[2], s.Exposure},
		WorldOriginMipBias:   [4]float32{cam.Position[0], cam.Position[1], cam.Position[2], mipBias(s.ResolutionScale)},

		OutputSize:    [2]float32{float32(outW), float32(outH)},
		InvOutputSize: [2]float32{1 / float32(outW), 1 / float32(outH)},
		RectSize:      [2]float32{float32(rectW), float32(rectH)},
		InvRectSize:   [2]float32{1 / float32(rectW), 1 / float32(rectH)},
		RectSizePrev:  [2]float32{float32(rectWPrev), float32(rectHPrev)},

		NearZ:             nearZ,
		Ambient:           s.Ambient,
		Separator:         s.Separator,
		EmissionIntensity: s.EmissionIntensity,
		MeterToUnits:      s.MeterToUnits,
		Debug:             s.Debug,

		OnScreen:   uint32(s.OutputMode),
		FrameIndex: uint32(frameIndex),
		SampleNum:  maxU32(s.Rpp, 1),
	}

	// Jitter is expressed relative to the scaled render rect.
	if s.TAA {
		gc.Jitter = [2]float32{cam.Jitter[0] / float32(rectW), cam.Jitter[1] / float32(rectH)}
	}
	if cam.IsOrtho {
		gc.IsOrtho = 1
	}
	if ambientInComposition {
		gc.AmbientInComposition = 1
	}
	if s.Denoiser == denoiser.VariantEdgeAware {
		gc.DenoiserType = 1
	}
	if s.MotionVectorsInWorldSpace {
		gc.WorldSpaceMotion = 1
	}

	p := cam.Frustum.Planes[0]
	gc.CameraFrustum = [4]float32{p.Normal[0], p.Normal[1], p.Normal[2], p.Distance}
	return gc
}

// mipBias follows the render scale so texture sampling stays matched to the
// effective pixel footprint.
func mipBias(resolutionScale float32) float32 {
	return -0.5 + float32(math.Log2(float64(resolutionScale)))
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
