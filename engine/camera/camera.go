// Package camera computes per-frame view state for the ray tracer: current
// and previous transforms, sub-pixel jitter, and the culling frustum.
package camera

import (
	"sync"

	"github.com/prism-rt/prism/common"
)

// jitterPhases is the length of the Halton jitter cycle.
const jitterPhases = 16

// State is the camera snapshot consumed by the constant buffer each frame.
// All matrices are column-major. Prev fields hold the values from the
// previous Update call for reprojection.
type State struct {
	WorldToView     [16]float32
	ViewToClip      [16]float32
	WorldToClip     [16]float32
	WorldToClipPrev [16]float32

	Position     [3]float32
	PositionPrev [3]float32

	// Jitter is the sub-pixel offset in texel units, in [-0.5, 0.5].
	Jitter     [2]float32
	JitterPrev [2]float32

	IsOrtho bool

	Frustum common.Frustum
}

// Camera holds projection settings and an attached Controller, and produces
// a State snapshot once per frame. Thread-safe for concurrent access.
type Camera interface {
	// Fov returns the vertical field of view in radians.
	Fov() float32

	// SetFov sets the vertical field of view in radians.
	SetFov(fov float32)

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// SetAspect sets the aspect ratio.
	SetAspect(aspect float32)

	// Near returns the near clipping plane distance.
	Near() float32

	// Far returns the far clipping plane distance.
	Far() float32

	// Ortho reports whether the orthographic projection is active.
	Ortho() bool

	// SetOrtho switches between perspective and orthographic projection.
	// The caller is responsible for resetting temporal history when the
	// projection kind changes.
	SetOrtho(ortho bool)

	// Controller returns the attached Controller, or nil.
	Controller() Controller

	// SetController attaches a Controller.
	SetController(ctrl Controller)

	// Update recomputes the camera state for a frame. The previous state
	// is captured before the update so reprojection sees a consistent
	// pair. Jitter cycles through a Halton sequence keyed by frameIndex.
	//
	// Parameters:
	//   - frameIndex: the monotonically increasing frame counter
	Update(frameIndex uint64)

	// State returns the snapshot from the last Update.
	State() State
}

type cameraImpl struct {
	mu *sync.Mutex

	up [3]float32

	fov    float32
	aspect float32
	near   float32
	far    float32

	ortho           bool
	orthoHalfExtent float32

	controller Controller
	state      State
}

var _ Camera = &cameraImpl{}

// NewCamera creates a camera with default perspective settings. A controller
// must be attached via SetController or WithController before Update
// produces meaningful positions.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:              &sync.Mutex{},
		up:              [3]float32{0, 1, 0},
		fov:             common.DegToRad(90),
		aspect:          16.0 / 9.0,
		near:            0.1,
		far:             10000.0,
		orthoHalfExtent: 10,
	}
	for _, option := range options {
		option(c)
	}
	common.Identity(c.state.WorldToView[:])
	common.Identity(c.state.ViewToClip[:])
	common.Identity(c.state.WorldToClip[:])
	common.Identity(c.state.WorldToClipPrev[:])
	return c
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Ortho() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ortho
}

func (c *cameraImpl) SetOrtho(ortho bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ortho = ortho
}

func (c *cameraImpl) Controller() Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetController(ctrl Controller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
}

func (c *cameraImpl) Update(frameIndex uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.WorldToClipPrev = c.state.WorldToClip
	c.state.PositionPrev = c.state.Position
	c.state.JitterPrev = c.state.Jitter

	if c.controller != nil {
		px, py, pz := c.controller.Position()
		tx, ty, tz := c.controller.Target()
		c.state.Position = [3]float32{px, py, pz}
		common.LookAt(c.state.WorldToView[:],
			px, py, pz,
			tx, ty, tz,
			c.up[0], c.up[1], c.up[2],
		)
	}

	if c.ortho {
		common.Ortho(c.state.ViewToClip[:], c.orthoHalfExtent, c.aspect, c.near, c.far)
	} else {
		common.Perspective(c.state.ViewToClip[:], c.fov, c.aspect, c.near, c.far)
	}
	c.state.IsOrtho = c.ortho

	common.Mul4(c.state.WorldToClip[:], c.state.ViewToClip[:], c.state.WorldToView[:])
	c.state.Frustum = common.ExtractFrustumFromMatrix(c.state.WorldToClip[:])

	phase := uint32(frameIndex%jitterPhases) + 1
	c.state.Jitter = [2]float32{
		halton(phase, 2) - 0.5,
		halton(phase, 3) - 0.5,
	}
}

func (c *cameraImpl) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// halton returns element index of the base-b Halton low discrepancy
// sequence, in (0, 1).
func halton(index, base uint32) float32 {
	f := float32(1)
	r := float32(0)
	for index > 0 {
		f /= float32(base)
		r += f * float32(index%base)
		index /= base
	}
	return r
}
