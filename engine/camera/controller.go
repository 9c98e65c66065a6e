package camera

import (
	"math"
	"sync"
)

// Controller owns positional camera state as spherical coordinates around a
// target point. Orbit methods modify azimuth and elevation; Pan translates
// both position and target along local camera axes, preserving the orbit
// relationship. Thread-safe for concurrent access.
type Controller interface {
	// Position returns the camera's world-space position.
	//
	// Returns:
	//   - x, y, z: world-space camera position
	Position() (x, y, z float32)

	// Target returns the look-at point.
	//
	// Returns:
	//   - x, y, z: world-space target position
	Target() (x, y, z float32)

	// SetTarget sets the look-at point and recomputes the position from
	// the spherical coordinates.
	SetTarget(x, y, z float32)

	// Orbit rotates around the target by the given angle deltas in
	// radians. Elevation is clamped away from the poles.
	Orbit(dAzimuth, dElevation float32)

	// Zoom changes the orbit radius by delta, clamped to the configured
	// range.
	Zoom(delta float32)

	// Pan translates position and target along the camera's local right
	// and up axes.
	Pan(dx, dy float32)

	// Radius returns the current orbit radius.
	Radius() float32
}

type controllerImpl struct {
	mu *sync.Mutex

	position [3]float32
	target   [3]float32

	radius    float32
	azimuth   float32
	elevation float32

	minRadius float32
	maxRadius float32
}

var _ Controller = &controllerImpl{}

// NewController creates a Controller orbiting the origin.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - Controller: the newly created controller
func NewController(options ...ControllerOption) Controller {
	cc := &controllerImpl{
		mu:        &sync.Mutex{},
		radius:    5,
		minRadius: 0.5,
		maxRadius: 500,
	}
	for _, option := range options {
		option(cc)
	}
	cc.updatePosition()
	return cc
}

// updatePosition recomputes position from target plus spherical offset.
// Caller must hold the mutex.
func (cc *controllerImpl) updatePosition() {
	cosE := float32(math.Cos(float64(cc.elevation)))
	cc.position[0] = cc.target[0] + cc.radius*cosE*float32(math.Sin(float64(cc.azimuth)))
	cc.position[1] = cc.target[1] + cc.radius*float32(math.Sin(float64(cc.elevation)))
	cc.position[2] = cc.target[2] + cc.radius*cosE*float32(math.Cos(float64(cc.azimuth)))
}

func (cc *controllerImpl) Position() (x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.position[0], cc.position[1], cc.position[2]
}

func (cc *controllerImpl) Target() (x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.target[0], cc.target[1], cc.target[2]
}

func (cc *controllerImpl) SetTarget(x, y, z float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.target = [3]float32{x, y, z}
	cc.updatePosition()
}

func (cc *controllerImpl) Orbit(dAzimuth, dElevation float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.azimuth += dAzimuth
	cc.elevation += dElevation
	limit := float32(math.Pi/2 - 0.01)
	if cc.elevation > limit {
		cc.elevation = limit
	}
	if cc.elevation < -limit {
		cc.elevation = -limit
	}
	cc.updatePosition()
}

func (cc *controllerImpl) Zoom(delta float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.radius += delta
	if cc.radius < cc.minRadius {
		cc.radius = cc.minRadius
	}
	if cc.radius > cc.maxRadius {
		cc.radius = cc.maxRadius
	}
	cc.updatePosition()
}

func (cc *controllerImpl) Pan(dx, dy float32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	// Local right axis lies in the horizontal plane; local up comes from
	// right cross forward.
	sinA := float32(math.Sin(float64(cc.azimuth)))
	cosA := float32(math.Cos(float64(cc.azimuth)))
	rx, _, rz := cosA, float32(0), -sinA

	fx := cc.target[0] - cc.position[0]
	fy := cc.target[1] - cc.position[1]
	fz := cc.target[2] - cc.position[2]
	ux := fy*rz - fz*0
	uy := fz*rx - fx*rz
	uz := fx*0 - fy*rx
	lenU := float32(math.Sqrt(float64(ux*ux + uy*uy + uz*uz)))
	if lenU > 0 {
		ux, uy, uz = ux/lenU, uy/lenU, uz/lenU
	}

	tx := rx*dx + ux*dy
	ty := uy * dy
	tz := rz*dx + uz*dy
	cc.target[0] += tx
	cc.target[1] += ty
	cc.target[2] += tz
	cc.updatePosition()
}

func (cc *controllerImpl) Radius() float32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.radius
}
