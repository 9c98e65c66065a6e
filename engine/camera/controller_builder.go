package camera

// ControllerOption configures a Controller during construction.
type ControllerOption func(*controllerImpl)

// WithRadius sets the initial orbit radius (distance from target).
//
// Parameters:
//   - radius: distance from the orbit target
//
// Returns:
//   - ControllerOption: the option to pass to NewController
func WithRadius(radius float32) ControllerOption {
	return func(cc *controllerImpl) {
		cc.radius = radius
	}
}

// WithRadiusRange sets the zoom clamp range.
//
// Parameters:
//   - min: minimum orbit radius
//   - max: maximum orbit radius
//
// Returns:
//   - ControllerOption: the option to pass to NewController
func WithRadiusRange(min, max float32) ControllerOption {
	return func(cc *controllerImpl) {
		cc.minRadius = min
		cc.maxRadius = max
	}
}

// WithAzimuth sets the initial horizontal angle around the Y axis.
//
// Parameters:
//   - azimuth: horizontal angle in radians (0 = +Z axis)
//
// Returns:
//   - ControllerOption: the option to pass to NewController
func WithAzimuth(azimuth float32) ControllerOption {
	return func(cc *controllerImpl) {
		cc.azimuth = azimuth
	}
}

// WithElevation sets the initial vertical angle from the horizontal plane.
//
// Parameters:
//   - elevation: vertical angle in radians
//
// Returns:
//   - ControllerOption: the option to pass to NewController
func WithElevation(elevation float32) ControllerOption {
	return func(cc *controllerImpl) {
		cc.elevation = elevation
	}
}

// WithTarget sets the initial look-at point.
//
// Parameters:
//   - x, y, z: world-space target coordinates
//
// Returns:
//   - ControllerOption: the option to pass to NewController
func WithTarget(x, y, z float32) ControllerOption {
	return func(cc *controllerImpl) {
		cc.target = [3]float32{x, y, z}
	}
}
