package scene

// SceneBuilderOption configures a scene during construction.
type SceneBuilderOption func(*scene)

// WithComputeWorkers overrides the number of goroutines used for the
// parallel animation phase. Values below one are ignored.
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - SceneBuilderOption: the option to pass to NewScene
func WithComputeWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n >= 1 {
			s.computeWorkers = n
		}
	}
}

// WithMaterials pre-registers materials in order.
//
// Parameters:
//   - materials: the materials to register
//
// Returns:
//   - SceneBuilderOption: the option to pass to NewScene
func WithMaterials(materials ...Material) SceneBuilderOption {
	return func(s *scene) {
		s.materials = append(s.materials, materials...)
	}
}
