// Package scene holds the CPU-side world description: mesh geometry,
// materials, and the instance list the acceleration layer packs each frame.
package scene

import (
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/prism-rt/prism/common"
)

// Material describes the surface of one instance. Alpha below one makes a
// surface transparent unless it is alpha-opaque; zero alpha turns it off
// entirely and the instance is skipped during acceleration rebuilds.
type Material struct {
	Name string

	BaseColor [4]float32
	Emissive  [3]float32
	Metalness float32
	Roughness float32

	AlphaOpaque bool
}

// IsOff reports whether the material disables its instances outright.
func (m *Material) IsOff() bool {
	return m.BaseColor[3] == 0
}

// IsTransparent reports whether the material blends rather than occludes.
func (m *Material) IsTransparent() bool {
	return !m.AlphaOpaque && m.BaseColor[3] < 1
}

// IsEmissive reports whether the material contributes light.
func (m *Material) IsEmissive() bool {
	return m.Emissive[0] > 0 || m.Emissive[1] > 0 || m.Emissive[2] > 0
}

// IsOpaque reports whether the material never needs any-hit alpha
// evaluation.
func (m *Material) IsOpaque() bool {
	return m.AlphaOpaque || m.BaseColor[3] >= 1
}

// Mesh is one triangle mesh. Vertices are tightly packed xyz triples.
// PrimitiveOffset is the mesh's first triangle index in the flattened
// per-primitive attribute buffer; the scene assigns it on AddMesh.
type Mesh struct {
	Name string

	Vertices []float32
	Indices  []uint32

	PrimitiveOffset uint32
}

// VertexNum returns the vertex count.
func (m *Mesh) VertexNum() uint32 { return uint32(len(m.Vertices) / 3) }

// PrimitiveNum returns the triangle count.
func (m *Mesh) PrimitiveNum() uint32 { return uint32(len(m.Indices) / 3) }

// Animator advances an instance's transform. Phase is a triangle-wave value
// in [0, 1] shared by every animated instance for deterministic playback.
type Animator func(phase float64, transform *[16]float32)

// Instance places a mesh with a material in the world. ObjectToWorld and
// ObjectToWorldPrev are column-major, in the shared math convention.
type Instance struct {
	MeshIndex     int
	MaterialIndex int

	ObjectToWorld     [16]float32
	ObjectToWorldPrev [16]float32

	// Animate is nil for static instances.
	Animate Animator
}

// Scene owns meshes, materials, and instances, and advances animation each
// frame. Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// AddMesh registers a mesh and returns its index. Primitive offsets
	// are assigned in registration order.
	AddMesh(m Mesh) int

	// AddMaterial registers a material and returns its index.
	AddMaterial(m Material) int

	// AddInstance registers an instance and returns its index. The
	// previous-frame transform starts equal to the current one.
	AddInstance(inst Instance) int

	// Meshes returns the registered meshes. The slice must not be mutated.
	Meshes() []Mesh

	// Materials returns the registered materials. The slice must not be
	// mutated.
	Materials() []Material

	// Instances returns the live instance list. The slice must not be
	// mutated outside Animate.
	Instances() []Instance

	// SnapshotInstances copies the live instance list into dst, growing
	// it as needed, and returns the filled slice. The copy is taken
	// under the scene lock, so the result stays stable while Animate
	// runs on another goroutine.
	SnapshotInstances(dst []Instance) []Instance

	// PrimitiveNum returns the total triangle count across all meshes.
	PrimitiveNum() uint32

	// Radius returns the bounding sphere radius of the instanced
	// geometry, used to derive the denoising range.
	Radius() float32

	// Animate advances every animated instance by deltaTime seconds
	// scaled by speed. Previous-frame transforms are captured before the
	// update so motion vectors stay consistent. Per-instance updates fan
	// out across the compute pool.
	//
	// Parameters:
	//   - deltaTime: seconds since the last call
	//   - speed: playback rate multiplier, 0 pauses
	Animate(deltaTime float64, speed float64)

	// Progress returns the current animation phase in [0, 1).
	Progress() float64
}

type scene struct {
	mu *sync.RWMutex

	name      string
	meshes    []Mesh
	materials []Material
	instances []Instance

	primitiveNum uint32
	radius       float32
	progress     float64

	// computePool manages a bounded set of reusable goroutines for the
	// parallel animation phase. Workers persist across frames, avoiding
	// per-frame goroutine spawn/teardown overhead.
	computePool    worker.DynamicWorkerPool
	computeWorkers int
}

var _ Scene = &scene{}

// NewScene creates an empty scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:             &sync.RWMutex{},
		name:           name,
		computeWorkers: max(runtime.NumCPU()-1, 1),
	}

	for _, option := range options {
		option(s)
	}

	// Initialize the compute pool after options so WithComputeWorkers can
	// override the default. Queue size of 256 accommodates typical animated
	// instance counts with headroom.
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)

	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) AddMesh(m Mesh) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.PrimitiveOffset = s.primitiveNum
	s.primitiveNum += m.PrimitiveNum()
	s.meshes = append(s.meshes, m)
	return len(s.meshes) - 1
}

func (s *scene) AddMaterial(m Material) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials = append(s.materials, m)
	return len(s.materials) - 1
}

func (s *scene) AddInstance(inst Instance) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.ObjectToWorldPrev = inst.ObjectToWorld
	s.instances = append(s.instances, inst)
	s.growRadius(&inst)
	return len(s.instances) - 1
}

// growRadius expands the bounding sphere with the world-space extent of one
// instance. Caller holds the lock.
func (s *scene) growRadius(inst *Instance) {
	m := &s.meshes[inst.MeshIndex]
	t := &inst.ObjectToWorld
	for i := 0; i+2 < len(m.Vertices); i += 3 {
		x, y, z := m.Vertices[i], m.Vertices[i+1], m.Vertices[i+2]
		wx := t[0]*x + t[4]*y + t[8]*z + t[12]
		wy := t[1]*x + t[5]*y + t[9]*z + t[13]
		wz := t[2]*x + t[6]*y + t[10]*z + t[14]
		d := float32(math.Sqrt(float64(wx*wx + wy*wy + wz*wz)))
		if d > s.radius {
			s.radius = d
		}
	}
}

func (s *scene) Meshes() []Mesh {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meshes
}

func (s *scene) Materials() []Material {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.materials
}

func (s *scene) Instances() []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances
}

func (s *scene) SnapshotInstances(dst []Instance) []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(dst[:0], s.instances...)
}

func (s *scene) PrimitiveNum() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primitiveNum
}

func (s *scene) Radius() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.radius == 0 {
		return 1
	}
	return s.radius
}

func (s *scene) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *scene) Animate(deltaTime float64, speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress += deltaTime * speed
	s.progress -= math.Floor(s.progress)
	phase := float64(common.WaveTriangle(s.progress))

	// Fan the per-instance updates out across the compute pool. A
	// WaitGroup provides the per-frame barrier since pool.Wait() blocks
	// until workers idle-exit, which is unsuitable for frame-rate work.
	var wg sync.WaitGroup
	taskID := 0
	for i := range s.instances {
		inst := &s.instances[i]
		inst.ObjectToWorldPrev = inst.ObjectToWorld
		if inst.Animate == nil {
			continue
		}

		wg.Add(1)
		instCap := inst // capture for closure
		id := taskID
		taskID++
		s.computePool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				instCap.Animate(phase, &instCap.ObjectToWorld)
				return nil, nil
			},
		})
	}
	wg.Wait()
}
