// Package device defines the abstract graphics device interface the renderer
// core is written against: object creation, command recording, queue
// submission, memory pooling, and the ray-tracing operations (acceleration
// structure builds, ray dispatch). The renderer never talks to a concrete
// graphics API directly; a backend implements these interfaces.
package device

// Access describes how the last (or next) issued instruction touches a
// resource. Together with Layout it forms the resource state the barrier
// machinery tracks.
type Access uint32

const (
	AccessUnknown Access = iota
	AccessShaderResource
	AccessShaderResourceStorage
	AccessCopySource
	AccessCopyDestination
	AccessColorAttachment
)

// Layout is the image layout half of a resource state.
type Layout uint32

const (
	LayoutUnknown Layout = iota
	LayoutShaderResource
	LayoutGeneral
	LayoutColorAttachment
	LayoutPresent
)

// Format enumerates the texel formats the pipeline uses.
type Format uint32

const (
	FormatUnknown Format = iota
	FormatR32Float
	FormatRG16Float
	FormatR11G11B10Float
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatR10G10B10A2Unorm
	FormatRGBA16Float
	FormatRGBA32Uint
	FormatRGBA32Float
)

// TextureUsage is a bitmask of allowed texture bindings.
type TextureUsage uint32

const (
	TextureUsageShaderResource TextureUsage = 1 << iota
	TextureUsageStorage
)

// BufferUsage is a bitmask of allowed buffer bindings.
type BufferUsage uint32

const (
	BufferUsageNone     BufferUsage = 0
	BufferUsageConstant BufferUsage = 1 << iota
	BufferUsageShaderResource
	BufferUsageStorage
	BufferUsageRayTracing
)

// MemoryPool selects which pooled heap a buffer is allocated from.
// Host-upload memory is CPU-writable staging/ring memory; device-local
// memory is GPU-only.
type MemoryPool uint32

const (
	PoolHostUpload MemoryPool = iota
	PoolDeviceLocal
)

// Texture is an opaque handle to a GPU image. Created and owned through the
// Device; the renderer core passes these around by handle only.
type Texture interface {
	// Label returns the debug name the texture was created with.
	Label() string
}

// Buffer is an opaque handle to a GPU buffer.
type Buffer interface {
	// Label returns the debug name the buffer was created with.
	Label() string
	// Size returns the buffer size in bytes.
	Size() uint64
}

// Pipeline is an opaque handle to a compute or ray-tracing pipeline.
type Pipeline interface {
	Label() string
}

// AccelerationStructure is an opaque handle to a BLAS or TLAS.
type AccelerationStructure interface {
	Label() string
}

// BindingSet is an opaque handle to a bound descriptor table. The renderer
// creates one per pass (and per ping-pong parity where a pass reads history)
// at initialization time.
type BindingSet interface {
	Label() string
}

// Fence is a CPU-waitable completion primitive signaled by queue submission.
type Fence interface {
	// Wait blocks until the fence's last submission has completed.
	Wait()
	// Signaled reports whether the fence has been signaled since it was
	// last used in a submission.
	Signaled() bool
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Label  string
	Format Format
	Width  uint32
	Height uint32
	Mips   uint32
	Usage  TextureUsage
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label    string
	Size     uint64
	Stride   uint32
	Usage    BufferUsage
	Pool     MemoryPool
	ViewFmt  Format // format for typed shader-resource views, FormatUnknown for raw
}

// PipelineKind distinguishes compute from ray-tracing pipelines.
type PipelineKind uint32

const (
	PipelineCompute PipelineKind = iota
	PipelineRayTracing
)

// PipelineDesc describes a pipeline to create. Shader binaries are opaque to
// the core; a backend resolves Label to whatever artifact it loads.
type PipelineDesc struct {
	Label     string
	Kind      PipelineKind
	GroupNum  int // ray-tracing only: raygen/miss/hit shader group count
}

// AccelKind distinguishes bottom-level from top-level structures.
type AccelKind uint32

const (
	AccelBottomLevel AccelKind = iota
	AccelTopLevel
)

// AccelDesc describes an acceleration structure to create. For top-level
// structures InstanceCapacity is the maximum instance count the structure
// can ever be rebuilt with.
type AccelDesc struct {
	Label            string
	Kind             AccelKind
	InstanceCapacity uint32
}

// TextureBarrier is one texture state transition within a pipeline barrier.
type TextureBarrier struct {
	Texture    Texture
	FromAccess Access
	ToAccess   Access
	FromLayout Layout
	ToLayout   Layout
}

// BufferBarrier is one buffer access transition within a pipeline barrier.
type BufferBarrier struct {
	Buffer     Buffer
	FromAccess Access
	ToAccess   Access
}

// GeometryDesc describes one triangle geometry for a BLAS build. Vertex and
// index data live in a single upload buffer at the given offsets, matching
// the one-temporary-buffer-per-mesh build path.
type GeometryDesc struct {
	Buffer       Buffer
	VertexOffset uint64
	VertexNum    uint32
	VertexStride uint32
	IndexOffset  uint64
	IndexNum     uint32
}

// RaysDesc describes a ray dispatch: which raygen shader group to launch
// from the shader table and the launch grid.
type RaysDesc struct {
	Table       Buffer
	RaygenGroup int
	Width       uint32
	Height      uint32
}

// CommandBuffer records GPU commands. Begin/End bracket recording; a command
// buffer must be re-begun (after its fence signaled) before re-recording.
type CommandBuffer interface {
	// Begin prepares the command buffer for recording.
	Begin() error

	// End finishes recording and prepares the command buffer for submission.
	End() error

	// DebugMarker inserts a named annotation visible in GPU captures.
	//
	// Parameters:
	//   - name: the annotation text
	DebugMarker(name string)

	// PipelineBarrier inserts the given texture and buffer transitions.
	// Either slice may be nil.
	//
	// Parameters:
	//   - textures: texture state transitions to insert
	//   - buffers: buffer access transitions to insert
	PipelineBarrier(textures []TextureBarrier, buffers []BufferBarrier)

	// SetPipeline binds the pipeline for subsequent dispatches.
	SetPipeline(p Pipeline)

	// SetBindings binds descriptor tables for subsequent dispatches.
	// The first set conventionally carries the per-frame constant buffer
	// at the frame slot's ring offset.
	SetBindings(sets ...BindingSet)

	// Dispatch launches a compute grid.
	//
	// Parameters:
	//   - x, y, z: workgroup counts in each dimension
	Dispatch(x, y, z uint32)

	// DispatchRays launches a ray-tracing grid.
	DispatchRays(desc RaysDesc)

	// CopyBuffer copies size bytes between buffers.
	CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)

	// CopyTexture copies a whole texture to another of identical dimensions.
	CopyTexture(dst, src Texture)

	// BuildTLAS rebuilds a top-level acceleration structure from
	// instanceNum packed instance records read from instances at offset.
	BuildTLAS(dst AccelerationStructure, instanceNum uint32, instances Buffer, offset uint64, scratch Buffer)

	// BuildBLAS builds a bottom-level acceleration structure from triangle
	// geometry.
	BuildBLAS(dst AccelerationStructure, geom GeometryDesc, scratch Buffer)
}

// Queue submits recorded command buffers for execution.
type Queue interface {
	// Submit enqueues the command buffers in order. If fence is non-nil it
	// is signaled when all of them complete on the GPU.
	//
	// Parameters:
	//   - cbs: command buffers to execute, in order
	//   - fence: completion fence to signal, or nil
	//
	// Returns:
	//   - error: an error if submission fails
	Submit(cbs []CommandBuffer, fence Fence) error

	// WaitIdle blocks until all submitted work has completed. Used for
	// one-time setup (acceleration-structure builds, shader-table upload),
	// never inside the frame loop.
	WaitIdle()
}

// Swapchain hands out presentable surface textures.
type Swapchain interface {
	// Acquire returns the next backbuffer texture to render into.
	Acquire() Texture

	// Present displays the most recently acquired backbuffer.
	Present()
}

// Device creates and destroys GPU objects. Creation failures in the renderer
// core are fatal: callers either propagate the error during initialization or
// panic when there is no safe degraded mode.
type Device interface {
	// CreateTexture creates a 2D texture.
	CreateTexture(desc TextureDesc) (Texture, error)

	// CreateBuffer creates a buffer. Host-upload buffers are mappable.
	CreateBuffer(desc BufferDesc) (Buffer, error)

	// CreatePipeline creates a compute or ray-tracing pipeline.
	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	// CreateAccelerationStructure creates a BLAS or TLAS.
	CreateAccelerationStructure(desc AccelDesc) (AccelerationStructure, error)

	// CreateBindingSet creates an opaque descriptor table with the given
	// debug label.
	CreateBindingSet(label string) (BindingSet, error)

	// NewCommandBuffer creates a command buffer.
	NewCommandBuffer(label string) (CommandBuffer, error)

	// NewFence creates a completion fence, initially signaled so the first
	// use of a frame slot does not block.
	NewFence() (Fence, error)

	// AllocateAndBind performs one pooled allocation pass: it computes the
	// minimal number of memory blocks for the given resources in the given
	// pool, allocates them, and binds every resource. Buffers and textures
	// not in this call must not be used until bound by a later call.
	//
	// Parameters:
	//   - pool: which heap class to allocate from
	//   - buffers: buffers to bind (may be nil)
	//   - textures: textures to bind (may be nil)
	//
	// Returns:
	//   - int: the number of device memory allocations made
	//   - error: an error if allocation or binding fails
	AllocateAndBind(pool MemoryPool, buffers []Buffer, textures []Texture) (int, error)

	// MapBuffer maps size bytes of a host-upload buffer at offset for CPU
	// writes. The returned slice aliases driver memory and is valid until
	// UnmapBuffer.
	MapBuffer(b Buffer, offset, size uint64) ([]byte, error)

	// UnmapBuffer unmaps a previously mapped buffer.
	UnmapBuffer(b Buffer)

	// AccelerationStructureHandle returns the GPU address of an
	// acceleration structure, as referenced by TLAS instance records.
	AccelerationStructureHandle(as AccelerationStructure) uint64

	// ShaderGroupIdentifier returns the opaque shader-group handle for a
	// ray-tracing pipeline's group, to be written into a shader table.
	ShaderGroupIdentifier(p Pipeline, group int) []byte

	// ShaderGroupIdentifierSize returns the byte size of one shader-group
	// identifier (uniform across the device).
	ShaderGroupIdentifierSize() uint32

	// ScratchSize returns the scratch buffer size required to build the
	// given acceleration structure.
	ScratchSize(as AccelerationStructure) uint64

	// Queue returns the device's submission queue.
	Queue() Queue

	// DestroyTexture, DestroyBuffer and friends release objects at
	// shutdown or pipeline rebuild.
	DestroyTexture(t Texture)
	DestroyBuffer(b Buffer)
	DestroyAccelerationStructure(as AccelerationStructure)
}
