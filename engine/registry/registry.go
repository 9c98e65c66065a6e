// Package registry owns every persistent GPU resource the renderer uses,
// keyed by role. Resources are described up front, then bound in exactly two
// pooled allocation passes: host-upload ring buffers first, device-local
// buffers and textures second.
package registry

import (
	"fmt"
	"log"

	"github.com/prism-rt/prism/engine/device"
)

// TextureRole identifies one of the fixed render-target textures.
type TextureRole int

const (
	TexIntegrateBRDF TextureRole = iota
	TexViewZ
	TexDirectLighting
	TexTransparentLighting
	TexObjectMotion
	TexNormalRoughness
	TexBaseColorMetalness
	TexShadow
	TexDiff
	TexDiffDirectionPdf
	TexSpec
	TexSpecDirectionPdf
	TexUnfilteredShadowData
	TexUnfilteredDiff
	TexUnfilteredSpec
	TexUnfilteredShadowTranslucency
	TexComposedLightingViewZ
	TexTaaHistory
	TexTaaHistoryPrev
	TexFinal

	TextureRoleNum
)

// BufferRole identifies one of the fixed buffers. The first UploadBufferNum
// roles are host-upload ring buffers carrying one region per frame slot; the
// rest are device local.
type BufferRole int

const (
	BufGlobalConstants BufferRole = iota
	BufInstanceDataStaging
	BufWorldTlasStaging
	BufLightTlasStaging
	BufShaderTable
	BufPrimitiveData
	BufInstanceData
	BufWorldScratch
	BufLightScratch

	BufferRoleNum
)

// UploadBufferNum is how many of the buffer roles live in host-upload
// memory. They are the leading roles of the enum.
const UploadBufferNum = 4

// InstanceDataStride is the byte size of one packed instance record: three
// object-to-world rows whose fourth lanes carry integer payload, then three
// rows of the world-to-previous-world motion transform.
const InstanceDataStride = 96

// TlasInstanceStride is the byte size of one hardware TLAS instance
// description in the staging rings.
const TlasInstanceStride = 64

// ConstantAlignment is the ring alignment for per-frame constant regions.
const ConstantAlignment = 256

// Config sizes the registry. Render dimensions are the scaled internal
// resolution; output dimensions are the presentation resolution.
type Config struct {
	RenderWidth  uint32
	RenderHeight uint32
	OutputWidth  uint32
	OutputHeight uint32

	// FrameSlots is the number of buffered frames; every host-upload
	// buffer carries one region per slot.
	FrameSlots uint32

	// InstanceCapacity bounds how many instances a TLAS rebuild may pack.
	InstanceCapacity uint32

	// PrimitiveNum sizes the static per-primitive attribute buffer.
	PrimitiveNum uint32

	// ConstantSize is the unaligned byte size of the per-frame constant
	// block.
	ConstantSize uint32

	// ShaderTableSize is the total shader-table byte size, laid out by the
	// pipeline layer.
	ShaderTableSize uint64
}

// Registry hands out role-keyed resource handles after AllocateAll has run.
type Registry interface {
	// Texture returns the texture bound to a role.
	Texture(role TextureRole) device.Texture

	// Buffer returns the buffer bound to a role.
	Buffer(role BufferRole) device.Buffer

	// ConstantRegionSize returns the aligned per-slot byte size of the
	// global constants ring.
	ConstantRegionSize() uint64

	// AllocateAll creates every resource and binds it to pooled memory in
	// two passes. It must be called exactly once before any Texture or
	// Buffer call.
	//
	// Returns:
	//   - int: the number of device memory allocations made
	//   - error: an error if any creation or binding fails
	AllocateAll() (int, error)

	// RenderTextures returns the roles sized to the internal render
	// resolution, in role order.
	RenderTextures() []TextureRole

	// Destroy releases every resource.
	Destroy()
}

type registry struct {
	dev device.Device
	cfg Config

	texDescs [TextureRoleNum]device.TextureDesc
	bufDescs [BufferRoleNum]device.BufferDesc

	textures [TextureRoleNum]device.Texture
	buffers  [BufferRoleNum]device.Buffer

	constantRegion uint64
	allocated      bool
}

var _ Registry = &registry{}

// NewRegistry describes every resource for the given configuration. Nothing
// is created until AllocateAll.
func NewRegistry(dev device.Device, cfg Config) (Registry, error) {
	if cfg.FrameSlots == 0 {
		return nil, fmt.Errorf("frame slot count must be positive")
	}
	if cfg.InstanceCapacity == 0 {
		return nil, fmt.Errorf("instance capacity must be positive")
	}
	r := &registry{dev: dev, cfg: cfg}
	r.constantRegion = align(uint64(cfg.ConstantSize), ConstantAlignment)
	r.describeTextures()
	r.describeBuffers()
	return r, nil
}

func align(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

func (r *registry) describeTextures() {
	rw, rh := r.cfg.RenderWidth, r.cfg.RenderHeight
	ow, oh := r.cfg.OutputWidth, r.cfg.OutputHeight
	storage := device.TextureUsageShaderResource | device.TextureUsageStorage

	tex := func(role TextureRole, label string, f device.Format, w, h uint32) {
		r.texDescs[role] = device.TextureDesc{
			Label:  label,
			Format: f,
			Width:  w,
			Height: h,
			Mips:   1,
			Usage:  storage,
		}
	}

	tex(TexIntegrateBRDF, "IntegrateBRDF", device.FormatRG16Float, 256, 256)
	tex(TexViewZ, "ViewZ", device.FormatR32Float, rw, rh)
	tex(TexDirectLighting, "DirectLighting", device.FormatR11G11B10Float, rw, rh)
	tex(TexTransparentLighting, "TransparentLighting", device.FormatRGBA16Float, rw, rh)
	tex(TexObjectMotion, "ObjectMotion", device.FormatRGBA16Float, rw, rh)
	tex(TexNormalRoughness, "NormalRoughness", device.FormatR10G10B10A2Unorm, rw, rh)
	tex(TexBaseColorMetalness, "BaseColorMetalness", device.FormatRGBA8Srgb, rw, rh)
	tex(TexShadow, "Shadow", device.FormatRGBA8Unorm, rw, rh)
	tex(TexDiff, "Diff", device.FormatRGBA16Float, rw, rh)
	tex(TexDiffDirectionPdf, "DiffDirectionPdf", device.FormatRGBA16Float, rw, rh)
	tex(TexSpec, "Spec", device.FormatRGBA16Float, rw, rh)
	tex(TexSpecDirectionPdf, "SpecDirectionPdf", device.FormatRGBA16Float, rw, rh)
	tex(TexUnfilteredShadowData, "Unfiltered.ShadowData", device.FormatRG16Float, rw, rh)
	tex(TexUnfilteredDiff, "Unfiltered.Diff", device.FormatRGBA16Float, rw, rh)
	tex(TexUnfilteredSpec, "Unfiltered.Spec", device.FormatRGBA16Float, rw, rh)
	tex(TexUnfilteredShadowTranslucency, "Unfiltered.ShadowTranslucency", device.FormatRGBA8Unorm, rw, rh)
	tex(TexComposedLightingViewZ, "ComposedLighting.ViewZ", device.FormatRGBA16Float, rw, rh)
	tex(TexTaaHistory, "TaaHistory", device.FormatRGBA16Float, ow, oh)
	tex(TexTaaHistoryPrev, "TaaHistoryPrev", device.FormatRGBA16Float, ow, oh)
	tex(TexFinal, "Final", device.FormatRGBA16Float, ow, oh)
}

func (r *registry) describeBuffers() {
	slots := uint64(r.cfg.FrameSlots)
	cap64 := uint64(r.cfg.InstanceCapacity)

	buf := func(role BufferRole, label string, size uint64, stride uint32, usage device.BufferUsage, pool device.MemoryPool) {
		r.bufDescs[role] = device.BufferDesc{
			Label:  label,
			Size:   size,
			Stride: stride,
			Usage:  usage,
			Pool:   pool,
		}
	}

	buf(BufGlobalConstants, "GlobalConstants",
		slots*r.constantRegion, 0,
		device.BufferUsageConstant, device.PoolHostUpload)
	buf(BufInstanceDataStaging, "InstanceDataStaging",
		slots*cap64*InstanceDataStride, 0,
		device.BufferUsageNone, device.PoolHostUpload)
	buf(BufWorldTlasStaging, "WorldTlasDataStaging",
		slots*cap64*TlasInstanceStride, 0,
		device.BufferUsageNone, device.PoolHostUpload)
	buf(BufLightTlasStaging, "LightTlasDataStaging",
		slots*cap64*TlasInstanceStride, 0,
		device.BufferUsageNone, device.PoolHostUpload)

	buf(BufShaderTable, "ShaderTable",
		r.cfg.ShaderTableSize, 0,
		device.BufferUsageRayTracing, device.PoolDeviceLocal)
	buf(BufPrimitiveData, "PrimitiveData",
		uint64(r.cfg.PrimitiveNum)*48, 48,
		device.BufferUsageShaderResource, device.PoolDeviceLocal)
	buf(BufInstanceData, "InstanceData",
		cap64*InstanceDataStride, InstanceDataStride,
		device.BufferUsageShaderResource|device.BufferUsageStorage, device.PoolDeviceLocal)
	buf(BufWorldScratch, "WorldScratch",
		cap64*64, 0,
		device.BufferUsageStorage|device.BufferUsageRayTracing, device.PoolDeviceLocal)
	buf(BufLightScratch, "LightScratch",
		cap64*64, 0,
		device.BufferUsageStorage|device.BufferUsageRayTracing, device.PoolDeviceLocal)
}

func (r *registry) AllocateAll() (int, error) {
	if r.allocated {
		return 0, fmt.Errorf("registry already allocated")
	}

	for role := BufferRole(0); role < BufferRoleNum; role++ {
		b, err := r.dev.CreateBuffer(r.bufDescs[role])
		if err != nil {
			return 0, fmt.Errorf("create buffer %q: %w", r.bufDescs[role].Label, err)
		}
		r.buffers[role] = b
	}
	for role := TextureRole(0); role < TextureRoleNum; role++ {
		t, err := r.dev.CreateTexture(r.texDescs[role])
		if err != nil {
			return 0, fmt.Errorf("create texture %q: %w", r.texDescs[role].Label, err)
		}
		r.textures[role] = t
	}

	upload := make([]device.Buffer, 0, UploadBufferNum)
	local := make([]device.Buffer, 0, BufferRoleNum-UploadBufferNum)
	for role := BufferRole(0); role < BufferRoleNum; role++ {
		if role < UploadBufferNum {
			upload = append(upload, r.buffers[role])
		} else {
			local = append(local, r.buffers[role])
		}
	}

	n1, err := r.dev.AllocateAndBind(device.PoolHostUpload, upload, nil)
	if err != nil {
		return 0, fmt.Errorf("bind host-upload pool: %w", err)
	}
	n2, err := r.dev.AllocateAndBind(device.PoolDeviceLocal, local, r.textures[:])
	if err != nil {
		return 0, fmt.Errorf("bind device pool: %w", err)
	}

	r.allocated = true
	log.Printf("[Registry] Allocated %d textures and %d buffers in %d memory blocks", TextureRoleNum, BufferRoleNum, n1+n2)
	return n1 + n2, nil
}

func (r *registry) Texture(role TextureRole) device.Texture {
	if !r.allocated {
		panic("registry used before AllocateAll")
	}
	return r.textures[role]
}

func (r *registry) Buffer(role BufferRole) device.Buffer {
	if !r.allocated {
		panic("registry used before AllocateAll")
	}
	return r.buffers[role]
}

func (r *registry) ConstantRegionSize() uint64 {
	return r.constantRegion
}

func (r *registry) RenderTextures() []TextureRole {
	out := make([]TextureRole, 0, TextureRoleNum)
	for role := TextureRole(0); role < TextureRoleNum; role++ {
		if role == TexIntegrateBRDF {
			continue
		}
		d := r.texDescs[role]
		if d.Width == r.cfg.RenderWidth && d.Height == r.cfg.RenderHeight {
			out = append(out, role)
		}
	}
	return out
}

func (r *registry) Destroy() {
	if !r.allocated {
		return
	}
	for _, t := range r.textures {
		r.dev.DestroyTexture(t)
	}
	for _, b := range r.buffers {
		r.dev.DestroyBuffer(b)
	}
	r.allocated = false
}
