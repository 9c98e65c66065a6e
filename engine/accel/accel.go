// Package accel builds and maintains the ray-tracing acceleration
// structures: one BLAS per mesh built once at load, and two TLASes (world
// and emissive-only light) rebuilt from scratch every frame.
package accel

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/prism-rt/prism/common"
	"github.com/prism-rt/prism/engine/device"
	"github.com/prism-rt/prism/engine/frame"
	"github.com/prism-rt/prism/engine/registry"
	"github.com/prism-rt/prism/engine/scene"
)

// Flags classify an instance for the shaders. Exactly one of the geometry
// flags is set per instance; emission flags are additive.
type Flags uint32

const (
	FlagOpaqueOrAlphaOpaque Flags = 1 << iota
	FlagTransparent
	FlagEmission
	FlagForcedEmission
)

// forcedEmissionThreshold is the uniform-random cutoff above which an
// otherwise non-emissive animated instance is promoted to a forced emitter.
const forcedEmissionThreshold = 0.66

// forcedEmissionSeed fixes the promotion stream, so repeated rebuilds of an
// unchanged scene select the same forced emitters.
const forcedEmissionSeed = 105361

// instanceData is the shader-visible per-instance record: three rows of the
// object-to-world transform followed by three rows of the world-to-previous-
// world motion transform. The fourth lane of each object-to-world row
// carries an integer payload reinterpreted as float bits: base primitive id,
// material index, and the packed material averages.
type instanceData struct {
	ObjectToWorld    [3][4]float32
	WorldToWorldPrev [3][4]float32
}

// tlasInstance is the hardware TLAS instance description. IDAndMask packs
// the 20-bit world instance index, the classification flags above it, and
// the flags again as the 8-bit visibility mask. OffsetAndFlags carries the
// ray-tracing instance flags in its top byte.
type tlasInstance struct {
	Transform      [3][4]float32
	IDAndMask      uint32
	OffsetAndFlags uint32
	Handle         uint64
}

const (
	instanceFlagShift = 20

	tlasCullDisable uint32 = 0x1
	tlasForceOpaque uint32 = 0x4
)

// RebuildStats reports the outcome of one TLAS rebuild.
type RebuildStats struct {
	WorldInstanceNum uint32
	LightInstanceNum uint32
}

// RebuildDesc carries the per-frame inputs to a TLAS rebuild.
type RebuildDesc struct {
	FrameIndex uint64

	// Emission enables the emission classification; with it off, emissive
	// materials trace as plain opaque geometry and the light TLAS stays
	// empty.
	Emission bool

	// EmissiveObjects promotes a random third of the animated instances
	// to forced emitters.
	EmissiveObjects bool
}

// Manager owns the acceleration structures and the per-frame instance
// packing that feeds them.
type Manager interface {
	// BuildStatic builds one BLAS per mesh and uploads the per-primitive
	// attribute buffer. It blocks until the GPU finishes; call it once
	// before the frame loop.
	//
	// Returns:
	//   - error: an error if any build fails
	BuildStatic() error

	// Rebuild snapshots the live instance list, packs it into the frame
	// slot's staging regions, and records both TLAS rebuilds into cb.
	// Instances with an off material are skipped. The light TLAS receives
	// only instances carrying an emission flag, so its instance count
	// never exceeds the world count. Exceeding the configured capacity
	// panics.
	//
	// Parameters:
	//   - cb: the command buffer to record into, already begun
	//   - slot: the frame slot supplying staging ring offsets
	//   - desc: the frame index and emission toggles
	//
	// Returns:
	//   - RebuildStats: instance counts packed this frame
	//   - error: an error if staging memory cannot be mapped
	Rebuild(cb device.CommandBuffer, slot *frame.Slot, desc RebuildDesc) (RebuildStats, error)

	// WorldTlas returns the world acceleration structure.
	WorldTlas() device.AccelerationStructure

	// LightTlas returns the emissive-only acceleration structure.
	LightTlas() device.AccelerationStructure

	// Destroy releases the BLASes and TLASes.
	Destroy()
}

type manager struct {
	dev device.Device
	reg registry.Registry
	sc  scene.Scene

	capacity uint32

	blases []device.AccelerationStructure
	world  device.AccelerationStructure
	light  device.AccelerationStructure

	// Reused per frame to avoid allocation inside the frame loop.
	instScratch      []scene.Instance
	worldScratchRecs []tlasInstance
	lightScratchRecs []tlasInstance
	dataScratch      []instanceData
}

var _ Manager = &manager{}

// NewManager creates the TLASes and prepares per-frame packing scratch.
// BLASes are created lazily by BuildStatic.
//
// Parameters:
//   - dev: the graphics device
//   - reg: the resource registry supplying staging and scratch buffers
//   - sc: the scene whose instances are packed each frame
//   - capacity: the maximum instance count per rebuild
//
// Returns:
//   - Manager: the acceleration structure manager
//   - error: an error if TLAS creation fails
func NewManager(dev device.Device, reg registry.Registry, sc scene.Scene, capacity uint32) (Manager, error) {
	world, err := dev.CreateAccelerationStructure(device.AccelDesc{
		Label:            "World",
		Kind:             device.AccelTopLevel,
		InstanceCapacity: capacity,
	})
	if err != nil {
		return nil, fmt.Errorf("create world TLAS: %w", err)
	}
	light, err := dev.CreateAccelerationStructure(device.AccelDesc{
		Label:            "Light",
		Kind:             device.AccelTopLevel,
		InstanceCapacity: capacity,
	})
	if err != nil {
		return nil, fmt.Errorf("create light TLAS: %w", err)
	}

	return &manager{
		dev:              dev,
		reg:              reg,
		sc:               sc,
		capacity:         capacity,
		world:            world,
		light:            light,
		instScratch:      make([]scene.Instance, 0, capacity),
		worldScratchRecs: make([]tlasInstance, 0, capacity),
		lightScratchRecs: make([]tlasInstance, 0, capacity),
		dataScratch:      make([]instanceData, 0, capacity),
	}, nil
}

func (m *manager) BuildStatic() error {
	meshes := m.sc.Meshes()
	if len(meshes) == 0 {
		return fmt.Errorf("scene has no meshes")
	}

	cb, err := m.dev.NewCommandBuffer("BuildStatic")
	if err != nil {
		return fmt.Errorf("create build command buffer: %w", err)
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	cb.DebugMarker("BLAS builds")

	var temps []device.Buffer
	scratch := m.reg.Buffer(registry.BufWorldScratch)

	for i := range meshes {
		mesh := &meshes[i]
		blas, err := m.dev.CreateAccelerationStructure(device.AccelDesc{
			Label: fmt.Sprintf("Blas.%s", mesh.Name),
			Kind:  device.AccelBottomLevel,
		})
		if err != nil {
			return fmt.Errorf("create BLAS for %q: %w", mesh.Name, err)
		}
		m.blases = append(m.blases, blas)

		vertexBytes := common.SliceToBytes(mesh.Vertices)
		indexBytes := common.SliceToBytes(mesh.Indices)

		temp, err := m.dev.CreateBuffer(device.BufferDesc{
			Label: fmt.Sprintf("BlasUpload.%s", mesh.Name),
			Size:  uint64(len(vertexBytes) + len(indexBytes)),
			Usage: device.BufferUsageRayTracing,
			Pool:  device.PoolHostUpload,
		})
		if err != nil {
			return fmt.Errorf("create upload buffer for %q: %w", mesh.Name, err)
		}
		temps = append(temps, temp)
		if _, err := m.dev.AllocateAndBind(device.PoolHostUpload, []device.Buffer{temp}, nil); err != nil {
			return err
		}

		mapped, err := m.dev.MapBuffer(temp, 0, temp.Size())
		if err != nil {
			return err
		}
		copy(mapped, vertexBytes)
		copy(mapped[len(vertexBytes):], indexBytes)
		m.dev.UnmapBuffer(temp)

		cb.BuildBLAS(blas, device.GeometryDesc{
			Buffer:       temp,
			VertexOffset: 0,
			VertexNum:    mesh.VertexNum(),
			VertexStride: 12,
			IndexOffset:  uint64(len(vertexBytes)),
			IndexNum:     uint32(len(mesh.Indices)),
		}, scratch)
	}

	if err := m.uploadPrimitiveData(cb, meshes, &temps); err != nil {
		return err
	}

	if err := cb.End(); err != nil {
		return err
	}
	if err := m.dev.Queue().Submit([]device.CommandBuffer{cb}, nil); err != nil {
		return fmt.Errorf("submit static builds: %w", err)
	}
	m.dev.Queue().WaitIdle()

	for _, t := range temps {
		m.dev.DestroyBuffer(t)
	}
	log.Printf("[Accel] Built %d BLASes, %d primitives", len(m.blases), m.sc.PrimitiveNum())
	return nil
}

// primitiveRecord is the static per-triangle attribute block: geometric
// normal, area, and centroid.
type primitiveRecord struct {
	Normal   [3]float32
	Area     float32
	Centroid [3]float32
	_        float32
	_        [4]float32
}

func (m *manager) uploadPrimitiveData(cb device.CommandBuffer, meshes []scene.Mesh, temps *[]device.Buffer) error {
	records := make([]primitiveRecord, 0, m.sc.PrimitiveNum())
	for i := range meshes {
		mesh := &meshes[i]
		for t := 0; t+2 < len(mesh.Indices); t += 3 {
			records = append(records, makePrimitiveRecord(mesh, t))
		}
	}
	if len(records) == 0 {
		return nil
	}

	data := common.SliceToBytes(records)
	temp, err := m.dev.CreateBuffer(device.BufferDesc{
		Label: "PrimitiveDataUpload",
		Size:  uint64(len(data)),
		Pool:  device.PoolHostUpload,
	})
	if err != nil {
		return fmt.Errorf("create primitive upload buffer: %w", err)
	}
	*temps = append(*temps, temp)
	if _, err := m.dev.AllocateAndBind(device.PoolHostUpload, []device.Buffer{temp}, nil); err != nil {
		return err
	}
	mapped, err := m.dev.MapBuffer(temp, 0, temp.Size())
	if err != nil {
		return err
	}
	copy(mapped, data)
	m.dev.UnmapBuffer(temp)

	cb.CopyBuffer(m.reg.Buffer(registry.BufPrimitiveData), 0, temp, 0, uint64(len(data)))
	return nil
}

func makePrimitiveRecord(mesh *scene.Mesh, tri int) primitiveRecord {
	var v [3][3]float32
	for c := 0; c < 3; c++ {
		idx := int(mesh.Indices[tri+c]) * 3
		v[c] = [3]float32{mesh.Vertices[idx], mesh.Vertices[idx+1], mesh.Vertices[idx+2]}
	}
	e1 := [3]float32{v[1][0] - v[0][0], v[1][1] - v[0][1], v[1][2] - v[0][2]}
	e2 := [3]float32{v[2][0] - v[0][0], v[2][1] - v[0][1], v[2][2] - v[0][2]}
	n := [3]float32{
		e1[1]*e2[2] - e1[2]*e2[1],
		e1[2]*e2[0] - e1[0]*e2[2],
		e1[0]*e2[1] - e1[1]*e2[0],
	}
	lenN := float32(math.Sqrt(float64(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])))
	var rec primitiveRecord
	rec.Area = lenN * 0.5
	if lenN > 0 {
		rec.Normal = [3]float32{n[0] / lenN, n[1] / lenN, n[2] / lenN}
	}
	rec.Centroid = [3]float32{
		(v[0][0] + v[1][0] + v[2][0]) / 3,
		(v[0][1] + v[1][1] + v[2][1]) / 3,
		(v[0][2] + v[1][2] + v[2][2]) / 3,
	}
	return rec
}

func packUnorm(x float32, bits, shift uint32) uint32 {
	scale := float32(uint32(1)<<bits - 1)
	return uint32(common.Saturate(x)*scale+0.5) << shift
}

// packMaterialAverages quantizes the material's base color to 7 bits per
// channel and the green and blue specular reflectance to 6 and 5 bits, all
// packed into one word for the shaders' distant-surface shading.
func packMaterialAverages(mat *scene.Material) uint32 {
	specG := common.Lerp(0.04, mat.BaseColor[1], mat.Metalness)
	specB := common.Lerp(0.04, mat.BaseColor[2], mat.Metalness)
	return packUnorm(mat.BaseColor[0], 7, 0) |
		packUnorm(mat.BaseColor[1], 7, 7) |
		packUnorm(mat.BaseColor[2], 7, 14) |
		packUnorm(specG, 6, 21) |
		packUnorm(specB, 5, 27)
}

func (m *manager) Rebuild(cb device.CommandBuffer, slot *frame.Slot, desc RebuildDesc) (RebuildStats, error) {
	m.instScratch = m.sc.SnapshotInstances(m.instScratch)
	materials := m.sc.Materials()
	meshes := m.sc.Meshes()

	m.worldScratchRecs = m.worldScratchRecs[:0]
	m.lightScratchRecs = m.lightScratchRecs[:0]
	m.dataScratch = m.dataScratch[:0]

	// The fixed seed keeps the forced-emission subset identical across
	// rebuilds of an unchanged scene.
	rng := rand.New(rand.NewSource(forcedEmissionSeed))

	var inv, prev64, rel [16]float64
	var objTo64 [16]float64
	var rel32 [16]float32

	for i := range m.instScratch {
		inst := &m.instScratch[i]
		mat := &materials[inst.MaterialIndex]
		if mat.IsOff() {
			continue
		}

		flags := FlagOpaqueOrAlphaOpaque
		if mat.IsEmissive() {
			if desc.Emission {
				flags = FlagEmission
			}
		} else if desc.EmissiveObjects && inst.Animate != nil && rng.Float64() > forcedEmissionThreshold {
			if desc.Emission {
				flags = FlagForcedEmission
			}
		} else if mat.IsTransparent() {
			flags = FlagTransparent
		}

		if uint32(len(m.worldScratchRecs)) == m.capacity {
			panic(fmt.Sprintf("TLAS instance capacity %d exceeded", m.capacity))
		}

		// The motion transform needs the inverse of the current object
		// transform; float32 loses too much precision for large scenes,
		// so the whole product is evaluated in float64.
		common.ToFloat64(objTo64[:], inst.ObjectToWorld[:])
		if !common.Invert4d(inv[:], objTo64[:]) {
			continue
		}
		common.ToFloat64(prev64[:], inst.ObjectToWorldPrev[:])
		common.Mul4d(rel[:], prev64[:], inv[:])
		common.ToFloat32(rel32[:], rel[:])

		data := instanceData{
			ObjectToWorld:    common.Rows3x4(inst.ObjectToWorld[:]),
			WorldToWorldPrev: common.Rows3x4(rel32[:]),
		}
		data.ObjectToWorld[0][3] = math.Float32frombits(meshes[inst.MeshIndex].PrimitiveOffset)
		data.ObjectToWorld[1][3] = math.Float32frombits(uint32(inst.MaterialIndex))
		data.ObjectToWorld[2][3] = math.Float32frombits(packMaterialAverages(mat))
		m.dataScratch = append(m.dataScratch, data)

		hwFlags := tlasCullDisable
		if mat.IsOpaque() {
			hwFlags |= tlasForceOpaque
		}
		hw := tlasInstance{
			Transform:      common.Rows3x4(inst.ObjectToWorld[:]),
			IDAndMask:      uint32(len(m.worldScratchRecs)) | uint32(flags)<<instanceFlagShift | uint32(flags)<<24,
			OffsetAndFlags: hwFlags << 24,
			Handle:         m.dev.AccelerationStructureHandle(m.blases[inst.MeshIndex]),
		}
		m.worldScratchRecs = append(m.worldScratchRecs, hw)
		if flags&(FlagEmission|FlagForcedEmission) != 0 {
			m.lightScratchRecs = append(m.lightScratchRecs, hw)
		}
	}

	if err := m.stageAndRecord(cb, slot); err != nil {
		return RebuildStats{}, err
	}
	return RebuildStats{
		WorldInstanceNum: uint32(len(m.worldScratchRecs)),
		LightInstanceNum: uint32(len(m.lightScratchRecs)),
	}, nil
}

func (m *manager) stageAndRecord(cb device.CommandBuffer, slot *frame.Slot) error {
	dataBytes := common.SliceToBytes(m.dataScratch)
	worldBytes := common.SliceToBytes(m.worldScratchRecs)
	lightBytes := common.SliceToBytes(m.lightScratchRecs)

	stage := func(role registry.BufferRole, offset uint64, data []byte) error {
		if len(data) == 0 {
			return nil
		}
		buf := m.reg.Buffer(role)
		mapped, err := m.dev.MapBuffer(buf, offset, uint64(len(data)))
		if err != nil {
			return fmt.Errorf("map %q: %w", buf.Label(), err)
		}
		copy(mapped, data)
		m.dev.UnmapBuffer(buf)
		return nil
	}

	if err := stage(registry.BufInstanceDataStaging, slot.InstanceOffset, dataBytes); err != nil {
		return err
	}
	if err := stage(registry.BufWorldTlasStaging, slot.WorldTlasOffset, worldBytes); err != nil {
		return err
	}
	if err := stage(registry.BufLightTlasStaging, slot.LightTlasOffset, lightBytes); err != nil {
		return err
	}

	cb.DebugMarker("TLAS rebuild")
	if len(dataBytes) > 0 {
		cb.CopyBuffer(m.reg.Buffer(registry.BufInstanceData), 0,
			m.reg.Buffer(registry.BufInstanceDataStaging), slot.InstanceOffset, uint64(len(dataBytes)))
	}
	cb.BuildTLAS(m.world, uint32(len(m.worldScratchRecs)),
		m.reg.Buffer(registry.BufWorldTlasStaging), slot.WorldTlasOffset,
		m.reg.Buffer(registry.BufWorldScratch))
	cb.BuildTLAS(m.light, uint32(len(m.lightScratchRecs)),
		m.reg.Buffer(registry.BufLightTlasStaging), slot.LightTlasOffset,
		m.reg.Buffer(registry.BufLightScratch))
	return nil
}

func (m *manager) WorldTlas() device.AccelerationStructure { return m.world }
func (m *manager) LightTlas() device.AccelerationStructure { return m.light }

func (m *manager) Destroy() {
	for _, b := range m.blases {
		m.dev.DestroyAccelerationStructure(b)
	}
	m.dev.DestroyAccelerationStructure(m.world)
	m.dev.DestroyAccelerationStructure(m.light)
}
