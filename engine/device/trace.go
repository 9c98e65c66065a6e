package device

import (
	"fmt"
	"sync"
)

// OpKind identifies one recorded device operation.
type OpKind int

const (
	OpBegin OpKind = iota
	OpEnd
	OpMarker
	OpBarrier
	OpSetPipeline
	OpSetBindings
	OpDispatch
	OpDispatchRays
	OpCopyBuffer
	OpCopyTexture
	OpBuildTLAS
	OpBuildBLAS
	OpSubmit
	OpFenceWait
	OpPresent
)

// Op is one entry in a TraceDevice's execution log. Fields are populated
// per kind; unused fields are zero.
type Op struct {
	Kind OpKind

	// CB is the label of the command buffer the op was recorded into, or
	// empty for queue-level ops.
	CB string

	// Name carries the marker text, pipeline label, copy target label or
	// fence label depending on Kind.
	Name string

	X, Y, Z     uint32
	RaygenGroup int
	InstanceNum uint32
	Offset      uint64

	Textures []TextureBarrier
	Buffers  []BufferBarrier
	Bindings []string
}

// TraceDevice is a Device implementation that executes nothing and records
// everything. Submissions complete synchronously: a fence used in Submit is
// signaled before Submit returns, and its Wait calls are logged so tests can
// assert ordering against the submission timeline.
type TraceDevice struct {
	mu *sync.Mutex

	log         []Op
	allocations int
	fenceSeq    int

	groupIDSize uint32
}

var _ Device = &TraceDevice{}

// NewTraceDevice creates an empty recording device.
func NewTraceDevice() *TraceDevice {
	return &TraceDevice{
		mu:          &sync.Mutex{},
		groupIDSize: 32,
	}
}

// Log returns a copy of the execution log in submission order.
func (d *TraceDevice) Log() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Op, len(d.log))
	copy(out, d.log)
	return out
}

// ResetLog clears the execution log. Allocation counters are kept.
func (d *TraceDevice) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = d.log[:0]
}

// Allocations returns how many pooled memory allocations have been made.
func (d *TraceDevice) Allocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocations
}

func (d *TraceDevice) append(op Op) {
	d.mu.Lock()
	d.log = append(d.log, op)
	d.mu.Unlock()
}

type traceTexture struct {
	label string
	desc  TextureDesc
	bound bool
}

func (t *traceTexture) Label() string { return t.label }

type traceBuffer struct {
	label string
	desc  BufferDesc
	data  []byte
	bound bool
}

func (b *traceBuffer) Label() string { return b.label }
func (b *traceBuffer) Size() uint64  { return b.desc.Size }

type tracePipeline struct {
	label string
	desc  PipelineDesc
}

func (p *tracePipeline) Label() string { return p.label }

type traceAccel struct {
	label string
	desc  AccelDesc
}

func (a *traceAccel) Label() string { return a.label }

type traceBindingSet struct {
	label string
}

func (s *traceBindingSet) Label() string { return s.label }

type traceFence struct {
	dev      *TraceDevice
	label    string
	signaled bool
}

func (f *traceFence) Wait() {
	f.dev.append(Op{Kind: OpFenceWait, Name: f.label})
	f.signaled = true
}

func (f *traceFence) Signaled() bool { return f.signaled }

func (d *TraceDevice) CreateTexture(desc TextureDesc) (Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("texture %q has zero extent", desc.Label)
	}
	return &traceTexture{label: desc.Label, desc: desc}, nil
}

func (d *TraceDevice) CreateBuffer(desc BufferDesc) (Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size", desc.Label)
	}
	b := &traceBuffer{label: desc.Label, desc: desc}
	if desc.Pool == PoolHostUpload {
		b.data = make([]byte, desc.Size)
	}
	return b, nil
}

func (d *TraceDevice) CreatePipeline(desc PipelineDesc) (Pipeline, error) {
	return &tracePipeline{label: desc.Label, desc: desc}, nil
}

func (d *TraceDevice) CreateAccelerationStructure(desc AccelDesc) (AccelerationStructure, error) {
	return &traceAccel{label: desc.Label, desc: desc}, nil
}

func (d *TraceDevice) CreateBindingSet(label string) (BindingSet, error) {
	return &traceBindingSet{label: label}, nil
}

func (d *TraceDevice) NewCommandBuffer(label string) (CommandBuffer, error) {
	return &traceCommandBuffer{dev: d, label: label}, nil
}

func (d *TraceDevice) NewFence() (Fence, error) {
	d.mu.Lock()
	seq := d.fenceSeq
	d.fenceSeq++
	d.mu.Unlock()
	return &traceFence{dev: d, label: fmt.Sprintf("fence%d", seq), signaled: true}, nil
}

// NewLabeledFence is a trace-only helper that creates a fence whose Wait
// events carry the given label in the log.
func (d *TraceDevice) NewLabeledFence(label string) Fence {
	return &traceFence{dev: d, label: label, signaled: true}
}

func (d *TraceDevice) AllocateAndBind(pool MemoryPool, buffers []Buffer, textures []Texture) (int, error) {
	n := 0
	for _, b := range buffers {
		tb, ok := b.(*traceBuffer)
		if !ok {
			return 0, fmt.Errorf("foreign buffer handle")
		}
		if tb.desc.Pool != pool {
			return 0, fmt.Errorf("buffer %q allocated from wrong pool", tb.label)
		}
		tb.bound = true
		n++
	}
	for _, t := range textures {
		tt, ok := t.(*traceTexture)
		if !ok {
			return 0, fmt.Errorf("foreign texture handle")
		}
		tt.bound = true
		n++
	}
	// One block per pool pass keeps the counter meaningful to tests.
	if n > 0 {
		d.mu.Lock()
		d.allocations++
		d.mu.Unlock()
		n = 1
	}
	return n, nil
}

func (d *TraceDevice) MapBuffer(b Buffer, offset, size uint64) ([]byte, error) {
	tb, ok := b.(*traceBuffer)
	if !ok {
		return nil, fmt.Errorf("foreign buffer handle")
	}
	if tb.desc.Pool != PoolHostUpload {
		return nil, fmt.Errorf("buffer %q is not host mappable", tb.label)
	}
	if offset+size > tb.desc.Size {
		return nil, fmt.Errorf("map of %q out of range: offset %d size %d cap %d", tb.label, offset, size, tb.desc.Size)
	}
	return tb.data[offset : offset+size], nil
}

func (d *TraceDevice) UnmapBuffer(b Buffer) {}

// BufferBytes returns the backing store of a host-upload buffer for test
// inspection of staged data.
func (d *TraceDevice) BufferBytes(b Buffer) []byte {
	tb, ok := b.(*traceBuffer)
	if !ok {
		return nil
	}
	return tb.data
}

func (d *TraceDevice) AccelerationStructureHandle(as AccelerationStructure) uint64 {
	a, ok := as.(*traceAccel)
	if !ok {
		return 0
	}
	h := uint64(14695981039346656037)
	for _, c := range []byte(a.label) {
		h = (h ^ uint64(c)) * 1099511628211
	}
	return h
}

func (d *TraceDevice) ShaderGroupIdentifier(p Pipeline, group int) []byte {
	id := make([]byte, d.groupIDSize)
	id[0] = byte(group + 1)
	return id
}

func (d *TraceDevice) ShaderGroupIdentifierSize() uint32 { return d.groupIDSize }

func (d *TraceDevice) ScratchSize(as AccelerationStructure) uint64 {
	a, ok := as.(*traceAccel)
	if !ok || a.desc.Kind == AccelBottomLevel {
		return 1 << 16
	}
	return uint64(a.desc.InstanceCapacity) * 64
}

func (d *TraceDevice) Queue() Queue { return &traceQueue{dev: d} }

func (d *TraceDevice) DestroyTexture(t Texture)                              {}
func (d *TraceDevice) DestroyBuffer(b Buffer)                                {}
func (d *TraceDevice) DestroyAccelerationStructure(as AccelerationStructure) {}

type traceCommandBuffer struct {
	dev   *TraceDevice
	label string
	open  bool
	ended bool
	ops   []Op
}

var _ CommandBuffer = &traceCommandBuffer{}

func (c *traceCommandBuffer) record(op Op) {
	op.CB = c.label
	c.ops = append(c.ops, op)
}

func (c *traceCommandBuffer) Begin() error {
	if c.open {
		return fmt.Errorf("command buffer %q already recording", c.label)
	}
	c.open = true
	c.ended = false
	c.ops = c.ops[:0]
	c.record(Op{Kind: OpBegin})
	return nil
}

func (c *traceCommandBuffer) End() error {
	if !c.open {
		return fmt.Errorf("command buffer %q not recording", c.label)
	}
	c.record(Op{Kind: OpEnd})
	c.open = false
	c.ended = true
	return nil
}

func (c *traceCommandBuffer) DebugMarker(name string) {
	c.record(Op{Kind: OpMarker, Name: name})
}

func (c *traceCommandBuffer) PipelineBarrier(textures []TextureBarrier, buffers []BufferBarrier) {
	if len(textures) == 0 && len(buffers) == 0 {
		return
	}
	t := make([]TextureBarrier, len(textures))
	copy(t, textures)
	b := make([]BufferBarrier, len(buffers))
	copy(b, buffers)
	c.record(Op{Kind: OpBarrier, Textures: t, Buffers: b})
}

func (c *traceCommandBuffer) SetPipeline(p Pipeline) {
	c.record(Op{Kind: OpSetPipeline, Name: p.Label()})
}

func (c *traceCommandBuffer) SetBindings(sets ...BindingSet) {
	labels := make([]string, len(sets))
	for i, s := range sets {
		labels[i] = s.Label()
	}
	c.record(Op{Kind: OpSetBindings, Bindings: labels})
}

func (c *traceCommandBuffer) Dispatch(x, y, z uint32) {
	c.record(Op{Kind: OpDispatch, X: x, Y: y, Z: z})
}

func (c *traceCommandBuffer) DispatchRays(desc RaysDesc) {
	c.record(Op{Kind: OpDispatchRays, RaygenGroup: desc.RaygenGroup, X: desc.Width, Y: desc.Height})
}

func (c *traceCommandBuffer) CopyBuffer(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64) {
	// Data actually moves when both ends are host backed, so staged ring
	// contents survive into "device" buffers tests can read back.
	if td, ok := dst.(*traceBuffer); ok && td.data != nil {
		if ts, ok := src.(*traceBuffer); ok && ts.data != nil {
			copy(td.data[dstOffset:dstOffset+size], ts.data[srcOffset:srcOffset+size])
		}
	}
	c.record(Op{Kind: OpCopyBuffer, Name: dst.Label(), Offset: dstOffset, X: uint32(size)})
}

func (c *traceCommandBuffer) CopyTexture(dst, src Texture) {
	c.record(Op{Kind: OpCopyTexture, Name: dst.Label() + "<-" + src.Label()})
}

func (c *traceCommandBuffer) BuildTLAS(dst AccelerationStructure, instanceNum uint32, instances Buffer, offset uint64, scratch Buffer) {
	if a, ok := dst.(*traceAccel); ok && instanceNum > a.desc.InstanceCapacity {
		panic(fmt.Sprintf("TLAS %q rebuilt with %d instances, capacity %d", a.label, instanceNum, a.desc.InstanceCapacity))
	}
	c.record(Op{Kind: OpBuildTLAS, Name: dst.Label(), InstanceNum: instanceNum, Offset: offset})
}

func (c *traceCommandBuffer) BuildBLAS(dst AccelerationStructure, geom GeometryDesc, scratch Buffer) {
	c.record(Op{Kind: OpBuildBLAS, Name: dst.Label(), X: geom.VertexNum, Y: geom.IndexNum})
}

type traceQueue struct {
	dev *TraceDevice
}

var _ Queue = &traceQueue{}

func (q *traceQueue) Submit(cbs []CommandBuffer, fence Fence) error {
	for _, cb := range cbs {
		tc, ok := cb.(*traceCommandBuffer)
		if !ok {
			return fmt.Errorf("foreign command buffer")
		}
		if !tc.ended {
			return fmt.Errorf("command buffer %q submitted while recording", tc.label)
		}
		q.dev.append(Op{Kind: OpSubmit, Name: tc.label})
		q.dev.mu.Lock()
		q.dev.log = append(q.dev.log, tc.ops...)
		q.dev.mu.Unlock()
	}
	if fence != nil {
		if tf, ok := fence.(*traceFence); ok {
			tf.signaled = true
		}
	}
	return nil
}

func (q *traceQueue) WaitIdle() {}

// TraceSwapchain is the recording counterpart of Swapchain: a fixed ring of
// backbuffer textures with presents logged.
type TraceSwapchain struct {
	dev   *TraceDevice
	backs []Texture
	index int
}

var _ Swapchain = &TraceSwapchain{}

// NewTraceSwapchain creates a swapchain with n backbuffers of the given size.
func (d *TraceDevice) NewTraceSwapchain(n int, width, height uint32) (*TraceSwapchain, error) {
	sc := &TraceSwapchain{dev: d}
	for i := 0; i < n; i++ {
		t, err := d.CreateTexture(TextureDesc{
			Label:  fmt.Sprintf("Backbuffer%d", i),
			Format: FormatRGBA8Unorm,
			Width:  width,
			Height: height,
			Mips:   1,
			Usage:  TextureUsageShaderResource,
		})
		if err != nil {
			return nil, err
		}
		sc.backs = append(sc.backs, t)
	}
	return sc, nil
}

func (s *TraceSwapchain) Acquire() Texture {
	t := s.backs[s.index]
	s.index = (s.index + 1) % len(s.backs)
	return t
}

func (s *TraceSwapchain) Present() {
	s.dev.append(Op{Kind: OpPresent})
}
