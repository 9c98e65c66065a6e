package scene

import (
	"testing"

	"github.com/prism-rt/prism/common"
)

func triangle(name string) Mesh {
	return Mesh{
		Name:     name,
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []uint32{0, 1, 2},
	}
}

func TestAddMeshAssignsPrimitiveOffsets(t *testing.T) {
	s := NewScene("offsets", WithComputeWorkers(1))

	first := s.AddMesh(triangle("a"))
	quad := triangle("b")
	quad.Vertices = append(quad.Vertices, 1, 1, 0)
	quad.Indices = append(quad.Indices, 1, 3, 2)
	second := s.AddMesh(quad)

	meshes := s.Meshes()
	if meshes[first].PrimitiveOffset != 0 {
		t.Fatalf("first mesh offset = %d, want 0", meshes[first].PrimitiveOffset)
	}
	if meshes[second].PrimitiveOffset != 1 {
		t.Fatalf("second mesh offset = %d, want 1", meshes[second].PrimitiveOffset)
	}
	if got := s.PrimitiveNum(); got != 3 {
		t.Fatalf("primitive total = %d, want 3", got)
	}
}

func TestRadiusFollowsInstancedGeometry(t *testing.T) {
	s := NewScene("radius", WithComputeWorkers(1))
	if got := s.Radius(); got != 1 {
		t.Fatalf("empty scene radius = %v, want the fallback of 1", got)
	}

	mesh := s.AddMesh(triangle("tri"))
	var xf [16]float32
	common.BuildModelMatrix(xf[:], 3, 0, 0, 0, 0, 0, 1, 1, 1)
	s.AddInstance(Instance{MeshIndex: mesh, ObjectToWorld: xf})

	// Farthest vertex is (1, 0, 0) translated to (4, 0, 0).
	if got := s.Radius(); got < 3.999 || got > 4.001 {
		t.Fatalf("radius = %v, want 4", got)
	}
}

func TestAnimateCapturesPreviousTransform(t *testing.T) {
	s := NewScene("animate", WithComputeWorkers(1))
	mesh := s.AddMesh(triangle("tri"))

	var xf [16]float32
	common.Identity(xf[:])
	s.AddInstance(Instance{
		MeshIndex:     mesh,
		ObjectToWorld: xf,
		Animate: func(phase float64, transform *[16]float32) {
			transform[12] = float32(phase)
		},
	})

	s.Animate(0.25, 1)
	if got := s.Progress(); got != 0.25 {
		t.Fatalf("progress = %v, want 0.25", got)
	}

	inst := s.Instances()[0]
	if inst.ObjectToWorldPrev[12] != 0 {
		t.Fatalf("previous transform mutated: %v", inst.ObjectToWorldPrev[12])
	}
	// Triangle wave of 0.25 is 0.5.
	if inst.ObjectToWorld[12] != 0.5 {
		t.Fatalf("animated translation = %v, want 0.5", inst.ObjectToWorld[12])
	}

	// A second step captures the animated transform as the new previous.
	s.Animate(0.25, 1)
	inst = s.Instances()[0]
	if inst.ObjectToWorldPrev[12] != 0.5 {
		t.Fatalf("previous transform = %v, want last frame's 0.5", inst.ObjectToWorldPrev[12])
	}
}

// A snapshot must stay stable even when Animate rewrites the live transforms
// afterwards, so a rebuild on another goroutine never reads torn matrices.
func TestSnapshotInstancesStableAcrossAnimate(t *testing.T) {
	s := NewScene("snapshot", WithComputeWorkers(1))
	mesh := s.AddMesh(triangle("tri"))

	var xf [16]float32
	common.Identity(xf[:])
	s.AddInstance(Instance{
		MeshIndex:     mesh,
		ObjectToWorld: xf,
		Animate: func(phase float64, transform *[16]float32) {
			transform[12] = float32(phase)
		},
	})

	snap := s.SnapshotInstances(nil)
	s.Animate(0.25, 1)

	if snap[0].ObjectToWorld[12] != 0 {
		t.Fatalf("snapshot transform mutated to %v", snap[0].ObjectToWorld[12])
	}
	if live := s.Instances()[0].ObjectToWorld[12]; live != 0.5 {
		t.Fatalf("live translation = %v, want 0.5", live)
	}

	// A reused backing slice is overwritten in place, not appended to.
	snap = s.SnapshotInstances(snap)
	if len(snap) != 1 || snap[0].ObjectToWorld[12] != 0.5 {
		t.Fatalf("refreshed snapshot = %v entries, translation %v", len(snap), snap[0].ObjectToWorld[12])
	}
}

func TestAnimateSpeedZeroPauses(t *testing.T) {
	s := NewScene("paused", WithComputeWorkers(1))
	s.Animate(1.5, 0)
	if got := s.Progress(); got != 0 {
		t.Fatalf("progress = %v, want 0 when paused", got)
	}
}
