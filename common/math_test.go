package common

import (
	"math"
	"testing"
)

func matricesClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("element %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestInvert4RoundTrip(t *testing.T) {
	var m, inv, prod, id [16]float32
	BuildModelMatrix(m[:], 1, -2, 3, 0.4, 1.1, -0.7, 2, 0.5, 1.5)

	if !Invert4(inv[:], m[:]) {
		t.Fatal("invertible matrix reported singular")
	}
	Mul4(prod[:], m[:], inv[:])
	Identity(id[:])
	matricesClose(t, prod[:], id[:], 1e-4)
}

func TestInvert4dRoundTrip(t *testing.T) {
	var m32 [16]float32
	BuildModelMatrix(m32[:], 100.5, -250.25, 3000, 0.4, 1.1, -0.7, 2, 0.5, 1.5)

	var m, inv, prod [16]float64
	ToFloat64(m[:], m32[:])
	if !Invert4d(inv[:], m[:]) {
		t.Fatal("invertible matrix reported singular")
	}
	Mul4d(prod[:], m[:], inv[:])
	for i := 0; i < 16; i++ {
		want := 0.0
		if i%5 == 0 {
			want = 1
		}
		if math.Abs(prod[i]-want) > 1e-9 {
			t.Fatalf("element %d = %v, want %v", i, prod[i], want)
		}
	}
}

func TestInvert4Singular(t *testing.T) {
	var m, inv [16]float32
	if Invert4(inv[:], m[:]) {
		t.Fatal("zero matrix reported invertible")
	}
}

func TestRows3x4DropsBottomRow(t *testing.T) {
	var m [16]float32
	// Column-major: translation sits in elements 12..14.
	Identity(m[:])
	m[12], m[13], m[14] = 5, 6, 7

	rows := Rows3x4(m[:])
	want := [3][4]float32{
		{1, 0, 0, 5},
		{0, 1, 0, 6},
		{0, 0, 1, 7},
	}
	if rows != want {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestSmoothstepEdges(t *testing.T) {
	if got := Smoothstep(0, 1, -0.5); got != 0 {
		t.Fatalf("below edge0 = %v, want 0", got)
	}
	if got := Smoothstep(0, 1, 1.5); got != 1 {
		t.Fatalf("above edge1 = %v, want 1", got)
	}
	if got := Smoothstep(0, 1, 0.5); got != 0.5 {
		t.Fatalf("midpoint = %v, want 0.5", got)
	}
}

func TestWaveTriangle(t *testing.T) {
	cases := []struct {
		x    float64
		want float32
	}{
		{0, 0},
		{0.25, 0.5},
		{0.5, 1},
		{0.75, 0.5},
		{1, 0},
		{1.5, 1},
		{-0.25, 0.5},
	}
	for _, tc := range cases {
		if got := WaveTriangle(tc.x); math.Abs(float64(got-tc.want)) > 1e-6 {
			t.Fatalf("WaveTriangle(%v) = %v, want %v", tc.x, got, tc.want)
		}
	}
}

func TestStructBytesRoundTrip(t *testing.T) {
	type pod struct {
		A float32
		B uint32
		C [3]float32
	}
	in := pod{A: 1.5, B: 42, C: [3]float32{1, 2, 3}}

	out, ok := StructFromBytes[pod](StructToBytes(&in))
	if !ok {
		t.Fatal("round trip rejected")
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}

	if _, ok := StructFromBytes[pod]([]byte{1, 2}); ok {
		t.Fatal("short slice accepted")
	}
}

func TestExtractFrustumNearPlane(t *testing.T) {
	var proj [16]float32
	Perspective(proj[:], DegToRad(60), 16.0/9, 0.1, 100)

	f := ExtractFrustumFromMatrix(proj[:])
	n := f.Planes[FrustumNear]
	// A point well inside the view volume is in the positive half-space.
	inside := n.Normal[0]*0 + n.Normal[1]*0 + n.Normal[2]*-1 + n.Distance
	if inside <= 0 {
		t.Fatalf("point in front of the camera outside near plane: %v", inside)
	}
}
