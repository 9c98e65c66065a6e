package capture

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestRecorderRoundTrip(t *testing.T) {
	rec := NewRecorder(8, 4)
	entries := [][2][]byte{
		{{1, 2, 3, 4, 5, 6, 7, 8}, {9, 10, 11, 12}},
		{{8, 7, 6, 5, 4, 3, 2, 1}, {0, 0, 0, 1}},
	}
	for _, e := range entries {
		if err := rec.Append(e[0], e[1]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var buf bytes.Buffer
	if _, err := rec.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	pb, err := Read(&buf, 8, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pb.EntryNum() != 2 {
		t.Fatalf("entry count %d, want 2", pb.EntryNum())
	}
	for i, e := range entries {
		settings, cam, ok := pb.Next()
		if !ok {
			t.Fatalf("entry %d missing", i)
		}
		if !bytes.Equal(settings, e[0]) || !bytes.Equal(cam, e[1]) {
			t.Fatalf("entry %d mismatch: %v %v", i, settings, cam)
		}
	}
	if _, _, ok := pb.Next(); ok {
		t.Fatal("playback yielded more entries than recorded")
	}
}

func TestAppendRejectsWrongSizes(t *testing.T) {
	rec := NewRecorder(8, 4)
	if err := rec.Append(make([]byte, 7), make([]byte, 4)); err == nil {
		t.Fatal("short settings blob accepted")
	}
	if err := rec.Append(make([]byte, 8), make([]byte, 5)); err == nil {
		t.Fatal("long camera blob accepted")
	}
}

func TestReadRejectsMismatchedSizes(t *testing.T) {
	rec := NewRecorder(8, 4)
	if err := rec.Append(make([]byte, 8), make([]byte, 4)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	var buf bytes.Buffer
	if _, err := rec.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if _, err := Read(&buf, 16, 4); err == nil {
		t.Fatal("mismatched settings size accepted")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	rec := NewRecorder(2, 2)
	for i := byte(0); i < 3; i++ {
		if err := rec.Append([]byte{i, i}, []byte{i + 10, i + 10}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := rec.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec.EntryNum() != 2 {
		t.Fatalf("entry count %d, want 2", rec.EntryNum())
	}
	if err := rec.Delete(5); err == nil {
		t.Fatal("out of range delete accepted")
	}

	var buf bytes.Buffer
	if _, err := rec.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	pb, err := Read(&buf, 2, 2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, want := range []byte{0, 2} {
		settings, _, ok := pb.Next()
		if !ok || settings[0] != want {
			t.Fatalf("surviving entry = %v, want leading byte %d", settings, want)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.prtc")
	rec := NewRecorder(4, 4)
	if err := rec.Append([]byte{1, 2, 3, 4}, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := rec.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	pb, err := Load(path, 4, 4)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pb.EntryNum() != 1 {
		t.Fatalf("entry count %d, want 1", pb.EntryNum())
	}
}
