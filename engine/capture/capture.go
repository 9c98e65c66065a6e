// Package capture records and replays deterministic test runs: each entry
// is an opaque settings blob plus a camera-state blob, fixed size per file,
// so a run can be replayed bit-exactly against a reference.
package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

var magic = [4]byte{'p', 'r', 't', 'c'}

// header is the fixed file preamble: magic, blob sizes, entry count.
type header struct {
	Magic        [4]byte
	SettingsSize uint32
	CameraSize   uint32
	EntryNum     uint32
}

// Recorder accumulates entries in memory until Save.
type Recorder struct {
	settingsSize int
	cameraSize   int
	data         []byte
	entryNum     uint32
}

// NewRecorder creates a recorder for the given blob sizes.
//
// Parameters:
//   - settingsSize: byte size of every settings blob
//   - cameraSize: byte size of every camera-state blob
//
// Returns:
//   - *Recorder: the empty recorder
func NewRecorder(settingsSize, cameraSize int) *Recorder {
	return &Recorder{settingsSize: settingsSize, cameraSize: cameraSize}
}

// Append adds one entry. Blob sizes must match the recorder's.
//
// Parameters:
//   - settings: the settings blob
//   - cameraState: the camera-state blob
//
// Returns:
//   - error: an error if either blob has the wrong size
func (r *Recorder) Append(settings, cameraState []byte) error {
	if len(settings) != r.settingsSize {
		return fmt.Errorf("settings blob is %d bytes, want %d", len(settings), r.settingsSize)
	}
	if len(cameraState) != r.cameraSize {
		return fmt.Errorf("camera blob is %d bytes, want %d", len(cameraState), r.cameraSize)
	}
	r.data = append(r.data, settings...)
	r.data = append(r.data, cameraState...)
	r.entryNum++
	return nil
}

// EntryNum returns how many entries have been appended.
func (r *Recorder) EntryNum() uint32 { return r.entryNum }

// Delete removes the entry at index i, shifting later entries down.
//
// Parameters:
//   - i: the entry index to remove
//
// Returns:
//   - error: an error if the index is out of range
func (r *Recorder) Delete(i uint32) error {
	if i >= r.entryNum {
		return fmt.Errorf("entry %d out of range, have %d", i, r.entryNum)
	}
	entry := r.settingsSize + r.cameraSize
	off := int(i) * entry
	r.data = append(r.data[:off], r.data[off+entry:]...)
	r.entryNum--
	return nil
}

// WriteTo serializes the capture.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	h := header{Magic: magic, SettingsSize: uint32(r.settingsSize), CameraSize: uint32(r.cameraSize), EntryNum: r.entryNum}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	n, err := w.Write(r.data)
	return int64(binary.Size(&h) + n), err
}

// Save writes the capture to a file.
//
// Parameters:
//   - path: destination file path
//
// Returns:
//   - error: an error if the file cannot be written
func (r *Recorder) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture %q: %w", path, err)
	}
	defer f.Close()
	if _, err := r.WriteTo(f); err != nil {
		return fmt.Errorf("write capture %q: %w", path, err)
	}
	return nil
}

// Playback iterates the entries of a loaded capture.
type Playback struct {
	settingsSize int
	cameraSize   int
	data         []byte
	entryNum     uint32
	cursor       uint32
}

// Read parses a capture stream. Blob sizes are validated against the
// caller's expectations so replaying against a mismatched build fails
// loudly instead of misinterpreting bytes.
//
// Parameters:
//   - r: the capture stream
//   - settingsSize: expected settings blob size
//   - cameraSize: expected camera blob size
//
// Returns:
//   - *Playback: the loaded capture
//   - error: an error on malformed or mismatched data
func Read(r io.Reader, settingsSize, cameraSize int) (*Playback, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("not a capture file")
	}
	if h.SettingsSize != uint32(settingsSize) || h.CameraSize != uint32(cameraSize) {
		return nil, fmt.Errorf("capture blob sizes %d/%d do not match expected %d/%d",
			h.SettingsSize, h.CameraSize, settingsSize, cameraSize)
	}
	entry := int(h.SettingsSize + h.CameraSize)
	data := make([]byte, entry*int(h.EntryNum))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read capture entries: %w", err)
	}
	return &Playback{
		settingsSize: settingsSize,
		cameraSize:   cameraSize,
		data:         data,
		entryNum:     h.EntryNum,
	}, nil
}

// Load reads a capture from a file.
//
// Parameters:
//   - path: source file path
//   - settingsSize: expected settings blob size
//   - cameraSize: expected camera blob size
//
// Returns:
//   - *Playback: the loaded capture
//   - error: an error if the file cannot be read or parsed
func Load(path string, settingsSize, cameraSize int) (*Playback, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", path, err)
	}
	defer f.Close()
	return Read(f, settingsSize, cameraSize)
}

// EntryNum returns the total entry count.
func (p *Playback) EntryNum() uint32 { return p.entryNum }

// Next returns the next entry's blobs, or ok false when exhausted. The
// returned slices alias the playback buffer and must not be retained.
//
// Returns:
//   - []byte: the settings blob
//   - []byte: the camera-state blob
//   - bool: false when the capture is exhausted
func (p *Playback) Next() ([]byte, []byte, bool) {
	if p.cursor >= p.entryNum {
		return nil, nil, false
	}
	entry := p.settingsSize + p.cameraSize
	off := int(p.cursor) * entry
	p.cursor++
	return p.data[off : off+p.settingsSize], p.data[off+p.settingsSize : off+entry], true
}

// Rewind restarts iteration from the first entry.
func (p *Playback) Rewind() { p.cursor = 0 }
