package testsupport

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"borescope/internal/exifcomment"
)

// JPEG returns a tiny JPEG stream: SOI, a JFIF APP0, a fake scan and EOI.
// It carries no EXIF block.
func JPEG() []byte {
	var b bytes.Buffer
	b.Write([]byte{0xFF, 0xD8})
	app0 := []byte("JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
	b.Write([]byte{0xFF, 0xE0})
	_ = binary.Write(&b, binary.BigEndian, uint16(len(app0)+2))
	b.Write(app0)
	b.Write([]byte{0xFF, 0xDA, 0x00, 0x02, 0x42, 0x42, 0x42, 0x42})
	b.Write([]byte{0xFF, 0xD9})
	return b.Bytes()
}

// WriteJPEG writes a fixture JPEG to path. A non-nil metadata map is embedded
// as the EXIF UserComment JSON.
func WriteJPEG(t testing.TB, path string, metadata map[string]any) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := JPEG()
	if metadata != nil {
		payload, err := json.Marshal(metadata)
		if err != nil {
			t.Fatalf("marshal metadata for %s: %v", path, err)
		}
		data, err = exifcomment.WriteUserComment(data, exifcomment.EncodeText(payload))
		if err != nil {
			t.Fatalf("embed metadata in %s: %v", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteRawComment writes a fixture JPEG whose UserComment holds raw bytes,
// marker included.
func WriteRawComment(t testing.TB, path string, raw []byte) {
	t.Helper()

	data, err := exifcomment.WriteUserComment(JPEG(), raw)
	if err != nil {
		t.Fatalf("embed comment in %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadMetadata decodes the JSON object embedded in path.
func ReadMetadata(t testing.TB, path string) map[string]any {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	raw, err := exifcomment.ReadUserComment(data)
	if err != nil {
		t.Fatalf("read comment of %s: %v", path, err)
	}
	text, err := exifcomment.DecodeText(raw)
	if err != nil {
		t.Fatalf("decode comment of %s: %v", path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(text, &out); err != nil {
		t.Fatalf("unmarshal metadata of %s: %v", path, err)
	}
	return out
}
