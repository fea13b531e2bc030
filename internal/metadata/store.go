package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"borescope/internal/exifcomment"
	"borescope/internal/fileutil"
	"borescope/internal/logging"
)

var (
	// ErrFileMissing reports that the image no longer exists. It wraps
	// fs.ErrNotExist so errors.Is works with either sentinel.
	ErrFileMissing = fmt.Errorf("image file missing: %w", fs.ErrNotExist)
	// ErrUnsupportedFormat reports a file that is not a JPEG.
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// Object is the decoded metadata of one image.
type Object map[string]any

// Clone returns a deep copy of nested maps and slices.
func (o Object) Clone() Object {
	if o == nil {
		return Object{}
	}
	return Object(cloneMap(o))
}

// Store reads and writes metadata objects.
type Store interface {
	Read(path string) (Object, error)
	Write(path string, obj Object) error
	MergeUpdate(path string, patch Object) error
	Exists(path string) bool
}

// FileStore stores metadata inside JPEG files on disk.
type FileStore struct {
	logger *slog.Logger

	// Serializes read-modify-write cycles within the process.
	mu sync.Mutex
}

// NewFileStore constructs a FileStore.
func NewFileStore(logger *slog.Logger) *FileStore {
	return &FileStore{logger: logging.NewComponentLogger(logger, "metadata")}
}

// Exists reports whether path is an existing regular file.
func (s *FileStore) Exists(path string) bool {
	return fileutil.RegularFileExists(path)
}

// Read returns the decoded object, or an empty one when the file carries no
// readable metadata.
func (s *FileStore) Read(path string) (Object, error) {
	data, err := readImage(path)
	if err != nil {
		return nil, err
	}
	return s.decode(path, data), nil
}

// Write replaces the whole metadata object of path.
func (s *FileStore) Write(path string, obj Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readImage(path)
	if err != nil {
		return err
	}
	return s.write(path, data, obj)
}

// MergeUpdate merges patch into the stored object. Nested objects merge key
// by key; every other value replaces the stored one.
func (s *FileStore) MergeUpdate(path string, patch Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readImage(path)
	if err != nil {
		return err
	}
	obj := s.decode(path, data)
	Merge(obj, patch)
	return s.write(path, data, obj)
}

func (s *FileStore) write(path string, data []byte, obj Object) error {
	payload, err := Encode(obj)
	if err != nil {
		return err
	}
	updated, err := exifcomment.WriteUserComment(data, exifcomment.EncodeText(payload))
	if err != nil {
		if errors.Is(err, exifcomment.ErrNotJPEG) {
			return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
		}
		return fmt.Errorf("embed metadata in %s: %w", path, err)
	}
	if err := fileutil.WriteFileAtomic(path, updated, 0o644); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrFileMissing
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Debug("metadata written",
		logging.String(logging.FieldImagePath, path),
		logging.Int("bytes", len(payload)),
	)
	return nil
}

func (s *FileStore) decode(path string, data []byte) Object {
	obj, err := Decode(data)
	if err != nil {
		if !errors.Is(err, exifcomment.ErrNoComment) {
			s.logger.Debug("ignoring unreadable metadata",
				logging.String(logging.FieldImagePath, path),
				logging.Error(err),
			)
		}
		return Object{}
	}
	return obj
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileMissing
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	return data, nil
}

// Decode extracts the metadata object from JPEG bytes.
func Decode(data []byte) (Object, error) {
	raw, err := exifcomment.ReadUserComment(data)
	if err != nil {
		return nil, err
	}
	text, err := exifcomment.DecodeText(raw)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return Object{}, nil
	}
	var obj Object
	if err := json.Unmarshal(text, &obj); err != nil {
		return nil, fmt.Errorf("decode metadata json: %w", err)
	}
	if obj == nil {
		obj = Object{}
	}
	return obj, nil
}

// Encode renders obj as compact UTF-8 JSON without HTML escaping.
func Encode(obj Object) ([]byte, error) {
	if obj == nil {
		obj = Object{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("encode metadata json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Merge applies patch to dst in place.
func Merge(dst, patch Object) {
	mergeMaps(dst, patch)
}

func mergeMaps(dst, patch map[string]any) {
	for key, value := range patch {
		nested, ok := value.(map[string]any)
		if !ok {
			if obj, isObj := value.(Object); isObj {
				nested, ok = map[string]any(obj), true
			}
		}
		if ok {
			existing, _ := dst[key].(map[string]any)
			if existing == nil {
				existing = make(map[string]any, len(nested))
			}
			mergeMaps(existing, nested)
			dst[key] = existing
			continue
		}
		dst[key] = cloneValue(value)
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case Object:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
