package exifcomment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1

	maxSegmentPayload = 0xFFFF - 2
)

var exifHeader = []byte("Exif\x00\x00")

var (
	// ErrNotJPEG reports data that does not start with a JPEG SOI marker.
	ErrNotJPEG = errors.New("not a JPEG file")
	// ErrNoComment reports a JPEG without an EXIF UserComment.
	ErrNoComment = errors.New("no user comment")
	// ErrCorrupt reports a JPEG or EXIF structure that cannot be parsed.
	ErrCorrupt = errors.New("corrupt EXIF structure")
	// ErrTooLarge reports an EXIF block that no longer fits one APP1 segment.
	ErrTooLarge = errors.New("EXIF block exceeds APP1 segment size")
)

type segment struct {
	marker byte
	start  int // offset of the 0xFF byte
	end    int // offset just past the segment
	data   []byte
}

// segments walks the marker segments up to (not including) SOS. The returned
// offset is where the untouched remainder of the file starts.
func segments(data []byte) ([]segment, int, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, 0, ErrNotJPEG
	}
	var out []segment
	pos := 2
	for pos < len(data) {
		if data[pos] != 0xFF {
			return nil, 0, fmt.Errorf("%w: expected marker at offset %d", ErrCorrupt, pos)
		}
		start := pos
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("%w: truncated marker", ErrCorrupt)
		}
		marker := data[pos]
		pos++
		if marker == markerSOS || marker == markerEOI {
			return out, start, nil
		}
		if marker >= 0xD0 && marker <= 0xD7 || marker == 0x01 {
			continue
		}
		if pos+2 > len(data) {
			return nil, 0, fmt.Errorf("%w: truncated segment length", ErrCorrupt)
		}
		length := int(binary.BigEndian.Uint16(data[pos:]))
		if length < 2 || pos+length > len(data) {
			return nil, 0, fmt.Errorf("%w: segment 0x%02X overruns file", ErrCorrupt, marker)
		}
		out = append(out, segment{
			marker: marker,
			start:  start,
			end:    pos + length,
			data:   data[pos+2 : pos+length],
		})
		pos += length
	}
	return out, len(data), nil
}

func isExifSegment(s segment) bool {
	return s.marker == markerAPP1 && bytes.HasPrefix(s.data, exifHeader)
}

// ReadUserComment returns the raw UserComment value, marker included.
func ReadUserComment(data []byte) ([]byte, error) {
	segs, _, err := segments(data)
	if err != nil {
		return nil, err
	}
	for _, s := range segs {
		if !isExifSegment(s) {
			continue
		}
		t, err := parseTIFF(s.data[len(exifHeader):])
		if err != nil {
			return nil, err
		}
		comment, ok := t.userComment()
		if !ok {
			return nil, ErrNoComment
		}
		return comment, nil
	}
	return nil, ErrNoComment
}

// WriteUserComment returns a copy of data whose UserComment is replaced by
// comment. A missing EXIF block is created; an unparseable one is replaced.
func WriteUserComment(data []byte, comment []byte) ([]byte, error) {
	segs, rest, err := segments(data)
	if err != nil {
		return nil, err
	}

	var (
		t        *tiff
		exifSeg  = -1
		insertAt = 2
	)
	for i, s := range segs {
		if isExifSegment(s) {
			exifSeg = i
			parsed, err := parseTIFF(s.data[len(exifHeader):])
			if err == nil {
				t = parsed
			}
			break
		}
	}
	if t == nil {
		t = newTIFF()
	}
	if exifSeg < 0 && len(segs) > 0 && segs[0].marker == markerAPP0 {
		insertAt = segs[0].end
	}

	t.setUserComment(comment)
	body, err := t.encode()
	if err != nil {
		return nil, err
	}
	payloadLen := len(exifHeader) + len(body)
	if payloadLen > maxSegmentPayload {
		return nil, ErrTooLarge
	}

	app1 := make([]byte, 0, 4+payloadLen)
	app1 = append(app1, 0xFF, markerAPP1)
	app1 = binary.BigEndian.AppendUint16(app1, uint16(payloadLen+2))
	app1 = append(app1, exifHeader...)
	app1 = append(app1, body...)

	out := make([]byte, 0, len(data)+len(app1))
	if exifSeg >= 0 {
		s := segs[exifSeg]
		out = append(out, data[:s.start]...)
		out = append(out, app1...)
		out = append(out, data[s.end:rest]...)
	} else {
		out = append(out, data[:insertAt]...)
		out = append(out, app1...)
		out = append(out, data[insertAt:rest]...)
	}
	return append(out, data[rest:]...), nil
}
