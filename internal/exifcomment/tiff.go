package exifcomment

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	tagExifIFD         = 0x8769
	tagGPSIFD          = 0x8825
	tagInteropIFD      = 0xA005
	tagUserComment     = 0x9286
	tagThumbnailOffset = 0x0201
	tagThumbnailLength = 0x0202
	tagStripOffsets    = 0x0111

	typeLong      = 4
	typeUndefined = 7

	maxIFDEntries = 1024
)

var typeSizes = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 13: 4,
}

// subIFDTags lists pointer tags whose value is the offset of a child IFD.
var subIFDTags = map[uint16]bool{
	tagExifIFD:    true,
	tagGPSIFD:     true,
	tagInteropIFD: true,
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
	sub   *ifd
}

type ifd struct {
	entries []entry
}

func (d *ifd) find(tag uint16) int {
	for i := range d.entries {
		if d.entries[i].tag == tag {
			return i
		}
	}
	return -1
}

func (d *ifd) set(e entry) {
	if i := d.find(e.tag); i >= 0 {
		d.entries[i] = e
		return
	}
	d.entries = append(d.entries, e)
}

type tiff struct {
	order     binary.ByteOrder
	ifd0      *ifd
	ifd1      *ifd
	thumbnail []byte
}

func newTIFF() *tiff {
	return &tiff{order: binary.BigEndian, ifd0: &ifd{}}
}

type parser struct {
	buf     []byte
	order   binary.ByteOrder
	visited map[uint32]bool
}

func parseTIFF(buf []byte) (*tiff, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: short TIFF header", ErrCorrupt)
	}
	p := &parser{buf: buf, visited: make(map[uint32]bool)}
	switch string(buf[:2]) {
	case "II":
		p.order = binary.LittleEndian
	case "MM":
		p.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrCorrupt)
	}
	if p.order.Uint16(buf[2:]) != 42 {
		return nil, fmt.Errorf("%w: bad TIFF magic", ErrCorrupt)
	}

	t := &tiff{order: p.order}
	ifd0, next, err := p.parseIFD(p.order.Uint32(buf[4:]))
	if err != nil {
		return nil, err
	}
	t.ifd0 = ifd0
	if next != 0 {
		// IFD1 is optional; a broken one is dropped rather than failing the file.
		if ifd1, _, err := p.parseIFD(next); err == nil {
			t.adoptThumbnail(ifd1, buf)
		}
	}
	return t, nil
}

func (p *parser) parseIFD(offset uint32) (*ifd, uint32, error) {
	if p.visited[offset] {
		return nil, 0, fmt.Errorf("%w: IFD loop at offset %d", ErrCorrupt, offset)
	}
	p.visited[offset] = true

	start := int(offset)
	if start < 8 || start+2 > len(p.buf) {
		return nil, 0, fmt.Errorf("%w: IFD offset %d out of range", ErrCorrupt, offset)
	}
	count := int(p.order.Uint16(p.buf[start:]))
	if count > maxIFDEntries || start+2+count*12+4 > len(p.buf) {
		return nil, 0, fmt.Errorf("%w: IFD at %d overruns block", ErrCorrupt, offset)
	}

	d := &ifd{entries: make([]entry, 0, count)}
	for i := 0; i < count; i++ {
		pos := start + 2 + i*12
		e := entry{
			tag:   p.order.Uint16(p.buf[pos:]),
			typ:   p.order.Uint16(p.buf[pos+2:]),
			count: p.order.Uint32(p.buf[pos+4:]),
		}
		raw := append([]byte(nil), p.buf[pos+8:pos+12]...)
		size, ok := typeSizes[e.typ]
		if !ok {
			// Unknown type: the value field is carried over untouched.
			e.data = raw
			d.entries = append(d.entries, e)
			continue
		}

		if subIFDTags[e.tag] {
			child, _, err := p.parseIFD(p.order.Uint32(raw))
			if err != nil {
				// A broken child keeps its pointer and nothing else.
				e.data = raw
			} else {
				e.sub = child
			}
			d.entries = append(d.entries, e)
			continue
		}

		total := size * int(e.count)
		if total <= 4 {
			e.data = raw[:total]
			d.entries = append(d.entries, e)
			continue
		}
		valueOffset := int(p.order.Uint32(raw))
		if total > len(p.buf) || valueOffset+total > len(p.buf) {
			// The value cannot be read, so the tag is dropped.
			continue
		}
		e.data = append([]byte(nil), p.buf[valueOffset:valueOffset+total]...)
		d.entries = append(d.entries, e)
	}
	next := p.order.Uint32(p.buf[start+2+count*12:])
	return d, next, nil
}

// adoptThumbnail keeps IFD1 only when its thumbnail is a JPEG stream that
// can be relocated.
func (t *tiff) adoptThumbnail(d *ifd, buf []byte) {
	if d.find(tagStripOffsets) >= 0 {
		return
	}
	oi, li := d.find(tagThumbnailOffset), d.find(tagThumbnailLength)
	if oi < 0 && li < 0 {
		t.ifd1 = d
		return
	}
	if oi < 0 || li < 0 {
		return
	}
	offset := int(t.scalar(d.entries[oi]))
	length := int(t.scalar(d.entries[li]))
	if offset <= 0 || length <= 0 || offset+length > len(buf) {
		return
	}
	d.entries[oi] = entry{tag: tagThumbnailOffset, typ: typeLong, count: 1, data: make([]byte, 4)}
	t.ifd1 = d
	t.thumbnail = append([]byte(nil), buf[offset:offset+length]...)
}

func (t *tiff) scalar(e entry) uint32 {
	switch {
	case e.typ == 3 && len(e.data) >= 2:
		return uint32(t.order.Uint16(e.data))
	case len(e.data) >= 4:
		return t.order.Uint32(e.data)
	default:
		return 0
	}
}

func (t *tiff) exifIFD() *ifd {
	if i := t.ifd0.find(tagExifIFD); i >= 0 {
		return t.ifd0.entries[i].sub
	}
	return nil
}

func (t *tiff) userComment() ([]byte, bool) {
	exif := t.exifIFD()
	if exif == nil {
		return nil, false
	}
	i := exif.find(tagUserComment)
	if i < 0 {
		return nil, false
	}
	return exif.entries[i].data, true
}

func (t *tiff) setUserComment(comment []byte) {
	exif := t.exifIFD()
	if exif == nil {
		exif = &ifd{}
		t.ifd0.set(entry{tag: tagExifIFD, typ: typeLong, count: 1, sub: exif})
	}
	exif.set(entry{
		tag:   tagUserComment,
		typ:   typeUndefined,
		count: uint32(len(comment)),
		data:  append([]byte(nil), comment...),
	})
}

type encoder struct {
	order binary.ByteOrder
	buf   []byte
}

func (e *encoder) align() {
	if len(e.buf)%2 != 0 {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) putUint16(pos int, v uint16) { e.order.PutUint16(e.buf[pos:], v) }

func (e *encoder) putUint32(pos int, v uint32) { e.order.PutUint32(e.buf[pos:], v) }

// writeIFD appends d and everything it points to, returning its offset and
// the offset of its next-IFD field.
func (e *encoder) writeIFD(d *ifd) (int, int) {
	sort.SliceStable(d.entries, func(i, j int) bool { return d.entries[i].tag < d.entries[j].tag })

	e.align()
	start := len(e.buf)
	n := len(d.entries)
	e.buf = append(e.buf, make([]byte, 2+n*12+4)...)
	e.putUint16(start, uint16(n))

	var children []int
	for i, ent := range d.entries {
		pos := start + 2 + i*12
		e.putUint16(pos, ent.tag)
		e.putUint16(pos+2, ent.typ)
		e.putUint32(pos+4, ent.count)
		switch {
		case ent.sub != nil:
			e.putUint16(pos+2, typeLong)
			e.putUint32(pos+4, 1)
			children = append(children, i)
		case len(ent.data) <= 4:
			copy(e.buf[pos+8:pos+12], ent.data)
		default:
			e.align()
			valueOffset := len(e.buf)
			e.buf = append(e.buf, ent.data...)
			e.putUint32(pos+8, uint32(valueOffset))
		}
	}
	for _, i := range children {
		childOffset, _ := e.writeIFD(d.entries[i].sub)
		e.putUint32(start+2+i*12+8, uint32(childOffset))
	}
	return start, start + 2 + n*12
}

func (t *tiff) encode() ([]byte, error) {
	e := &encoder{order: t.order, buf: make([]byte, 8, 1024)}
	if t.order == binary.LittleEndian {
		copy(e.buf, "II")
	} else {
		copy(e.buf, "MM")
	}
	e.putUint16(2, 42)
	e.putUint32(4, 8)

	_, nextField := e.writeIFD(t.ifd0)
	if t.ifd1 != nil && len(t.ifd1.entries) > 0 {
		ifd1Offset, _ := e.writeIFD(t.ifd1)
		e.putUint32(nextField, uint32(ifd1Offset))
		if t.thumbnail != nil {
			i := t.ifd1.find(tagThumbnailOffset)
			if i < 0 {
				return nil, fmt.Errorf("%w: thumbnail without offset tag", ErrCorrupt)
			}
			thumbOffset := len(e.buf)
			e.buf = append(e.buf, t.thumbnail...)
			e.putUint32(ifd1Offset+2+i*12+8, uint32(thumbOffset))
		}
	}
	return e.buf, nil
}
