package exifcomment

import (
	"bytes"
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MarkerSize is the length of the character-code prefix of a UserComment.
const MarkerSize = 8

var (
	markerASCII     = []byte("ASCII\x00\x00\x00")
	markerUnicode   = []byte("UNICODE\x00")
	markerUndefined = make([]byte, MarkerSize)
)

// ErrMalformedComment reports a UserComment that cannot be decoded as text.
var ErrMalformedComment = errors.New("malformed user comment")

// EncodeText prefixes UTF-8 text with the ASCII marker.
func EncodeText(text []byte) []byte {
	out := make([]byte, 0, MarkerSize+len(text))
	out = append(out, markerASCII...)
	return append(out, text...)
}

// DecodeText strips the marker and returns the comment as UTF-8.
func DecodeText(raw []byte) ([]byte, error) {
	if len(raw) < MarkerSize {
		return nil, ErrMalformedComment
	}
	marker, payload := raw[:MarkerSize], raw[MarkerSize:]

	var text []byte
	switch {
	case bytes.Equal(marker, markerASCII), bytes.Equal(marker, markerUndefined):
		text = payload
	case bytes.Equal(marker, markerUnicode):
		decoded, err := decodeUTF16(payload)
		if err != nil {
			return nil, err
		}
		text = decoded
	default:
		return nil, ErrMalformedComment
	}

	text = bytes.TrimRight(text, "\x00 ")
	if !utf8.Valid(text) {
		return nil, ErrMalformedComment
	}
	return text, nil
}

func decodeUTF16(payload []byte) ([]byte, error) {
	// Some writers put UTF-8 behind the UNICODE marker.
	if looksUTF8(payload) {
		return payload, nil
	}
	if len(payload)%2 != 0 {
		payload = payload[:len(payload)-1]
	}
	order := unicode.BigEndian
	if len(payload) >= 2 && payload[0] != 0 && payload[1] == 0 {
		order = unicode.LittleEndian
	}
	decoder := unicode.BOMOverride(unicode.UTF16(order, unicode.IgnoreBOM).NewDecoder())
	out, _, err := transform.Bytes(decoder, payload)
	if err != nil {
		return nil, ErrMalformedComment
	}
	return out, nil
}

func looksUTF8(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	if payload[0] == 0xFE || payload[0] == 0xFF {
		return false
	}
	return payload[0] != 0 && payload[1] != 0 && utf8.Valid(payload)
}
