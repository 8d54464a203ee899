package signing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// JPEG marker bytes handled by the segment scanner.
const (
	markerPrefix = 0xff
	markerSOI    = 0xd8
	markerEOI    = 0xd9
	markerSOS    = 0xda
	markerAPP0   = 0xe0
	markerAPP1   = 0xe1
	markerAPP11  = 0xeb
	markerAPP13  = 0xed
)

var errNotJPEG = errors.New("data does not start with a JPEG SOI marker")

// IsJPEG reports whether data begins with the JPEG start-of-image marker.
func IsJPEG(data []byte) bool {
	return len(data) >= 2 && data[0] == markerPrefix && data[1] == markerSOI
}

// segment is one marker segment between SOI and SOS, including its marker
// and length bytes.
type segment struct {
	marker byte
	raw    []byte
}

// scanSegments splits a JPEG into its leading marker segments and the tail
// starting at SOS (or EOI for images without scan data). Metadata segments
// only occur before SOS, so the tail is never inspected, preserving the
// entropy-coded data byte-for-byte.
func scanSegments(data []byte) ([]segment, []byte, error) {
	if !IsJPEG(data) {
		return nil, nil, errNotJPEG
	}

	var segments []segment
	pos := 2
	for {
		if pos+2 > len(data) {
			return nil, nil, errors.New("truncated JPEG: no SOS or EOI marker found")
		}
		if data[pos] != markerPrefix {
			return nil, nil, fmt.Errorf("malformed JPEG: expected marker at offset %d", pos)
		}

		// Consecutive 0xFF bytes before a marker are legal fill padding.
		for pos+1 < len(data) && data[pos+1] == markerPrefix {
			pos++
		}
		if pos+2 > len(data) {
			return nil, nil, errors.New("truncated JPEG: no SOS or EOI marker found")
		}

		marker := data[pos+1]
		if marker == markerSOS || marker == markerEOI {
			return segments, data[pos:], nil
		}

		// Standalone markers carry no length field.
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			segments = append(segments, segment{marker: marker, raw: data[pos : pos+2]})
			pos += 2
			continue
		}

		if pos+4 > len(data) {
			return nil, nil, errors.New("truncated JPEG segment header")
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil, nil, fmt.Errorf("malformed JPEG segment at offset %d", pos)
		}

		segments = append(segments, segment{marker: marker, raw: data[pos:end]})
		pos = end
	}
}

// assemble re-serializes a JPEG from its segments and tail.
func assemble(segments []segment, tail []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{markerPrefix, markerSOI})
	for _, seg := range segments {
		buf.Write(seg.raw)
	}
	buf.Write(tail)
	return buf.Bytes()
}

// StripMetadata removes metadata segments (EXIF/XMP in APP1, IPTC in APP13,
// and provenance envelopes in APP11) from a JPEG without re-encoding pixel
// data. APP0, the APP2 ICC profile and all structural segments are kept so
// color rendering is unchanged.
func StripMetadata(data []byte) ([]byte, error) {
	segments, tail, err := scanSegments(data)
	if err != nil {
		return nil, err
	}

	kept := segments[:0]
	for _, seg := range segments {
		switch seg.marker {
		case markerAPP1, markerAPP11, markerAPP13:
			continue
		}
		kept = append(kept, seg)
	}

	return assemble(kept, tail), nil
}
