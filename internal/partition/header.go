package partition

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the number of leading image bytes inspected.
	HeaderSize = 12

	// Magic is the first byte of every bootable image.
	Magic = 0xEA

	segmentsByte = 4
	maxFlashMode = 3
	entryHigh    = 0x4010
)

// Marker values in the partition bits of the fourth header byte.
const (
	MarkerAny   = 0 // image runs from either bank
	MarkerBankA = 1
	MarkerBankB = 2
)

// Header is a read-only view of the first bytes of a firmware image.
type Header struct {
	Magic       byte
	Segments    byte
	FlashMode   byte
	SizeClass   byte   // high nibble of byte 3
	Frequency   byte   // bits 0-1 of byte 3
	Marker      byte   // bits 2-3 of byte 3
	Entry       uint16 // upper half of the entry address
	StartOffset uint32
}

// HeaderError reports why an image header was rejected.
type HeaderError struct {
	Reason string
}

func (e *HeaderError) Error() string { return e.Reason }

// ParseHeader decodes the first HeaderSize bytes of p.
func ParseHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, &HeaderError{Reason: fmt.Sprintf("header truncated (%d bytes)", len(p))}
	}
	return Header{
		Magic:       p[0],
		Segments:    p[1],
		FlashMode:   p[2],
		SizeClass:   p[3] >> 4,
		Frequency:   p[3] & 0x03,
		Marker:      (p[3] >> 2) & 0x03,
		Entry:       binary.LittleEndian.Uint16(p[6:8]),
		StartOffset: binary.LittleEndian.Uint32(p[8:12]),
	}, nil
}

// Bytes encodes h back into its on-flash form.  The low half of the
// entry address is written as zero.
func (h Header) Bytes() []byte {
	p := make([]byte, HeaderSize)
	p[0] = h.Magic
	p[1] = h.Segments
	p[2] = h.FlashMode
	p[3] = h.SizeClass<<4 | (h.Marker&0x03)<<2 | h.Frequency&0x03
	binary.LittleEndian.PutUint16(p[6:8], h.Entry)
	binary.LittleEndian.PutUint32(p[8:12], h.StartOffset)
	return p
}

// NewHeader returns a well-formed header for the given class and
// partition marker.
func NewHeader(class int, marker byte) Header {
	return Header{
		Magic:     Magic,
		Segments:  segmentsByte,
		SizeClass: byte(class),
		Marker:    marker,
		Entry:     entryHigh,
	}
}

// Validate checks that h describes an image that may live in the
// target bank of a device with the given flash-size class.
func (h Header) Validate(class int, target Bank) error {
	if h.Magic != Magic {
		return &HeaderError{Reason: "IROM magic missing"}
	}
	if h.Segments != segmentsByte || h.FlashMode > maxFlashMode || int(h.SizeClass) > MaxClass {
		return &HeaderError{Reason: "bad flash header"}
	}
	if int(h.SizeClass) != class {
		return &HeaderError{Reason: fmt.Sprintf("flash size mismatch (image class %d, device class %d)", h.SizeClass, class)}
	}
	switch h.Marker {
	case MarkerAny:
	case MarkerBankA, MarkerBankB:
		if Bank(h.Marker-1) != target {
			return &HeaderError{Reason: fmt.Sprintf("wrong partition (image for %s, target %s)", Bank(h.Marker-1).Name(), target.Name())}
		}
	default:
		return &HeaderError{Reason: "bad flash header"}
	}
	if h.Entry != entryHigh {
		return &HeaderError{Reason: "invalid entry addr"}
	}
	if h.StartOffset != 0 {
		return &HeaderError{Reason: "invalid start offset"}
	}
	return nil
}

// Check parses and validates in one step.
func Check(p []byte, class int, target Bank) error {
	h, err := ParseHeader(p)
	if err != nil {
		return err
	}
	return h.Validate(class, target)
}
