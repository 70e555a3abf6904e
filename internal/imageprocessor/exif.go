package imageprocessor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/rwcarlsen/goexif/exif"
)

const (
	// maxExifValues bounds the component count of a single EXIF entry.
	maxExifValues = 1 << 16
	// maxExifDirs bounds the number of IFDs walked in one EXIF block.
	maxExifDirs = 32

	exifIFDPointer     = 0x8769
	gpsIFDPointer      = 0x8825
	interopIFDPointer  = 0xA005
	exifEntrySize      = 12
	exifTypeShort      = 3
	exifTypeLong       = 4
	jpegSOI            = 0xD8
	jpegSOS            = 0xDA
	jpegEOI            = 0xD9
	jpegAPP1           = 0xE1
	exifHeader         = "Exif\x00\x00"
	tiffHeaderLength   = 8
	tiffMagic          = 42
	tiffNextIFDPointer = 4
)

var errNoExif = errors.New("no exif block")

// exifOrientation returns the EXIF orientation tag, or 1 when the image carries
// no readable orientation. The EXIF block is bounds-checked before goexif sees
// it, because goexif sizes its buffers from the entry counts it reads.
func exifOrientation(raw []byte) int {
	payload, err := exifPayload(raw)
	if err != nil {
		return 1
	}
	if err := validateTIFF(payload); err != nil {
		return 1
	}

	x, err := exif.Decode(bytes.NewReader(payload))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil || tag.Count != 1 {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// exifPayload returns the TIFF structure holding the EXIF data: the whole input
// for TIFF files, the APP1 "Exif" segment body for JPEG files.
func exifPayload(raw []byte) ([]byte, error) {
	if len(raw) >= 4 && (string(raw[:4]) == "II*\x00" || string(raw[:4]) == "MM\x00*") {
		return raw, nil
	}
	if len(raw) < 2 || raw[0] != 0xFF || raw[1] != jpegSOI {
		return nil, errNoExif
	}

	i := 2
	for i+4 <= len(raw) {
		if raw[i] != 0xFF {
			return nil, errNoExif
		}
		marker := raw[i+1]
		switch {
		case marker == 0xFF:
			i++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			i += 2
			continue
		case marker == jpegSOS || marker == jpegEOI:
			return nil, errNoExif
		}

		length := int(binary.BigEndian.Uint16(raw[i+2:]))
		if length < 2 || i+2+length > len(raw) {
			return nil, errNoExif
		}
		segment := raw[i+4 : i+2+length]
		if marker == jpegAPP1 && bytes.HasPrefix(segment, []byte(exifHeader)) {
			return segment[len(exifHeader):], nil
		}
		i += 2 + length
	}
	return nil, errNoExif
}

// validateTIFF walks every IFD reachable from the header, including the EXIF,
// GPS and interoperability sub-IFDs, and rejects entries whose values would not
// fit in data.
func validateTIFF(data []byte) error {
	if len(data) < tiffHeaderLength {
		return errors.New("tiff header truncated")
	}
	var order binary.ByteOrder
	switch string(data[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return errors.New("unknown tiff byte order")
	}
	if order.Uint16(data[2:]) != tiffMagic {
		return errors.New("missing tiff magic")
	}

	size := uint64(len(data))
	first := order.Uint32(data[tiffNextIFDPointer:])
	if first == 0 {
		return errors.New("tiff has no IFD")
	}
	pending := []uint32{first}
	visited := map[uint32]bool{}
	for len(pending) > 0 {
		off := pending[0]
		pending = pending[1:]
		if off == 0 {
			continue
		}
		if visited[off] {
			return fmt.Errorf("IFD at %d is referenced twice", off)
		}
		if len(visited) == maxExifDirs {
			return errors.New("too many IFDs")
		}
		visited[off] = true

		if uint64(off)+2 > size {
			return fmt.Errorf("IFD offset %d out of range", off)
		}
		n := uint64(order.Uint16(data[off:]))
		if n > math.MaxInt16 {
			return fmt.Errorf("IFD at %d has %d entries", off, n)
		}
		end := uint64(off) + 2 + n*exifEntrySize
		if end+4 > size {
			return fmt.Errorf("IFD at %d truncated", off)
		}

		for p := uint64(off) + 2; p < end; p += exifEntrySize {
			entry := data[p : p+exifEntrySize]
			id := order.Uint16(entry[0:])
			typ := order.Uint16(entry[2:])
			typeSize := exifTypeSize(typ)
			count := order.Uint32(entry[4:])
			if typeSize == 0 {
				return fmt.Errorf("tag %#x has unknown type", id)
			}
			if count == 0 || count > maxExifValues {
				return fmt.Errorf("tag %#x has count %d", id, count)
			}
			total := typeSize * uint64(count)
			if total > 4 && uint64(order.Uint32(entry[8:]))+total > size {
				return fmt.Errorf("tag %#x value out of range", id)
			}

			switch id {
			case exifIFDPointer, gpsIFDPointer, interopIFDPointer:
				if count != 1 {
					return fmt.Errorf("sub-IFD pointer %#x has count %d", id, count)
				}
				var target uint32
				switch typ {
				case exifTypeShort:
					target = uint32(order.Uint16(entry[8:]))
				case exifTypeLong:
					target = order.Uint32(entry[8:])
				default:
					return fmt.Errorf("sub-IFD pointer %#x has type %d", id, typ)
				}
				if target == 0 {
					return fmt.Errorf("sub-IFD pointer %#x is zero", id)
				}
				pending = append(pending, target)
			}
		}
		pending = append(pending, order.Uint32(data[end:]))
	}
	return nil
}

func exifTypeSize(t uint16) uint64 {
	switch t {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	default:
		return 0
	}
}
