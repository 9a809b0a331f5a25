// Package rtf handles the RTF bodies stored in Outlook messages: LZFu
// decompression of PR_RTF_COMPRESSED, recovery of HTML encapsulated with
// \fromhtml1, and plain-text extraction.
package rtf

import (
	"encoding/binary"
	"errors"
)

const (
	magicCompressed   = 0x75465A4C // "LZFu"
	magicUncompressed = 0x414C454D // "MELA"

	dictSize    = 4096
	initDictLen = 207

	// maxRawSize caps the output allocation for a hostile size field.
	maxRawSize = 64 << 20
)

// initDict is the fixed dictionary preloaded at positions 0-206.
var initDict = []byte(
	"{\\rtf1\\ansi\\mac\\deff0\\deftab720{\\fonttbl;}" +
		"{\\f0\\fnil \\froman \\fswiss \\fmodern \\fscript " +
		"\\fdecor MS Sans SerifSymbolArialTimes New Roman" +
		"Courier{\\colortbl\\red0\\green0\\blue0\r\n\\par " +
		"\\pard\\plain\\f0\\fs20\\b\\i\\u\\tab\\tx",
)

// ErrInvalid is returned for a compressed RTF stream with a bad header.
var ErrInvalid = errors.New("invalid compressed RTF")

// Decompress expands a PR_RTF_COMPRESSED stream. Both the LZFu and the
// stored (MELA) variants are accepted. The CRC is not enforced since many
// producers write a non-standard value.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 16 {
		return nil, ErrInvalid
	}
	rawSize := int(binary.LittleEndian.Uint32(data[4:8]))
	switch binary.LittleEndian.Uint32(data[8:12]) {
	case magicUncompressed:
		end := min(16+rawSize, len(data))
		return append([]byte(nil), data[16:end]...), nil
	case magicCompressed:
		return decompressLZFu(data[16:], rawSize), nil
	default:
		return nil, ErrInvalid
	}
}

// decompressLZFu runs the LZ77 loop over a 4096 byte ring buffer. Each
// control byte carries eight flags, least significant first: a set bit is a
// two-byte dictionary reference (12-bit offset, 4-bit length minus two), a
// clear bit is a literal. A reference to the current write position ends the
// stream.
func decompressLZFu(in []byte, rawSize int) []byte {
	var dict [dictSize]byte
	copy(dict[:], initDict)
	wpos := initDictLen

	out := make([]byte, 0, min(max(rawSize, 0), maxRawSize))
	put := func(b byte) {
		out = append(out, b)
		dict[wpos] = b
		wpos = (wpos + 1) % dictSize
	}

	for i := 0; i < len(in) && len(out) < rawSize; {
		control := in[i]
		i++
		for bit := 0; bit < 8 && i < len(in) && len(out) < rawSize; bit++ {
			if control&(1<<bit) == 0 {
				put(in[i])
				i++
				continue
			}
			if i+1 >= len(in) {
				return out
			}
			ref := int(in[i])<<8 | int(in[i+1])
			i += 2
			offset := ref >> 4
			length := ref&0x0F + 2
			if offset == wpos {
				return out
			}
			for k := 0; k < length && len(out) < rawSize; k++ {
				put(dict[(offset+k)%dictSize])
			}
		}
	}
	return out
}
