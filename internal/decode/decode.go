package decode

import (
	"bytes"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// lz4FrameMagic is the 4-byte magic number that opens an LZ4 frame.
// The external application's storage engine silently upgrades large or
// compressible text columns to LZ4-compressed blobs.
var lz4FrameMagic = []byte{0x04, 0x22, 0x4D, 0x18}

// Bytes converts a raw column value to text. Values that open with the LZ4
// frame magic are decompressed first; everything else is interpreted
// directly. Invalid UTF-8 sequences are replaced, never fatal.
//
// Bytes must be applied to every column that might be a compressed blob
// instead of text: the content column and the embedded-sender column.
func Bytes(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	if bytes.HasPrefix(raw, lz4FrameMagic) {
		zr := lz4.NewReader(bytes.NewReader(raw))
		if out, err := io.ReadAll(zr); err == nil {
			return lossyUTF8(out)
		}
		// Corrupt frame: fall through and report the raw bytes as-is.
	}
	return lossyUTF8(raw)
}

func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
