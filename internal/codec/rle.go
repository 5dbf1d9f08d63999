package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RLE encodes bytes as varint pairs (byte, run_len) repeated. Sparse chunks are
// mostly long runs of the default voxel, which this handles well.
type RLE struct{}

func (RLE) Name() string { return "rle" }

func (RLE) Compress(raw []byte) ([]byte, error) { return EncodeRLE(raw), nil }

func (RLE) Decompress(blob []byte) ([]byte, error) { return DecodeRLE(blob) }

func EncodeRLE(raw []byte) []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(raw) {
		b := raw[i]
		run := 1
		for j := i + 1; j < len(raw) && raw[j] == b && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return buf.Bytes()
}

func DecodeRLE(raw []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad varint at %d", ErrCorrupt, i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad varint at %d", ErrCorrupt, i)
		}
		i += n
		if b > 0xFF {
			return nil, fmt.Errorf("%w: byte value too large: %d", ErrCorrupt, b)
		}
		if run == 0 || run > 1<<31 {
			return nil, fmt.Errorf("%w: bad run length %d", ErrCorrupt, run)
		}
		out = append(out, bytes.Repeat([]byte{byte(b)}, int(run))...)
	}
	return out, nil
}
