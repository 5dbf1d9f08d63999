package codec

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Snappy writes snappy-compatible blocks through s2.
type Snappy struct{}

func (Snappy) Name() string { return "snappy" }

func (Snappy) Compress(raw []byte) ([]byte, error) {
	return s2.EncodeSnappy(nil, raw), nil
}

func (Snappy) Decompress(blob []byte) ([]byte, error) {
	out, err := s2.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: snappy: %v", ErrCorrupt, err)
	}
	return out, nil
}
