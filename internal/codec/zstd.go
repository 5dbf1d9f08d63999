package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd shares one encoder and one decoder across goroutines; EncodeAll and
// DecodeAll are safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd(level int) (*Zstd, error) {
	lvl := zstd.SpeedFastest
	if level > 0 {
		lvl = zstd.EncoderLevelFromZstd(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) Compress(raw []byte) ([]byte, error) {
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw)/8+64)), nil
}

func (z *Zstd) Decompress(blob []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	return out, nil
}

// Close releases the encoder and decoder goroutines.
func (z *Zstd) Close() {
	z.enc.Close()
	z.dec.Close()
}
