// Package codec provides the reversible byte codecs used to compress chunk
// arrays that fall out of the decompressed cache.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCorrupt      = errors.New("codec: corrupt input")
	ErrUnknownCodec = errors.New("codec: unknown codec")
)

// Codec compresses and decompresses opaque byte arrays. Implementations must be
// lossless and safe for concurrent use.
type Codec interface {
	Name() string
	Compress(raw []byte) ([]byte, error)
	Decompress(blob []byte) ([]byte, error)
}

// Canonical maps a configured codec name to the name the codec reports.
func Canonical(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return "zstd", nil
	case "snappy", "s2":
		return "snappy", nil
	case "rle":
		return "rle", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// ByName resolves a configured codec. Level is only meaningful for zstd, where
// 0 selects the default.
func ByName(name string, level int) (Codec, error) {
	canon, err := Canonical(name)
	if err != nil {
		return nil, err
	}
	switch canon {
	case "snappy":
		return Snappy{}, nil
	case "rle":
		return RLE{}, nil
	default:
		return NewZstd(level)
	}
}
