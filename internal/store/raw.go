package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// checkPlain rejects voxel types that cannot round-trip through encoding/binary:
// anything variable-sized and structs with unexported fields.
func checkPlain(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkPlain(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() && f.Name != "_" {
				return fmt.Errorf("%w: %s has unexported field %s", ErrUnsupportedVoxel, t, f.Name)
			}
			if err := checkPlain(f.Type); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is not fixed-size plain data", ErrUnsupportedVoxel, t)
	}
}

func encodeRaw[V any](data []V) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(binary.Size(data))
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRaw[V any](raw []byte, n int) ([]V, error) {
	out := make([]V, n)
	if want := binary.Size(out); len(raw) != want {
		return nil, fmt.Errorf("%w: decoded %d bytes want %d", ErrCorruptChunk, len(raw), want)
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptChunk, err)
	}
	return out, nil
}
