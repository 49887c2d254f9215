package sqlstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloats encodes values as a little-endian sequence of IEEE 754
// float64 values without a length prefix.
func EncodeFloats(values []float64) []byte {
	b := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

// DecodeFloats decodes a BLOB produced by EncodeFloats.
func DecodeFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("invalid float blob length %d (not multiple of 8)", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

// encodeRows concatenates equally long rows.
func encodeRows(rows [][]float64) []byte {
	var b []byte
	for _, r := range rows {
		b = append(b, EncodeFloats(r)...)
	}
	return b
}

// decodeRows splits a concatenated BLOB into rows of width cols.
func decodeRows(b []byte, cols int) ([][]float64, error) {
	flat, err := DecodeFloats(b)
	if err != nil {
		return nil, err
	}
	if cols < 1 || len(flat)%cols != 0 {
		return nil, fmt.Errorf("float blob of %d values does not split into rows of %d", len(flat), cols)
	}
	rows := make([][]float64, len(flat)/cols)
	for i := range rows {
		rows[i] = flat[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return rows, nil
}
