package sqlstore

import (
	"math"
	"testing"
)

func TestEncodeDecodeFloats(t *testing.T) {
	values := []float64{0, 1, -2.5, math.Pi, math.SmallestNonzeroFloat64, math.MaxFloat64}

	b := EncodeFloats(values)
	if len(b) != len(values)*8 {
		t.Fatalf("encoded length = %d, want %d", len(b), len(values)*8)
	}
	got, err := DecodeFloats(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range values {
		if got[i] != values[i] {
			t.Errorf("value %d = %v, want %v", i, got[i], values[i])
		}
	}
}

func TestDecodeFloats_InvalidLength(t *testing.T) {
	if _, err := DecodeFloats(make([]byte, 7)); err == nil {
		t.Error("expected error for 7-byte blob")
	}
}

func TestDecodeRows(t *testing.T) {
	b := encodeRows([][]float64{{1, 2, 3}, {4, 5, 6}})

	rows, err := decodeRows(b, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 || rows[1][2] != 6 {
		t.Errorf("decodeRows() = %v", rows)
	}

	if _, err := decodeRows(b, 4); err == nil {
		t.Error("expected error for width that does not divide the blob")
	}
	if _, err := decodeRows(b, 0); err == nil {
		t.Error("expected error for zero width")
	}
}
