package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestConcatPreservesOrder(t *testing.T) {
	out, err := Concat([][]byte{{1, 2}, {3}, {4, 5, 6}})
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("combined = %v", out)
	}
}

func TestConcatEmpty(t *testing.T) {
	if _, err := Concat(nil); !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

func TestEstimateDurationSeconds(t *testing.T) {
	if d := EstimateDurationSeconds(16000, DefaultBitrateBPS); d != 1.0 {
		t.Fatalf("16000 bytes at 128kbps = %v, want 1.0", d)
	}
	if d := EstimateDurationSeconds(0, DefaultBitrateBPS); d != 0 {
		t.Fatalf("empty payload duration = %v", d)
	}
	if d := EstimateDurationSeconds(16000, 0); d != 1.0 {
		t.Fatalf("zero bitrate should fall back to default, got %v", d)
	}
}
