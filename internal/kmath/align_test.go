package kmath_test

import (
	"testing"

	"github.com/k23-systems/kcore/internal/kmath"
)

func TestRoundupAlignsUpToPowerOfTwo(t *testing.T) {
	cases := []struct{ v, mult, want uintptr }{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
	}
	for _, c := range cases {
		if got := kmath.Roundup(c.v, c.mult); got != c.want {
			t.Errorf("Roundup(%d, %d) = %d, want %d", c.v, c.mult, got, c.want)
		}
	}
}

func TestRounddownAlignsDownToPowerOfTwo(t *testing.T) {
	cases := []struct{ v, mult, want uintptr }{
		{0, 4096, 0},
		{1, 4096, 0},
		{4096, 4096, 4096},
		{8191, 4096, 4096},
	}
	for _, c := range cases {
		if got := kmath.Rounddown(c.v, c.mult); got != c.want {
			t.Errorf("Rounddown(%d, %d) = %d, want %d", c.v, c.mult, got, c.want)
		}
	}
}

func TestMinMax(t *testing.T) {
	if kmath.Min(uint64(3), uint64(7)) != 3 {
		t.Fatal("Min picked the larger value")
	}
	if kmath.Max(uint64(3), uint64(7)) != 7 {
		t.Fatal("Max picked the smaller value")
	}
}
