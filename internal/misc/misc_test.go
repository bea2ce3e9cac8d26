package misc_test

import (
	"testing"

	"github.com/MikuraDev/Mikura/internal/misc"
)

func TestRoundAmount(t *testing.T) {
	cases := []struct {
		in       float64
		expected uint64
	}{
		{0, 0},
		{0.49, 0},
		{0.5, 1},
		{99.7, 100},
		{100000000.2, 100000000},
		// 噪声可能把小金额压到零下
		{-0.3, 0},
	}
	for _, c := range cases {
		if got := misc.RoundAmount(c.in); got != c.expected {
			t.Errorf("RoundAmount(%f) = %d, expected %d", c.in, got, c.expected)
		}
	}
}

func TestGenRandAmount(t *testing.T) {
	for i := 0; i < 100; i++ {
		if got := misc.GenRandAmount(1000); got >= 1000 {
			t.Errorf("GenRandAmount(1000) = %d, out of range", got)
		}
	}
}
