package native

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFloating(t *testing.T) {
	tests := []struct {
		in   float64
		bits int
		want string
	}{
		{1, 64, "1.0"},
		{-2.5, 64, "-2.5"},
		{0.001, 64, "0.001"},
		{1.5e-4, 64, "1.5E-4"},
		{123456.789, 64, "123456.789"},
		{1e7, 64, "1.0E7"},
		{12345678.9, 64, "1.23456789E7"},
		{float64(float32(0.1)), 32, "0.1"},
		{math.Copysign(0, -1), 64, "-0.0"},
		{math.NaN(), 64, "NaN"},
		{math.Inf(-1), 64, "-Infinity"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFloating(tt.in, tt.bits), "formatFloating(%v)", tt.in)
	}
}

func TestJavaHash(t *testing.T) {
	assert.Equal(t, int32(0), javaHash(""))
	assert.Equal(t, int32(99162322), javaHash("hello"))
	// 桁あふれしても int32 で計算する
	assert.Equal(t, int32(1302335171), javaHash("the quick brown fox"))
}
