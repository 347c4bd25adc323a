package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackAlloc(t *testing.T) {
	tbl := []struct{ handle, ptr uint32 }{
		{1, 0}, {1, 65536}, {0xffffffff, 0xffffffff}, {42, 7},
	}
	for _, tt := range tbl {
		h, p := UnpackAlloc(PackAlloc(tt.handle, tt.ptr))
		assert.Equal(t, tt.handle, h)
		assert.Equal(t, tt.ptr, p)
	}
}

func TestResult(t *testing.T) {
	assert.Equal(t, int32(12), Result(12, false))
	assert.Equal(t, int32(-12), Result(12, true))
	assert.Equal(t, int32(0), Result(0, false))
}
