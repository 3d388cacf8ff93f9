package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendProps(t *testing.T) {
	assert.Len(t, backendProps(""), 3)
	assert.Equal(t, []string{`{"mode": "Serial"}`}, backendProps("Serial"))
	assert.Equal(t, []string{`{"mode": "CUDA", "device_id": 0}`}, backendProps("CUDA"))
}

func TestToInt32(t *testing.T) {
	got, err := toInt32([]int{0, 3, 7})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 3, 7}, got)

	_, err = toInt32([]int{1 << 40})
	assert.Error(t, err)
}
