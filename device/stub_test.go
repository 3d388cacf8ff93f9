//go:build !occa

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenWithoutBackend(t *testing.T) {
	d, err := Open("")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, d)
}
