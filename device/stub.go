//go:build !occa

package device

import "github.com/notargets/FEMBench/la"

// Device is unavailable without the occa build tag
type Device struct{}

// Open always fails without the occa build tag
func Open(mode string) (*Device, error) { return nil, ErrUnavailable }

func (d *Device) Mode() string { return "" }

func (d *Device) Free() {}

// SpMV is unavailable without the occa build tag
type SpMV struct{}

func (d *Device) NewSpMV(A *la.Matrix) (*SpMV, error) { return nil, ErrUnavailable }

func (s *SpMV) Mult(x, y []float64) error { return ErrUnavailable }

func (s *SpMV) Free() {}
