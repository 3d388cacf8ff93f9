//go:build occa

package device

import (
	"fmt"
	"unsafe"

	"github.com/notargets/FEMBench/la"
	"github.com/notargets/gocca"
)

// Device wraps an OCCA device
type Device struct {
	dev *gocca.OCCADevice
}

// Open creates a device in the requested mode, or the first of OpenMP, CUDA
// and Serial that succeeds when mode is empty
func Open(mode string) (*Device, error) {
	var lastErr error
	for _, props := range backendProps(mode) {
		dev, err := gocca.NewDevice(props)
		if err == nil {
			return &Device{dev: dev}, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// Mode returns the OCCA backend name
func (d *Device) Mode() string { return d.dev.Mode() }

// Free releases the device
func (d *Device) Free() { d.dev.Free() }

// SpMV holds a matrix resident on the device. It implements la.Multiplier.
type SpMV struct {
	d      *Device
	kernel *gocca.OCCAKernel
	n      int // Owned rows
	nx     int // Local columns

	rowPtr, cols, vals *gocca.OCCAMemory
	x, y               *gocca.OCCAMemory
}

// NewSpMV copies the owned rows of A to the device and builds the kernel
func (d *Device) NewSpMV(A *la.Matrix) (*SpMV, error) {
	rowPtr, cols, vals := A.CSR()
	n := len(rowPtr) - 1
	s := &SpMV{d: d, n: n, nx: A.Map.SizeLocal()}
	if n == 0 || len(vals) == 0 {
		return s, nil
	}

	rp32, err := toInt32(rowPtr)
	if err != nil {
		return nil, err
	}
	c32, err := toInt32(cols)
	if err != nil {
		return nil, err
	}

	if d.Mode() == "OpenMP" {
		// OpenMP builds miss the default -O3
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		s.kernel, err = d.dev.BuildKernelFromString(spmvKernel, "csrSpMV", props)
	} else {
		s.kernel, err = d.dev.BuildKernelFromString(spmvKernel, "csrSpMV", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel csrSpMV: %w", err)
	}

	s.rowPtr = d.dev.Malloc(int64(len(rp32)*4), unsafe.Pointer(&rp32[0]), nil)
	s.cols = d.dev.Malloc(int64(len(c32)*4), unsafe.Pointer(&c32[0]), nil)
	s.vals = d.dev.Malloc(int64(len(vals)*8), unsafe.Pointer(&vals[0]), nil)
	s.x = d.dev.Malloc(int64(s.nx*8), nil, nil)
	s.y = d.dev.Malloc(int64(n*8), nil, nil)
	return s, nil
}

// Mult computes the owned rows of y = A*x on the device
func (s *SpMV) Mult(x, y []float64) error {
	if s.kernel == nil {
		for i := 0; i < s.n; i++ {
			y[i] = 0
		}
		return nil
	}
	if len(x) < s.nx || len(y) < s.n {
		return fmt.Errorf("spmv: vectors of length %d, %d too short for %d x %d", len(x), len(y), s.n, s.nx)
	}
	s.x.CopyFrom(unsafe.Pointer(&x[0]), int64(s.nx*8))
	if err := s.kernel.RunWithArgs(int32(s.n), s.rowPtr, s.cols, s.vals, s.x, s.y); err != nil {
		return fmt.Errorf("kernel execution failed: %w", err)
	}
	s.d.dev.Finish()
	s.y.CopyTo(unsafe.Pointer(&y[0]), int64(s.n*8))
	return nil
}

// Free releases device memory and the kernel. The device stays open.
func (s *SpMV) Free() {
	if s.kernel == nil {
		return
	}
	s.kernel.Free()
	for _, m := range []*gocca.OCCAMemory{s.rowPtr, s.cols, s.vals, s.x, s.y} {
		m.Free()
	}
	s.kernel = nil
}
