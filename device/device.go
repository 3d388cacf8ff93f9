// Package device offloads the sparse matrix-vector product to an OCCA
// device. It is compiled in with the occa build tag; without it Open
// reports ErrUnavailable and the solver stays on the CPU path.
package device

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when no device backend is compiled in or none
// can be created
var ErrUnavailable = errors.New("device backend unavailable")

// Fallback order when no mode is requested
var defaultBackends = []string{
	`{"mode": "OpenMP"}`,
	`{"mode": "CUDA", "device_id": 0}`,
	`{"mode": "Serial"}`,
}

// backendProps returns the OCCA property strings to try for mode, in order
func backendProps(mode string) []string {
	if mode == "" {
		return defaultBackends
	}
	if mode == "CUDA" || mode == "HIP" || mode == "OpenCL" {
		return []string{fmt.Sprintf(`{"mode": %q, "device_id": 0}`, mode)}
	}
	return []string{fmt.Sprintf(`{"mode": %q}`, mode)}
}

// spmvKernel computes y = A*x for a CSR matrix, one row per work item
const spmvKernel = `
@kernel void csrSpMV(const int N,
                     @restrict const int *rowPtr,
                     @restrict const int *cols,
                     @restrict const double *vals,
                     @restrict const double *x,
                     @restrict double *y) {
  for (int b = 0; b < N; b += 64; @outer) {
    for (int i = b; i < b + 64; ++i; @inner) {
      if (i < N) {
        double sum = 0.0;
        for (int k = rowPtr[i]; k < rowPtr[i + 1]; ++k) {
          sum += vals[k] * x[cols[k]];
        }
        y[i] = sum;
      }
    }
  }
}
`

func toInt32(src []int) ([]int32, error) {
	out := make([]int32, len(src))
	for i, v := range src {
		if v > 1<<31-1 {
			return nil, fmt.Errorf("index %d overflows int32", v)
		}
		out[i] = int32(v)
	}
	return out, nil
}
