// Package solver implements preconditioned conjugate gradients over the
// distributed operators of package la.
package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/FEMBench/la"
	"go.uber.org/zap"
)

// ErrNotConverged is wrapped by every ConvergenceError
var ErrNotConverged = errors.New("krylov solver did not converge")

// ConvergenceError reports why an iteration stopped without meeting the
// tolerance
type ConvergenceError struct {
	Reason     string
	Iterations int
	Residual   float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s after %d iterations (residual %.3e)", e.Reason, e.Iterations, e.Residual)
}

func (e *ConvergenceError) Unwrap() error { return ErrNotConverged }

// Settings controls the stopping test. The iteration stops when
// ||r|| <= max(RTol*||b||, ATol) and fails when ||r|| > DTol*||b|| or after
// MaxIterations.
type Settings struct {
	RTol          float64
	ATol          float64
	DTol          float64
	MaxIterations int
}

// DefaultSettings mirrors the usual Krylov defaults
func DefaultSettings() Settings {
	return Settings{RTol: 1e-5, ATol: 1e-50, DTol: 1e5, MaxIterations: 10000}
}

// Stats summarises a solve
type Stats struct {
	Iterations   int
	ResidualNorm float64
	RHSNorm      float64
}

// CG is a preconditioned conjugate gradient solver for symmetric positive
// definite operators
type CG struct {
	Settings Settings
	PC       Preconditioner

	// Logger receives one debug entry per iteration on rank 0 when set
	Logger *zap.Logger
}

// NewCG returns a solver with the named preconditioner
func NewCG(settings Settings, pcType string, logger *zap.Logger) (*CG, error) {
	pc, err := NewPreconditioner(pcType)
	if err != nil {
		return nil, err
	}
	return &CG{Settings: settings, PC: pc, Logger: logger}, nil
}

// Solve solves A x = b using x as the initial guess. On return the ghosts
// of x are consistent. Collective.
func (s *CG) Solve(A *la.Matrix, b, x *la.Vector) (Stats, error) {
	var stats Stats
	if s.PC == nil {
		s.PC = &Identity{}
	}
	if err := s.PC.Setup(A); err != nil {
		return stats, fmt.Errorf("preconditioner setup: %w", err)
	}

	r, z, p, q := b.Duplicate(), b.Duplicate(), b.Duplicate(), b.Duplicate()

	// r = b - A x
	if err := A.Mult(x, q); err != nil {
		return stats, err
	}
	r.Copy(b)
	r.Axpy(-1, q)

	bnorm, err := b.Norm()
	if err != nil {
		return stats, err
	}
	stats.RHSNorm = bnorm
	tol := math.Max(s.Settings.RTol*bnorm, s.Settings.ATol)

	rnorm, rz, err := s.precondition(r, z)
	if err != nil {
		return stats, err
	}
	stats.ResidualNorm = rnorm
	if rnorm <= tol {
		return stats, x.ScatterForward()
	}
	p.Copy(z)

	rank0 := A.Map.Comm.Rank() == 0
	for it := 1; it <= s.Settings.MaxIterations; it++ {
		if err := A.Mult(p, q); err != nil {
			return stats, err
		}
		pq, err := p.Dot(q)
		if err != nil {
			return stats, err
		}
		if pq <= 0 {
			return stats, &ConvergenceError{Reason: "operator is not positive definite", Iterations: it, Residual: rnorm}
		}
		alpha := rz / pq
		x.Axpy(alpha, p)
		r.Axpy(-alpha, q)

		rzOld := rz
		rnorm, rz, err = s.precondition(r, z)
		if err != nil {
			return stats, err
		}
		stats.Iterations = it
		stats.ResidualNorm = rnorm
		if s.Logger != nil && rank0 {
			s.Logger.Debug("cg iteration", zap.Int("it", it), zap.Float64("residual", rnorm))
		}

		if rnorm <= tol {
			return stats, x.ScatterForward()
		}
		if rnorm > s.Settings.DTol*bnorm || math.IsNaN(rnorm) {
			return stats, &ConvergenceError{Reason: "diverged", Iterations: it, Residual: rnorm}
		}
		p.Aypx(rz/rzOld, z)
	}
	return stats, &ConvergenceError{Reason: "reached maximum iterations", Iterations: stats.Iterations, Residual: rnorm}
}

// precondition computes z = M r and returns ||r|| and <r, z> with a single
// reduction
func (s *CG) precondition(r, z *la.Vector) (rnorm, rz float64, err error) {
	if err = s.PC.Apply(r, z); err != nil {
		return 0, 0, err
	}
	dots, err := la.InnerProducts([]*la.Vector{r, z}, r)
	if err != nil {
		return 0, 0, err
	}
	return math.Sqrt(dots[0]), dots[1], nil
}
