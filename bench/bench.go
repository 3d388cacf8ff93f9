// Package bench runs one Poisson or elasticity benchmark end to end: mesh,
// partition, assemble, near-nullspace, solve, output and report.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/notargets/FEMBench/comm"
	"github.com/notargets/FEMBench/config"
	"github.com/notargets/FEMBench/device"
	"github.com/notargets/FEMBench/fem"
	"github.com/notargets/FEMBench/la"
	"github.com/notargets/FEMBench/mesh"
	"github.com/notargets/FEMBench/nullspace"
	"github.com/notargets/FEMBench/output"
	"github.com/notargets/FEMBench/partitions"
	"github.com/notargets/FEMBench/results"
	"github.com/notargets/FEMBench/solver"
	"github.com/notargets/FEMBench/timing"
	"go.uber.org/zap"
)

// Timer names, in the order they are reported
const (
	TimerCreateMesh     = "Create mesh"
	TimerPartition      = "Partition mesh"
	TimerFunctionSpace  = "FunctionSpace"
	TimerAssemblePrep   = "Assemble prep"
	TimerAssembleMatrix = "Assemble matrix"
	TimerAssembleVector = "Assemble vector"
	TimerNullspace      = "Create near-nullspace"
	TimerNullspaceCheck = "Check near-nullspace"
	TimerSolve          = "Solve"
	TimerOutput         = "Output"
)

const rule = "----------------------------------------------------------------"

// Report is the outcome of a run as seen by rank 0
type Report struct {
	RunID         string
	Problem       string
	Scaling       string
	Workers       int
	NumCells      int
	NumDofs       int
	DofsPerWorker int
	Backend       string

	Iterations   int
	ResidualNorm float64
	SolutionNorm float64

	// NullspaceResiduals is empty when no check ran. IsNullspace reports
	// whether every residual was within tolerance.
	NullspaceResiduals []nullspace.Residual
	IsNullspace        bool
	Timings            []timing.Summary
}

// rankResult carries rank 0 values out of the communicator
type rankResult struct {
	numDofs      int
	stats        solver.Stats
	solutionNorm float64
	nullspace    []nullspace.Residual
	isNullspace  bool
	timings      []timing.Summary
	backend      string
}

// Run executes the benchmark described by cfg. The human readable summary,
// timing table and iteration count are written to stdout.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger, stdout io.Writer) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	t0 := time.Now()
	m, err := createMesh(cfg)
	if err != nil {
		return nil, err
	}
	dMesh := time.Since(t0)
	logger.Info("mesh created",
		zap.Int("cells", m.NumElements()),
		zap.Int("vertices", m.NumVertices()),
		zap.Duration("elapsed", dMesh))

	t0 = time.Now()
	dl, stats, err := partition(cfg, m)
	if err != nil {
		return nil, err
	}
	dPart := time.Since(t0)
	logger.Info("mesh partitioned",
		zap.Int("parts", stats.NumPartitions),
		zap.Int("min_cells", stats.MinElements),
		zap.Int("max_cells", stats.MaxElements),
		zap.Float64("imbalance", stats.Imbalance))

	var res rankResult
	err = comm.Run(ctx, cfg.Workers, func(c *comm.Comm) error {
		reg := timing.NewRegistry()
		reg.Add(TimerCreateMesh, dMesh)
		reg.Add(TimerPartition, dPart)
		r, err := runRank(c, cfg, m, dl, reg, logger.With(zap.Int("rank", c.Rank())), stdout)
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			res = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:              runID,
		Problem:            cfg.ProblemType,
		Scaling:            cfg.ScalingType,
		Workers:            cfg.Workers,
		NumCells:           m.NumElements(),
		NumDofs:            res.numDofs,
		DofsPerWorker:      res.numDofs / cfg.Workers,
		Backend:            res.backend,
		Iterations:         res.stats.Iterations,
		ResidualNorm:       res.stats.ResidualNorm,
		SolutionNorm:       res.solutionNorm,
		NullspaceResiduals: res.nullspace,
		IsNullspace:        res.isNullspace,
		Timings:            res.timings,
	}

	fmt.Fprint(stdout, timing.Table("Summary of timings", rep.Timings))
	fmt.Fprintf(stdout, "*** Number of Krylov iterations: %d\n", rep.Iterations)

	if cfg.Output {
		if err := output.WriteSummary(output.SummaryPath(cfg.OutputDir, cfg.Workers), rep.summary(cfg)); err != nil {
			return rep, err
		}
	}
	if cfg.ResultsDB != "" {
		if err := record(ctx, cfg, rep); err != nil {
			return rep, err
		}
		logger.Info("run recorded", zap.String("db", cfg.ResultsDB))
	}
	return rep, nil
}

func createMesh(cfg *config.Config) (*mesh.Mesh, error) {
	if cfg.MeshFile != "" {
		return mesh.ReadFile(cfg.MeshFile)
	}
	nx, ny, nz, err := mesh.DivisionsForDofs(cfg.NDofs, cfg.Workers, cfg.StrongScaling(), cfg.DofsPerNode())
	if err != nil {
		return nil, err
	}
	return mesh.NewUnitCube(nx, ny, nz)
}

func partition(cfg *config.Config, m *mesh.Mesh) (*partitions.DofLayout, partitions.PartitionStats, error) {
	var stats partitions.PartitionStats
	strategy, err := partitions.ParseStrategy(cfg.Partitioner)
	if err != nil {
		return nil, stats, err
	}
	centroids := make([][3]float64, m.NumElements())
	for k := range centroids {
		centroids[k] = m.Centroid(k)
	}
	pb := &partitions.PartitionBuilder{
		Mesh:          &partitions.MeshConnectivity{NumElements: m.NumElements(), Centroids: centroids},
		NumPartitions: cfg.Workers,
		Strategy:      strategy,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return nil, stats, fmt.Errorf("partitioning %d cells %d ways: %w", m.NumElements(), cfg.Workers, err)
	}
	dl, err := partitions.BuildDofLayout(layout, m.EToV, m.NumVertices())
	if err != nil {
		return nil, stats, err
	}
	return dl, layout.PartitionStatistics(), nil
}

func newProblem(name string, V *fem.FunctionSpace) (fem.Problem, error) {
	switch name {
	case "poisson":
		return fem.NewPoissonProblem(V)
	case "elasticity":
		return fem.NewElasticityProblem(V)
	}
	return nil, fmt.Errorf("unknown problem type %q", name)
}

func runRank(c *comm.Comm, cfg *config.Config, m *mesh.Mesh, dl *partitions.DofLayout,
	reg *timing.Registry, log *zap.Logger, stdout io.Writer) (rankResult, error) {
	var res rankResult
	rank0 := c.Rank() == 0

	var V *fem.FunctionSpace
	err := reg.Time(TimerFunctionSpace, func() (err error) {
		V, err = fem.NewFunctionSpace(c, m, dl.Partitions[c.Rank()], cfg.DofsPerNode())
		return err
	})
	if err != nil {
		return res, err
	}
	res.numDofs = V.Map.SizeGlobal()

	var p fem.Problem
	err = reg.Time(TimerAssemblePrep, func() (err error) {
		if p, err = newProblem(cfg.ProblemType, V); err != nil {
			return err
		}
		return p.Prepare()
	})
	if err != nil {
		return res, err
	}

	var A *la.Matrix
	if err = reg.Time(TimerAssembleMatrix, func() (err error) {
		A, err = p.AssembleMatrix()
		return err
	}); err != nil {
		return res, err
	}
	var b *la.Vector
	if err = reg.Time(TimerAssembleVector, func() (err error) {
		b, err = p.AssembleVector()
		return err
	}); err != nil {
		return res, err
	}
	log.Debug("system assembled",
		zap.Int("owned_dofs", V.Map.SizeOwned()),
		zap.Int("ghost_dofs", V.Map.SizeGhost()),
		zap.Int("nnz", A.NumNonZeros()))

	if ep, ok := p.(*fem.ElasticityProblem); ok {
		var basis nullspace.Basis
		if err = reg.Time(TimerNullspace, func() (err error) {
			basis, err = nullspace.Build(V)
			return err
		}); err != nil {
			return res, err
		}
		A.SetNearNullspace(basis.Vectors())

		if cfg.NullspaceCheck {
			err = reg.Time(TimerNullspaceCheck, func() error {
				op, err := ep.AssembleOperator()
				if err != nil {
					return err
				}
				res.nullspace, err = basis.Test(op, cfg.NullspaceTol)
				switch {
				case err == nil:
					res.isNullspace = true
				case errors.Is(err, nullspace.ErrNotNullspace):
					// Diagnostic only, the solve goes ahead
					if rank0 {
						log.Warn("near-nullspace check failed", zap.Error(err))
					}
					return nil
				}
				return err
			})
			if err != nil {
				return res, err
			}
			if rank0 {
				for _, r := range res.nullspace {
					log.Debug("near-nullspace residual", zap.Int("mode", r.Index), zap.Float64("residual", r.Norm))
				}
				if res.isNullspace {
					fmt.Fprintln(stdout, "Is a nullspace")
				} else {
					fmt.Fprintln(stdout, "Not a nullspace")
				}
			}
		}
	}

	res.backend = "cpu"
	if cfg.Solver.Backend == "occa" {
		d, spmv, err := attachDevice(A, cfg.Solver.DeviceMode)
		switch {
		case errors.Is(err, device.ErrUnavailable):
			log.Warn("device backend unavailable, using cpu", zap.Error(err))
		case err != nil:
			return res, err
		default:
			defer d.Free()
			defer spmv.Free()
			res.backend = "occa/" + d.Mode()
		}
	}

	if rank0 {
		printSummary(stdout, cfg, res.numDofs)
	}

	settings := solver.DefaultSettings()
	settings.RTol = cfg.Solver.RTol
	settings.ATol = cfg.Solver.ATol
	settings.MaxIterations = cfg.Solver.MaxIt
	cg, err := solver.NewCG(settings, cfg.Solver.PCType, log)
	if err != nil {
		return res, err
	}
	x := b.Duplicate()
	if err = reg.Time(TimerSolve, func() (err error) {
		res.stats, err = cg.Solve(A, b, x)
		return err
	}); err != nil {
		return res, err
	}
	if res.solutionNorm, err = x.Norm(); err != nil {
		return res, err
	}
	if rank0 {
		log.Info("solve finished",
			zap.Int("iterations", res.stats.Iterations),
			zap.Float64("residual", res.stats.ResidualNorm),
			zap.Float64("solution_norm", res.solutionNorm))
	}

	if cfg.Output {
		if err = reg.Time(TimerOutput, func() error {
			return writeSolution(cfg, m, dl, V, x)
		}); err != nil {
			return res, err
		}
	}

	if res.timings, err = timing.Reduce(c, reg); err != nil {
		return res, err
	}
	return res, nil
}

// attachDevice moves the SpMV of A onto an OCCA device. The caller frees the
// SpMV before the device.
func attachDevice(A *la.Matrix, mode string) (*device.Device, *device.SpMV, error) {
	d, err := device.Open(mode)
	if err != nil {
		return nil, nil, err
	}
	spmv, err := d.NewSpMV(A)
	if err != nil {
		d.Free()
		return nil, nil, err
	}
	A.SetMultiplier(spmv)
	return d, spmv, nil
}

// writeSolution gathers x on rank 0 and writes it. Collective.
func writeSolution(cfg *config.Config, m *mesh.Mesh, dl *partitions.DofLayout, V *fem.FunctionSpace, x *la.Vector) error {
	global, err := x.GatherGlobal(0)
	if err != nil || global == nil {
		return err
	}
	f, err := output.FromGlobal("u", global, dl.GlobalToVertex, V.NumComponents())
	if err != nil {
		return err
	}
	return output.WriteXDMF(output.SolutionPath(cfg.OutputDir, cfg.Workers), m, f)
}

func printSummary(w io.Writer, cfg *config.Config, ndofs int) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "Test problem summary")
	fmt.Fprintf(w, "  Problem type:   %s\n", cfg.ProblemType)
	fmt.Fprintf(w, "  Scaling type:   %s\n", cfg.ScalingType)
	fmt.Fprintf(w, "  Num processes:  %d\n", cfg.Workers)
	fmt.Fprintf(w, "  Total degrees of freedom:               %s\n", humanize.Comma(int64(ndofs)))
	fmt.Fprintf(w, "  Average degrees of freedom per process: %s\n", humanize.Comma(int64(ndofs/cfg.Workers)))
	fmt.Fprintln(w, rule)
}

func (r *Report) timingMap() map[string]float64 {
	out := make(map[string]float64, len(r.Timings))
	for _, s := range r.Timings {
		out[s.Name] = s.Max.Seconds()
	}
	return out
}

func (r *Report) summary(cfg *config.Config) *output.Summary {
	s := &output.Summary{
		RunID:          r.RunID,
		Problem:        r.Problem,
		Scaling:        r.Scaling,
		Workers:        r.Workers,
		NumCells:       r.NumCells,
		NumDofs:        r.NumDofs,
		DofsPerWorker:  r.DofsPerWorker,
		Preconditioner: cfg.Solver.PCType,
		Iterations:     r.Iterations,
		ResidualNorm:   r.ResidualNorm,
		SolutionNorm:   r.SolutionNorm,
		Timings:        r.timingMap(),
	}
	if len(r.NullspaceResiduals) > 0 {
		ok := r.IsNullspace
		s.IsNullspace = &ok
	}
	return s
}

func record(ctx context.Context, cfg *config.Config, r *Report) error {
	store, err := results.Open(cfg.ResultsDB)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Record(ctx, results.Run{
		ID:             r.RunID,
		Problem:        r.Problem,
		Scaling:        r.Scaling,
		Workers:        r.Workers,
		NumDofs:        r.NumDofs,
		Preconditioner: cfg.Solver.PCType,
		Iterations:     r.Iterations,
		ResidualNorm:   r.ResidualNorm,
		Converged:      true,
		Timings:        r.timingMap(),
	})
	return err
}
