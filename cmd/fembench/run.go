package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/notargets/FEMBench/bench"
	"github.com/notargets/FEMBench/config"
	"github.com/notargets/FEMBench/results"
	"github.com/notargets/FEMBench/timing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List benchmark runs recorded in the results database",
	RunE:  showHistory,
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the effective configuration (file plus flags) to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

func addRunFlags(cmd *cobra.Command) {
	d := config.Default()
	f := cmd.PersistentFlags()
	f.String("problem-type", d.ProblemType, "poisson or elasticity")
	f.String("scaling-type", d.ScalingType, "weak (ndofs per worker) or strong (ndofs total)")
	f.Int("ndofs", d.NDofs, "Target degrees of freedom")
	f.Int("workers", d.Workers, "Number of ranks")
	f.String("partitioner", d.Partitioner, "block, roundrobin or morton")
	f.String("mesh-file", "", "Read the mesh from file instead of meshing the unit cube")
	f.Bool("output", d.Output, "Write the solution and a run summary")
	f.String("output-dir", d.OutputDir, "Directory for output files")
	f.String("results-db", d.ResultsDB, "SQLite database to record the run in")
	f.Bool("nullspace-check", d.NullspaceCheck, "Check the near-nullspace against the unconstrained operator")
	f.Float64("nullspace-tol", d.NullspaceTol, "Relative tolerance of the near-nullspace check")
	f.String("pc-type", d.Solver.PCType, "none, jacobi or twolevel")
	f.Float64("rtol", d.Solver.RTol, "Relative residual tolerance")
	f.Float64("atol", d.Solver.ATol, "Absolute residual tolerance")
	f.Int("max-it", d.Solver.MaxIt, "Maximum CG iterations")
	f.String("backend", d.Solver.Backend, "cpu or occa")
	f.String("device-mode", d.Solver.DeviceMode, "OCCA mode (OpenMP, CUDA, Serial); empty tries each")
}

// applyFlags copies flags the user set onto cfg, leaving file values alone
// otherwise
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	str := func(name string, dst *string) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetInt(name)
		}
	}
	float := func(name string, dst *float64) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetFloat64(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetBool(name)
		}
	}

	str("problem-type", &cfg.ProblemType)
	str("scaling-type", &cfg.ScalingType)
	integer("ndofs", &cfg.NDofs)
	integer("workers", &cfg.Workers)
	str("partitioner", &cfg.Partitioner)
	str("mesh-file", &cfg.MeshFile)
	boolean("output", &cfg.Output)
	str("output-dir", &cfg.OutputDir)
	str("results-db", &cfg.ResultsDB)
	boolean("nullspace-check", &cfg.NullspaceCheck)
	float("nullspace-tol", &cfg.NullspaceTol)
	str("pc-type", &cfg.Solver.PCType)
	float("rtol", &cfg.Solver.RTol)
	float("atol", &cfg.Solver.ATol)
	integer("max-it", &cfg.Solver.MaxIt)
	str("backend", &cfg.Solver.Backend)
	str("device-mode", &cfg.Solver.DeviceMode)
	return err
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.Info("starting benchmark",
		zap.String("problem", cfg.ProblemType),
		zap.String("scaling", cfg.ScalingType),
		zap.Int("ndofs", cfg.NDofs),
		zap.Int("workers", cfg.Workers),
		zap.String("pc", cfg.Solver.PCType))

	_, err = bench.Run(cmd.Context(), cfg, logger, cmd.OutOrStdout())
	return err
}

func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.ResultsDB == "" {
		return fmt.Errorf("no results database configured (set results_db or --results-db)")
	}
	store, err := results.Open(cfg.ResultsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.StartedAt.Local().Format(time.DateTime),
			r.Problem,
			r.Scaling,
			fmt.Sprint(r.Workers),
			humanize.Comma(int64(r.NumDofs)),
			r.Preconditioner,
			fmt.Sprint(r.Iterations),
			fmt.Sprintf("%.4f", r.Timings[bench.TimerSolve]),
		}
	}
	headers := []string{"started", "problem", "scaling", "workers", "dofs", "pc", "its", "solve [s]"}
	fmt.Fprint(cmd.OutOrStdout(), timing.RenderTable(fmt.Sprintf("%d recorded runs", len(runs)), headers, rows))
	return nil
}
