// Package config holds the benchmark run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the complete description of one benchmark run
type Config struct {
	// "poisson" or "elasticity"
	ProblemType string `yaml:"problem_type"`
	// "weak" scales NDofs per worker, "strong" keeps NDofs fixed in total
	ScalingType string `yaml:"scaling_type"`
	NDofs       int    `yaml:"ndofs"`
	Workers     int    `yaml:"workers"`
	Partitioner string `yaml:"partitioner"`
	// Optional mesh file; the generated unit cube is used when empty
	MeshFile string `yaml:"mesh_file"`

	Output    bool   `yaml:"output"`
	OutputDir string `yaml:"output_dir"`
	ResultsDB string `yaml:"results_db"`

	NullspaceCheck bool    `yaml:"nullspace_check"`
	NullspaceTol   float64 `yaml:"nullspace_tol"`

	Solver SolverConfig `yaml:"solver"`
}

// SolverConfig selects the Krylov method and its stopping test
type SolverConfig struct {
	KSPType    string  `yaml:"ksp_type"`
	PCType     string  `yaml:"pc_type"`
	RTol       float64 `yaml:"rtol"`
	ATol       float64 `yaml:"atol"`
	MaxIt      int     `yaml:"max_it"`
	Backend    string  `yaml:"backend"`
	DeviceMode string  `yaml:"device_mode"`
}

// Default returns the configuration of the reference benchmark run
func Default() *Config {
	return &Config{
		ProblemType:    "poisson",
		ScalingType:    "weak",
		NDofs:          640,
		Workers:        runtime.NumCPU(),
		Partitioner:    "morton",
		Output:         false,
		OutputDir:      "./out",
		NullspaceCheck: true,
		NullspaceTol:   1.0e-8,
		Solver: SolverConfig{
			KSPType: "cg",
			PCType:  "jacobi",
			RTol:    1.0e-5,
			ATol:    1.0e-50,
			MaxIt:   10000,
			Backend: "cpu",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults. FEMBENCH_WORKERS and FEMBENCH_RESULTS_DB override file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FEMBENCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("FEMBENCH_RESULTS_DB"); v != "" {
		c.ResultsDB = v
	}
}

// StrongScaling reports whether NDofs is the total problem size
func (c *Config) StrongScaling() bool { return c.ScalingType == "strong" }

// DofsPerNode returns the number of unknowns per mesh vertex
func (c *Config) DofsPerNode() int {
	if c.ProblemType == "elasticity" {
		return 3
	}
	return 1
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var err error
	if !oneOf(c.ProblemType, "poisson", "elasticity") {
		err = multierr.Append(err, fmt.Errorf("problem_type %q unknown (valid: poisson, elasticity)", c.ProblemType))
	}
	if !oneOf(c.ScalingType, "weak", "strong") {
		err = multierr.Append(err, fmt.Errorf("scaling_type %q unknown (valid: weak, strong)", c.ScalingType))
	}
	if c.NDofs <= 0 {
		err = multierr.Append(err, fmt.Errorf("ndofs must be positive, got %d", c.NDofs))
	}
	if c.Workers <= 0 {
		err = multierr.Append(err, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if !oneOf(c.Partitioner, "block", "roundrobin", "morton") {
		err = multierr.Append(err, fmt.Errorf("partitioner %q unknown (valid: block, roundrobin, morton)", c.Partitioner))
	}
	if c.Output && c.OutputDir == "" {
		err = multierr.Append(err, fmt.Errorf("output requested without output_dir"))
	}
	if c.NullspaceTol <= 0 {
		err = multierr.Append(err, fmt.Errorf("nullspace_tol must be positive, got %g", c.NullspaceTol))
	}

	s := c.Solver
	if s.KSPType != "cg" {
		err = multierr.Append(err, fmt.Errorf("ksp_type %q unsupported (valid: cg)", s.KSPType))
	}
	if !oneOf(s.PCType, "none", "jacobi", "twolevel") {
		err = multierr.Append(err, fmt.Errorf("pc_type %q unknown (valid: none, jacobi, twolevel)", s.PCType))
	}
	if s.RTol <= 0 || s.RTol >= 1 {
		err = multierr.Append(err, fmt.Errorf("rtol must be in (0, 1), got %g", s.RTol))
	}
	if s.ATol < 0 {
		err = multierr.Append(err, fmt.Errorf("atol must not be negative, got %g", s.ATol))
	}
	if s.MaxIt <= 0 {
		err = multierr.Append(err, fmt.Errorf("max_it must be positive, got %d", s.MaxIt))
	}
	if !oneOf(s.Backend, "cpu", "occa") {
		err = multierr.Append(err, fmt.Errorf("backend %q unknown (valid: cpu, occa)", s.Backend))
	}
	return err
}
