package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical squareness defaults file.
const DefaultConfigPath = "config/square.defaults.json"

// ErrInvalidConfiguration is wrapped by every Validate failure.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Defaults. Detection is deliberately looser than auto-fixing: flag
// liberally, correct automatically only when already close to square.
const (
	DefaultDetectionEpsilon          = 0.05
	DefaultDetectionDegreeThreshold  = 13.0
	DefaultAutoFixDegreeThreshold    = 6.5
	DefaultNodeThreshold             = 10
	DefaultCorrectionTolerance       = 1e-4
	DefaultCorrectionDegreeThreshold = 13.0
	DefaultMaxIterations             = 1000
	DefaultWorkers                   = 4
)

// SquareConfig holds the thresholds shared by the analyzer, the
// orthogonalizer and the fix policy. Omitted fields fall back to defaults
// through the Get* accessors, so partial files are safe.
type SquareConfig struct {
	// Detection
	DetectionEpsilon         *float64 `json:"detection_epsilon,omitempty"`
	DetectionDegreeThreshold *float64 `json:"detection_degree_threshold,omitempty"`
	NodeThreshold            *int     `json:"node_threshold,omitempty"`

	// Fix policy
	AutoFixDegreeThreshold *float64 `json:"autofix_degree_threshold,omitempty"`

	// Correction
	CorrectionTolerance       *float64 `json:"correction_tolerance,omitempty"` // radians
	CorrectionDegreeThreshold *float64 `json:"correction_degree_threshold,omitempty"`
	MaxIterations             *int     `json:"max_iterations,omitempty"`

	// Batch validation
	Workers *int `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySquareConfig returns a SquareConfig with all fields set to nil.
func EmptySquareConfig() *SquareConfig {
	return &SquareConfig{}
}

// DefaultSquareConfig returns a SquareConfig with every field populated.
func DefaultSquareConfig() *SquareConfig {
	return &SquareConfig{
		DetectionEpsilon:          ptrFloat64(DefaultDetectionEpsilon),
		DetectionDegreeThreshold:  ptrFloat64(DefaultDetectionDegreeThreshold),
		NodeThreshold:             ptrInt(DefaultNodeThreshold),
		AutoFixDegreeThreshold:    ptrFloat64(DefaultAutoFixDegreeThreshold),
		CorrectionTolerance:       ptrFloat64(DefaultCorrectionTolerance),
		CorrectionDegreeThreshold: ptrFloat64(DefaultCorrectionDegreeThreshold),
		MaxIterations:             ptrInt(DefaultMaxIterations),
		Workers:                   ptrInt(DefaultWorkers),
	}
}

// LoadSquareConfig loads a SquareConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSquareConfig(path string) (*SquareConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySquareConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *SquareConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadSquareConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration after defaults are applied. Every error
// wraps ErrInvalidConfiguration.
func (c *SquareConfig) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}

	if eps := c.GetDetectionEpsilon(); eps <= 0 {
		return invalid("detection_epsilon must be positive, got %f", eps)
	}

	detect := c.GetDetectionDegreeThreshold()
	if detect <= 0 || detect > 45 {
		return invalid("detection_degree_threshold must be in (0, 45], got %f", detect)
	}

	auto := c.GetAutoFixDegreeThreshold()
	if auto <= 0 {
		return invalid("autofix_degree_threshold must be positive, got %f", auto)
	}
	if auto >= detect {
		return invalid("autofix_degree_threshold (%f) must be below detection_degree_threshold (%f)", auto, detect)
	}

	if n := c.GetNodeThreshold(); n < 3 {
		return invalid("node_threshold must be at least 3, got %d", n)
	}

	if tol := c.GetCorrectionTolerance(); tol <= 0 {
		return invalid("correction_tolerance must be positive, got %g", tol)
	}

	if thr := c.GetCorrectionDegreeThreshold(); thr <= 0 || thr > 45 {
		return invalid("correction_degree_threshold must be in (0, 45], got %f", thr)
	}

	if it := c.GetMaxIterations(); it < 1 {
		return invalid("max_iterations must be at least 1, got %d", it)
	}

	if w := c.GetWorkers(); w < 1 {
		return invalid("workers must be at least 1, got %d", w)
	}

	return nil
}

// GetDetectionEpsilon returns the detection_epsilon value or the default.
func (c *SquareConfig) GetDetectionEpsilon() float64 {
	if c.DetectionEpsilon == nil {
		return DefaultDetectionEpsilon
	}
	return *c.DetectionEpsilon
}

// GetDetectionDegreeThreshold returns the detection_degree_threshold value or the default.
func (c *SquareConfig) GetDetectionDegreeThreshold() float64 {
	if c.DetectionDegreeThreshold == nil {
		return DefaultDetectionDegreeThreshold
	}
	return *c.DetectionDegreeThreshold
}

// GetAutoFixDegreeThreshold returns the autofix_degree_threshold value or the default.
func (c *SquareConfig) GetAutoFixDegreeThreshold() float64 {
	if c.AutoFixDegreeThreshold == nil {
		return DefaultAutoFixDegreeThreshold
	}
	return *c.AutoFixDegreeThreshold
}

// GetNodeThreshold returns the node_threshold value or the default.
func (c *SquareConfig) GetNodeThreshold() int {
	if c.NodeThreshold == nil {
		return DefaultNodeThreshold
	}
	return *c.NodeThreshold
}

// GetCorrectionTolerance returns the correction_tolerance value or the default.
func (c *SquareConfig) GetCorrectionTolerance() float64 {
	if c.CorrectionTolerance == nil {
		return DefaultCorrectionTolerance
	}
	return *c.CorrectionTolerance
}

// GetCorrectionDegreeThreshold returns the correction_degree_threshold value or the default.
func (c *SquareConfig) GetCorrectionDegreeThreshold() float64 {
	if c.CorrectionDegreeThreshold == nil {
		return DefaultCorrectionDegreeThreshold
	}
	return *c.CorrectionDegreeThreshold
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *SquareConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return DefaultMaxIterations
	}
	return *c.MaxIterations
}

// GetWorkers returns the workers value or the default.
func (c *SquareConfig) GetWorkers() int {
	if c.Workers == nil {
		return DefaultWorkers
	}
	return *c.Workers
}
