// Package scoring defines the optional anomaly/effectiveness scoring
// capability consulted by the response analyzer, plus a file-backed linear
// model that implements it.
//
// The capability operates on a two-element feature vector:
//
//	[status_code, body_word_count_changed (0 or 1)]
//
// A missing or failing capability is a normal configuration state; callers
// downgrade its answers to "unknown" instead of failing.
package scoring

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FeatureCount is the length of every feature vector.
const FeatureCount = 2

// Sentinel errors for scoring failure modes.
// Callers should use errors.Is() to check for these.
var (
	// ErrModelNotFound indicates the model file does not exist.
	ErrModelNotFound = errors.New("scoring: model not found")

	// ErrInvalidModel indicates the model file could not be parsed or
	// its predictors are malformed.
	ErrInvalidModel = errors.New("scoring: invalid model")

	// ErrFeatureMismatch indicates a feature vector of the wrong length.
	ErrFeatureMismatch = errors.New("scoring: feature vector length mismatch")

	// ErrPanic indicates the underlying capability panicked.
	ErrPanic = errors.New("scoring: capability panicked")
)

// Capability is a pretrained predictor pair.
type Capability interface {
	// IsAnomalous reports whether the response looks anomalous.
	IsAnomalous(features []float64) (bool, error)
	// IsEffective reports whether the payload looks effective.
	IsEffective(features []float64) (bool, error)
}

// Features builds the feature vector for a response.
func Features(status int, bodyChanged bool) []float64 {
	changed := 0.0
	if bodyChanged {
		changed = 1.0
	}
	return []float64{float64(status), changed}
}

// Predictor is a single linear decision function: it fires when
// dot(weights, features) + bias exceeds threshold.
type Predictor struct {
	Weights   []float64 `yaml:"weights"`
	Bias      float64   `yaml:"bias"`
	Threshold float64   `yaml:"threshold"`
}

// Predict evaluates the decision function.
func (p Predictor) Predict(features []float64) (bool, error) {
	if len(features) != len(p.Weights) {
		return false, fmt.Errorf("%w: got %d, want %d", ErrFeatureMismatch, len(features), len(p.Weights))
	}
	sum := p.Bias
	for i, w := range p.Weights {
		sum += w * features[i]
	}
	return sum > p.Threshold, nil
}

// LinearModel pairs an anomaly predictor with an effectiveness predictor.
type LinearModel struct {
	Version   string    `yaml:"version"`
	Anomaly   Predictor `yaml:"anomaly"`
	Effective Predictor `yaml:"effective"`
}

// Compile-time interface check.
var _ Capability = (*LinearModel)(nil)

// IsAnomalous implements Capability.
func (m *LinearModel) IsAnomalous(features []float64) (bool, error) {
	return m.Anomaly.Predict(features)
}

// IsEffective implements Capability.
func (m *LinearModel) IsEffective(features []float64) (bool, error) {
	return m.Effective.Predict(features)
}

// Load reads a model file.
// Returns ErrModelNotFound if the file doesn't exist.
// Returns ErrInvalidModel if the file is malformed.
func Load(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	return Parse(data)
}

// Parse parses model YAML data.
func Parse(data []byte) (*LinearModel, error) {
	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if len(m.Anomaly.Weights) != FeatureCount {
		return nil, fmt.Errorf("%w: anomaly predictor needs %d weights", ErrInvalidModel, FeatureCount)
	}
	if len(m.Effective.Weights) != FeatureCount {
		return nil, fmt.Errorf("%w: effective predictor needs %d weights", ErrInvalidModel, FeatureCount)
	}
	return &m, nil
}

// Funcs adapts plain functions to Capability.
type Funcs struct {
	Anomalous func(features []float64) (bool, error)
	Effective func(features []float64) (bool, error)
}

// IsAnomalous implements Capability.
func (f Funcs) IsAnomalous(features []float64) (bool, error) {
	if f.Anomalous == nil {
		return false, ErrModelNotFound
	}
	return f.Anomalous(features)
}

// IsEffective implements Capability.
func (f Funcs) IsEffective(features []float64) (bool, error) {
	if f.Effective == nil {
		return false, ErrModelNotFound
	}
	return f.Effective(features)
}

// Safe wraps c so that a panic inside either predictor surfaces as ErrPanic.
// Safe(nil) returns nil.
func Safe(c Capability) Capability {
	if c == nil {
		return nil
	}
	if _, ok := c.(safeCapability); ok {
		return c
	}
	return safeCapability{inner: c}
}

type safeCapability struct {
	inner Capability
}

func (s safeCapability) IsAnomalous(features []float64) (ok bool, err error) {
	defer recoverInto(&err)
	return s.inner.IsAnomalous(features)
}

func (s safeCapability) IsEffective(features []float64) (ok bool, err error) {
	defer recoverInto(&err)
	return s.inner.IsEffective(features)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrPanic, r)
	}
}
