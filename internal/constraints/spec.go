package constraints

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/platform/env"
)

const SpecSchemaV1 = "training.constraints.v1"

// Spec bounds the training configurations the platform accepts. Operators can
// tighten the defaults by pointing TRAINING_CONSTRAINTS_PATH at a YAML file.
type Spec struct {
	Schema          string   `json:"schema" yaml:"schema"`
	ModelTypes      []string `json:"model_types" yaml:"model_types"`
	Optimizers      []string `json:"optimizers" yaml:"optimizers"`
	MaxLearningRate float64  `json:"max_learning_rate" yaml:"max_learning_rate"`
	MaxEpochs       int      `json:"max_epochs" yaml:"max_epochs"`
	MaxBatchSize    int      `json:"max_batch_size" yaml:"max_batch_size"`
}

// Violation names one rejected configuration field.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func Default() Spec {
	return Spec{
		Schema:          SpecSchemaV1,
		ModelTypes:      []string{"resnet", "vgg", "efficientnet", "yolo"},
		Optimizers:      []string{"adam", "sgd", "rmsprop"},
		MaxLearningRate: 1.0,
		MaxEpochs:       1000,
		MaxBatchSize:    4096,
	}
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// LoadFromEnv returns the spec at TRAINING_CONSTRAINTS_PATH, or the built-in
// defaults when the variable is unset.
func LoadFromEnv() (Spec, error) {
	path := strings.TrimSpace(env.String("TRAINING_CONSTRAINTS_PATH", ""))
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read constraints: %w", err)
	}
	return ParseSpec(raw)
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if len(trimLowerNonEmpty(s.ModelTypes)) == 0 {
		return errors.New("spec.model_types must be non-empty")
	}
	if len(trimLowerNonEmpty(s.Optimizers)) == 0 {
		return errors.New("spec.optimizers must be non-empty")
	}
	if s.MaxLearningRate <= 0 {
		return errors.New("spec.max_learning_rate must be positive")
	}
	if s.MaxEpochs < 1 {
		return errors.New("spec.max_epochs must be >= 1")
	}
	if s.MaxBatchSize < 1 {
		return errors.New("spec.max_batch_size must be >= 1")
	}
	return nil
}

// ValidateConfig checks cfg against the spec. It returns the normalized
// configuration (trimmed, lower-cased enum fields) and every violation found;
// an empty violation slice means the normalized configuration is acceptable.
func (s Spec) ValidateConfig(cfg domain.TrainingConfig) (domain.TrainingConfig, []Violation) {
	normalized := cfg
	normalized.ModelType = strings.ToLower(strings.TrimSpace(cfg.ModelType))
	normalized.Optimizer = strings.ToLower(strings.TrimSpace(cfg.Optimizer))

	var violations []Violation

	if normalized.ModelType == "" {
		violations = append(violations, Violation{Field: "modelType", Reason: "is required"})
	} else if !contains(trimLowerNonEmpty(s.ModelTypes), normalized.ModelType) {
		violations = append(violations, Violation{
			Field:  "modelType",
			Reason: fmt.Sprintf("must be one of: %s", strings.Join(trimLowerNonEmpty(s.ModelTypes), ", ")),
		})
	}

	if normalized.Optimizer == "" {
		violations = append(violations, Violation{Field: "optimizer", Reason: "is required"})
	} else if !contains(trimLowerNonEmpty(s.Optimizers), normalized.Optimizer) {
		violations = append(violations, Violation{
			Field:  "optimizer",
			Reason: fmt.Sprintf("must be one of: %s", strings.Join(trimLowerNonEmpty(s.Optimizers), ", ")),
		})
	}

	if normalized.LearningRate <= 0 {
		violations = append(violations, Violation{Field: "learningRate", Reason: "must be positive"})
	} else if normalized.LearningRate > s.MaxLearningRate {
		violations = append(violations, Violation{
			Field:  "learningRate",
			Reason: fmt.Sprintf("must be <= %g", s.MaxLearningRate),
		})
	}

	if normalized.Epochs < 1 {
		violations = append(violations, Violation{Field: "epochs", Reason: "must be >= 1"})
	} else if normalized.Epochs > s.MaxEpochs {
		violations = append(violations, Violation{
			Field:  "epochs",
			Reason: fmt.Sprintf("must be <= %d", s.MaxEpochs),
		})
	}

	if normalized.BatchSize < 1 {
		violations = append(violations, Violation{Field: "batchSize", Reason: "must be >= 1"})
	} else if normalized.BatchSize > s.MaxBatchSize {
		violations = append(violations, Violation{
			Field:  "batchSize",
			Reason: fmt.Sprintf("must be <= %d", s.MaxBatchSize),
		})
	}

	if normalized.ValidationSplit < 0 || normalized.ValidationSplit >= 1 {
		violations = append(violations, Violation{Field: "validationSplit", Reason: "must be in [0, 1)"})
	}

	return normalized, violations
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func trimLowerNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, item := range values {
		v := strings.ToLower(strings.TrimSpace(item))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
