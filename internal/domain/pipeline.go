package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusCreated      = "created"
	StatusDataUploaded = "data_uploaded"
	StatusConfigured   = "configured"
	StatusTraining     = "training"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// transitions is the only legal movement through the pipeline lifecycle.
// Terminal statuses have no outgoing edges.
var transitions = map[string][]string{
	StatusCreated:      {StatusDataUploaded},
	StatusDataUploaded: {StatusDataUploaded, StatusConfigured},
	StatusConfigured:   {StatusConfigured, StatusTraining},
	StatusTraining:     {StatusTraining, StatusCompleted, StatusFailed},
	StatusCompleted:    {},
	StatusFailed:       {},
}

// Pipeline is one training pipeline moving through the lifecycle.
type Pipeline struct {
	ID            string
	ProjectID     string
	Name          string
	Description   string
	Status        string
	Dataset       *DatasetRef
	Config        *TrainingConfig
	RunHandle     string
	Metrics       *Metrics
	FailureReason string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Version counts committed writes; the repository uses it for
	// compare-and-swap updates.
	Version int64
}

// DatasetRef points at an uploaded training dataset in object storage.
type DatasetRef struct {
	ObjectKey  string
	Filename   string
	SHA256     string
	SizeBytes  int64
	RowCount   int64
	UploadedAt time.Time
}

// TrainingConfig is the user-chosen training configuration.
type TrainingConfig struct {
	ModelType       string
	LearningRate    float64
	Epochs          int
	BatchSize       int
	Optimizer       string
	ValidationSplit float64
}

// Metrics is the latest training progress reported by the backend.
type Metrics struct {
	Accuracy           float64
	Loss               float64
	ValidationAccuracy float64
	ValidationLoss     float64
}

func ValidStatus(status string) bool {
	_, ok := transitions[status]
	return ok
}

func IsTerminal(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

// CanTransition reports whether a pipeline in status from may move to status
// to. Self-transitions are allowed only where the lifecycle re-enters a state
// (dataset replacement, reconfiguration, progress updates while training).
func CanTransition(from string, to string) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if !ValidStatus(p.Status) {
		return errors.New("status is invalid")
	}
	if p.Status == StatusFailed && strings.TrimSpace(p.FailureReason) == "" {
		return errors.New("failure reason is required for failed pipelines")
	}
	if p.Status != StatusFailed && strings.TrimSpace(p.FailureReason) != "" {
		return errors.New("failure reason is only allowed on failed pipelines")
	}
	switch p.Status {
	case StatusDataUploaded, StatusConfigured, StatusTraining, StatusCompleted:
		if p.Dataset == nil {
			return errors.New("dataset is required for status " + p.Status)
		}
	}
	switch p.Status {
	case StatusConfigured, StatusTraining, StatusCompleted:
		if p.Config == nil {
			return errors.New("configuration is required for status " + p.Status)
		}
	}
	switch p.Status {
	case StatusTraining, StatusCompleted:
		if strings.TrimSpace(p.RunHandle) == "" {
			return errors.New("run handle is required for status " + p.Status)
		}
	}
	return nil
}

func (d DatasetRef) Validate() error {
	if strings.TrimSpace(d.ObjectKey) == "" {
		return errors.New("object key is required")
	}
	if strings.TrimSpace(d.SHA256) == "" {
		return errors.New("sha256 is required")
	}
	if d.SizeBytes <= 0 {
		return errors.New("size must be positive")
	}
	if d.RowCount < 0 {
		return errors.New("row count must be non-negative")
	}
	return nil
}
