package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/platform/env"
)

const (
	StatePending   = "pending"
	StateTraining  = "training"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// ErrRejected means the backend refused the job; the caller's record must
// stay untouched. ErrUnavailable means the backend could not be reached and
// the attempt may be retried.
var (
	ErrRejected    = errors.New("training backend rejected the job")
	ErrUnavailable = errors.New("training backend unavailable")
)

type SubmitRequest struct {
	PipelineID string
	ProjectID  string
	Dataset    domain.DatasetRef
	Config     domain.TrainingConfig
}

// Status is one observation of a submitted job.
type Status struct {
	State         string
	Metrics       *domain.Metrics
	FailureReason string
}

// Backend submits training jobs and reports their progress.
type Backend interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, runHandle string) (Status, error)
}

type Config struct {
	URL     string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("TRAINER_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:     env.String("TRAINER_URL", "http://localhost:9700"),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("TRAINER_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("TRAINER_TIMEOUT must be positive")
	}
	return nil
}

// HTTPBackend talks to the training backend's job API.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(cfg Config) (*HTTPBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type submitBody struct {
	PipelineID string        `json:"pipelineId"`
	ProjectID  string        `json:"projectId"`
	Dataset    datasetBody   `json:"dataset"`
	Config     trainingBody  `json:"config"`
}

type datasetBody struct {
	ObjectKey string `json:"objectKey"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"sizeBytes"`
	RowCount  int64  `json:"rowCount"`
}

type trainingBody struct {
	ModelType       string  `json:"modelType"`
	LearningRate    float64 `json:"learningRate"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batchSize"`
	Optimizer       string  `json:"optimizer"`
	ValidationSplit float64 `json:"validationSplit"`
}

type metricsBody struct {
	Accuracy           float64 `json:"accuracy"`
	Loss               float64 `json:"loss"`
	ValidationAccuracy float64 `json:"validationAccuracy"`
	ValidationLoss     float64 `json:"validationLoss"`
}

func (b *HTTPBackend) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.PipelineID) == "" {
		return "", errors.New("pipeline id is required")
	}
	payload, err := json.Marshal(submitBody{
		PipelineID: req.PipelineID,
		ProjectID:  req.ProjectID,
		Dataset: datasetBody{
			ObjectKey: req.Dataset.ObjectKey,
			SHA256:    req.Dataset.SHA256,
			SizeBytes: req.Dataset.SizeBytes,
			RowCount:  req.Dataset.RowCount,
		},
		Config: trainingBody{
			ModelType:       req.Config.ModelType,
			LearningRate:    req.Config.LearningRate,
			Epochs:          req.Config.Epochs,
			BatchSize:       req.Config.BatchSize,
			Optimizer:       req.Config.Optimizer,
			ValidationSplit: req.Config.ValidationSplit,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRejected, err)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return "", fmt.Errorf("%w: response missing jobId", ErrRejected)
	}
	return strings.TrimSpace(out.JobID), nil
}

func (b *HTTPBackend) Status(ctx context.Context, runHandle string) (Status, error) {
	runHandle = strings.TrimSpace(runHandle)
	if runHandle == "" {
		return Status{}, errors.New("run handle is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/jobs/"+runHandle, nil)
	if err != nil {
		return Status{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		drain(resp.Body)
		return Status{}, fmt.Errorf("%w: job %s not found", ErrRejected, runHandle)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return Status{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Status  string       `json:"status"`
		Metrics *metricsBody `json:"metrics"`
		Error   string       `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Status{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	state := strings.ToLower(strings.TrimSpace(out.Status))
	switch state {
	case StatePending, StateTraining, StateCompleted, StateFailed:
	default:
		return Status{}, fmt.Errorf("%w: unknown job status %q", ErrUnavailable, out.Status)
	}

	status := Status{State: state, FailureReason: strings.TrimSpace(out.Error)}
	if out.Metrics != nil {
		status.Metrics = &domain.Metrics{
			Accuracy:           out.Metrics.Accuracy,
			Loss:               out.Metrics.Loss,
			ValidationAccuracy: out.Metrics.ValidationAccuracy,
			ValidationLoss:     out.Metrics.ValidationLoss,
		}
	}
	return status, nil
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<16))
}
