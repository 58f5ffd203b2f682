package pipelines

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexa-labs/cortexa-go/internal/constraints"
	"github.com/cortexa-labs/cortexa-go/internal/datasets"
	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/repo"
	"github.com/cortexa-labs/cortexa-go/internal/trainer"
)

// DatasetUploader is the slice of the dataset uploader the service needs.
type DatasetUploader interface {
	Upload(ctx context.Context, pipelineID string, filename string, contentType string, body io.Reader) (domain.DatasetRef, error)
	RemoveUploaded(ctx context.Context, objectKey string)
}

// Service drives pipelines through the lifecycle. Same-pipeline operations
// are serialized in-process by a keyed mutex; the repository's version CAS
// backstops writers in other processes.
type Service struct {
	logger    *slog.Logger
	pipelines repo.PipelineRepository
	projects  repo.ProjectRepository
	uploader  DatasetUploader
	backend   trainer.Backend
	spec      constraints.Spec
	locks     *keyedMutex
	now       func() time.Time
}

func New(logger *slog.Logger, pipelineRepo repo.PipelineRepository, projectRepo repo.ProjectRepository, uploader DatasetUploader, backend trainer.Backend, spec constraints.Spec) *Service {
	if pipelineRepo == nil || projectRepo == nil || uploader == nil || backend == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:    logger,
		pipelines: pipelineRepo,
		projects:  projectRepo,
		uploader:  uploader,
		backend:   backend,
		spec:      spec,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	ProjectID   string
	Name        string
	Description string
	Actor       string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Pipeline, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Pipeline{}, &ValidationError{Violations: []constraints.Violation{{Field: "name", Reason: "is required"}}}
	}
	if _, err := s.projects.Get(ctx, in.ProjectID); err != nil {
		return domain.Pipeline{}, err
	}

	now := s.now()
	pipeline := domain.Pipeline{
		ID:          uuid.NewString(),
		ProjectID:   strings.TrimSpace(in.ProjectID),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Status:      domain.StatusCreated,
		CreatedBy:   strings.TrimSpace(in.Actor),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := s.pipelines.Create(ctx, pipeline); err != nil {
		return domain.Pipeline{}, err
	}
	return pipeline, nil
}

func (s *Service) Get(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	return s.pipelines.Get(ctx, projectID, id)
}

func (s *Service) List(ctx context.Context, projectID string) ([]domain.Pipeline, error) {
	return s.pipelines.List(ctx, repo.PipelineFilter{ProjectID: projectID})
}

type UploadInput struct {
	ProjectID   string
	PipelineID  string
	Filename    string
	ContentType string
	Body        io.Reader
	Actor       string
}

// Upload streams a dataset into object storage and moves the pipeline to
// data_uploaded. A pipeline that has not yet been configured may replace its
// dataset; later statuses reject the upload and write nothing.
func (s *Service) Upload(ctx context.Context, in UploadInput) (domain.Pipeline, error) {
	unlock := s.locks.lock(lockKey(in.ProjectID, in.PipelineID))
	defer unlock()

	pipeline, err := s.pipelines.Get(ctx, in.ProjectID, in.PipelineID)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if pipeline.Status != domain.StatusCreated && pipeline.Status != domain.StatusDataUploaded {
		return domain.Pipeline{}, &InvalidTransitionError{PipelineID: pipeline.ID, From: pipeline.Status, Op: "upload"}
	}

	ref, err := s.uploader.Upload(ctx, pipeline.ID, in.Filename, in.ContentType, in.Body)
	if err != nil {
		switch {
		case errors.Is(err, datasets.ErrNotCSV):
			return domain.Pipeline{}, &ValidationError{Violations: []constraints.Violation{{Field: "file", Reason: "must be a CSV file"}}}
		case errors.Is(err, datasets.ErrTooLarge):
			return domain.Pipeline{}, &ValidationError{Violations: []constraints.Violation{{Field: "file", Reason: "exceeds the size limit"}}}
		case errors.Is(err, datasets.ErrEmpty):
			return domain.Pipeline{}, &ValidationError{Violations: []constraints.Violation{{Field: "file", Reason: "is empty"}}}
		default:
			return domain.Pipeline{}, err
		}
	}

	previous := pipeline.Dataset
	fromStatus := pipeline.Status
	pipeline.Dataset = &ref
	pipeline.Status = domain.StatusDataUploaded
	pipeline.UpdatedAt = s.now()

	if err := s.pipelines.Put(ctx, pipeline, pipeline.Version); err != nil {
		s.uploader.RemoveUploaded(ctx, ref.ObjectKey)
		if errors.Is(err, repo.ErrVersionConflict) {
			return domain.Pipeline{}, &InvalidTransitionError{PipelineID: pipeline.ID, From: fromStatus, Op: "upload"}
		}
		return domain.Pipeline{}, err
	}
	pipeline.Version++

	if previous != nil && previous.ObjectKey != ref.ObjectKey {
		s.uploader.RemoveUploaded(ctx, previous.ObjectKey)
	}
	return pipeline, nil
}

type ConfigureInput struct {
	ProjectID   string
	PipelineID  string
	Name        string
	Description *string
	Config      domain.TrainingConfig
	Actor       string
}

// Configure validates the training configuration against the constraints
// spec and moves the pipeline to configured. All violations are reported in
// one response.
func (s *Service) Configure(ctx context.Context, in ConfigureInput) (domain.Pipeline, error) {
	unlock := s.locks.lock(lockKey(in.ProjectID, in.PipelineID))
	defer unlock()

	pipeline, err := s.pipelines.Get(ctx, in.ProjectID, in.PipelineID)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if pipeline.Status != domain.StatusDataUploaded && pipeline.Status != domain.StatusConfigured {
		return domain.Pipeline{}, &InvalidTransitionError{PipelineID: pipeline.ID, From: pipeline.Status, Op: "configure"}
	}

	normalized, violations := s.spec.ValidateConfig(in.Config)
	if len(violations) > 0 {
		return domain.Pipeline{}, &ValidationError{Violations: violations}
	}

	if strings.TrimSpace(in.Name) != "" {
		pipeline.Name = strings.TrimSpace(in.Name)
	}
	if in.Description != nil {
		pipeline.Description = strings.TrimSpace(*in.Description)
	}
	fromStatus := pipeline.Status
	pipeline.Config = &normalized
	pipeline.Status = domain.StatusConfigured
	pipeline.UpdatedAt = s.now()

	if err := s.pipelines.Put(ctx, pipeline, pipeline.Version); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return domain.Pipeline{}, &InvalidTransitionError{PipelineID: pipeline.ID, From: fromStatus, Op: "configure"}
		}
		return domain.Pipeline{}, err
	}
	pipeline.Version++
	return pipeline, nil
}

type StartInput struct {
	ProjectID  string
	PipelineID string
	Actor      string
}

// Start submits the training job and commits the run handle only after the
// backend accepted it, so a failed dispatch leaves the pipeline in
// configured and a retry is a fresh attempt.
func (s *Service) Start(ctx context.Context, in StartInput) (domain.Pipeline, error) {
	unlock := s.locks.lock(lockKey(in.ProjectID, in.PipelineID))
	defer unlock()

	pipeline, err := s.pipelines.Get(ctx, in.ProjectID, in.PipelineID)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if pipeline.Status != domain.StatusConfigured {
		return domain.Pipeline{}, &InvalidTransitionError{PipelineID: pipeline.ID, From: pipeline.Status, Op: "start"}
	}

	handle, err := s.backend.Submit(ctx, trainer.SubmitRequest{
		PipelineID: pipeline.ID,
		ProjectID:  pipeline.ProjectID,
		Dataset:    *pipeline.Dataset,
		Config:     *pipeline.Config,
	})
	if err != nil {
		return domain.Pipeline{}, &DispatchError{Err: err}
	}

	fromStatus := pipeline.Status
	pipeline.RunHandle = handle
	pipeline.Status = domain.StatusTraining
	pipeline.UpdatedAt = s.now()

	if err := s.pipelines.Put(ctx, pipeline, pipeline.Version); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			s.logger.Warn("start lost version race after submit",
				"pipeline_id", pipeline.ID, "run_handle", handle)
			return domain.Pipeline{}, &InvalidTransitionError{PipelineID: pipeline.ID, From: fromStatus, Op: "start"}
		}
		return domain.Pipeline{}, err
	}
	pipeline.Version++
	return pipeline, nil
}

// Reconcile folds one backend observation into the record. Pipelines already
// out of training are left untouched, so repeated terminal observations are
// no-ops. The returned bool reports whether anything was written.
func (s *Service) Reconcile(ctx context.Context, projectID, pipelineID string, obs trainer.Status) (domain.Pipeline, bool, error) {
	unlock := s.locks.lock(lockKey(projectID, pipelineID))
	defer unlock()

	pipeline, err := s.pipelines.Get(ctx, projectID, pipelineID)
	if err != nil {
		return domain.Pipeline{}, false, err
	}
	if pipeline.Status != domain.StatusTraining {
		return pipeline, false, nil
	}

	switch obs.State {
	case trainer.StatePending:
		return pipeline, false, nil
	case trainer.StateTraining:
		if obs.Metrics == nil {
			return pipeline, false, nil
		}
		pipeline.Metrics = obs.Metrics
	case trainer.StateCompleted:
		pipeline.Status = domain.StatusCompleted
		if obs.Metrics != nil {
			pipeline.Metrics = obs.Metrics
		}
	case trainer.StateFailed:
		pipeline.Status = domain.StatusFailed
		pipeline.FailureReason = strings.TrimSpace(obs.FailureReason)
		if pipeline.FailureReason == "" {
			pipeline.FailureReason = "training failed"
		}
		if obs.Metrics != nil {
			pipeline.Metrics = obs.Metrics
		}
	default:
		return pipeline, false, nil
	}

	pipeline.UpdatedAt = s.now()
	if err := s.pipelines.Put(ctx, pipeline, pipeline.Version); err != nil {
		return domain.Pipeline{}, false, err
	}
	pipeline.Version++
	return pipeline, true, nil
}

func lockKey(projectID, pipelineID string) string {
	return strings.TrimSpace(projectID) + "/" + strings.TrimSpace(pipelineID)
}
