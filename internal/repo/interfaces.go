package repo

import (
	"context"
	"errors"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

type PipelineFilter struct {
	ProjectID string
	Status    string
	Limit     int
}

type ProjectFilter struct {
	Name      string
	CreatedBy string
	Limit     int
}

// PipelineRepository persists pipelines with optimistic concurrency. Put
// commits only when the stored version still equals expectedVersion, so two
// racing writers cannot both win.
type PipelineRepository interface {
	Create(ctx context.Context, pipeline domain.Pipeline) error
	Get(ctx context.Context, projectID, id string) (domain.Pipeline, error)
	List(ctx context.Context, filter PipelineFilter) ([]domain.Pipeline, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]domain.Pipeline, error)
	Put(ctx context.Context, pipeline domain.Pipeline, expectedVersion int64) error
}

// ProjectRepository manages projects.
type ProjectRepository interface {
	Create(ctx context.Context, project domain.Project) error
	Get(ctx context.Context, id string) (domain.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]domain.Project, error)
}
