package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/repo"
)

const pipelineColumns = `pipeline_id, project_id, name, description, status, dataset, config,
	run_handle, metrics, failure_reason, created_by, created_at, updated_at, version`

type PipelineStore struct {
	db DB
}

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

func (s *PipelineStore) Create(ctx context.Context, pipeline domain.Pipeline) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	if err := pipeline.Validate(); err != nil {
		return err
	}
	datasetJSON, err := encodeDataset(pipeline.Dataset)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	configJSON, err := encodeConfig(pipeline.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	metricsJSON, err := encodeMetrics(pipeline.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	createdAt := normalizeTime(pipeline.CreatedAt)
	updatedAt := normalizeTime(pipeline.UpdatedAt)

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO pipelines (
			pipeline_id,
			project_id,
			name,
			description,
			status,
			dataset,
			config,
			run_handle,
			metrics,
			failure_reason,
			created_by,
			created_at,
			updated_at,
			version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		strings.TrimSpace(pipeline.ID),
		strings.TrimSpace(pipeline.ProjectID),
		strings.TrimSpace(pipeline.Name),
		strings.TrimSpace(pipeline.Description),
		strings.TrimSpace(pipeline.Status),
		datasetJSON,
		configJSON,
		nullIfEmpty(pipeline.RunHandle),
		metricsJSON,
		nullIfEmpty(pipeline.FailureReason),
		strings.TrimSpace(pipeline.CreatedBy),
		createdAt,
		updatedAt,
		int64(1),
	)
	return handleInsert(err, "pipeline")
}

func (s *PipelineStore) Get(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Pipeline{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline id is required")
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+pipelineColumns+`
		 FROM pipelines
		 WHERE project_id = $1 AND pipeline_id = $2`,
		projectID,
		id,
	)
	pipeline, err := scanPipeline(row.Scan)
	if err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	return pipeline, nil
}

func (s *PipelineStore) List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.query(ctx, query, args...)
}

func (s *PipelineStore) ListByStatus(ctx context.Context, status string, limit int) ([]domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, fmt.Errorf("status is required")
	}

	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE status = $1 ORDER BY updated_at ASC`
	args := []any{status}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, query, args...)
}

// Put replaces the stored pipeline when its version still equals
// expectedVersion, bumping the version by one. A vanished row maps to
// ErrNotFound; a concurrent write maps to ErrVersionConflict.
func (s *PipelineStore) Put(ctx context.Context, pipeline domain.Pipeline, expectedVersion int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	if err := pipeline.Validate(); err != nil {
		return err
	}
	if expectedVersion < 1 {
		return fmt.Errorf("expected version must be >= 1")
	}
	datasetJSON, err := encodeDataset(pipeline.Dataset)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	configJSON, err := encodeConfig(pipeline.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	metricsJSON, err := encodeMetrics(pipeline.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipelines SET
			name = $1,
			description = $2,
			status = $3,
			dataset = $4,
			config = $5,
			run_handle = $6,
			metrics = $7,
			failure_reason = $8,
			updated_at = $9,
			version = version + 1
		 WHERE project_id = $10 AND pipeline_id = $11 AND version = $12`,
		strings.TrimSpace(pipeline.Name),
		strings.TrimSpace(pipeline.Description),
		strings.TrimSpace(pipeline.Status),
		datasetJSON,
		configJSON,
		nullIfEmpty(pipeline.RunHandle),
		metricsJSON,
		nullIfEmpty(pipeline.FailureReason),
		normalizeTime(pipeline.UpdatedAt),
		strings.TrimSpace(pipeline.ProjectID),
		strings.TrimSpace(pipeline.ID),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM pipelines WHERE project_id = $1 AND pipeline_id = $2)`,
		strings.TrimSpace(pipeline.ProjectID),
		strings.TrimSpace(pipeline.ID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update pipeline: %w", err)
	}
	if !exists {
		return repo.ErrNotFound
	}
	return repo.ErrVersionConflict
}

func (s *PipelineStore) query(ctx context.Context, query string, args ...any) ([]domain.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]domain.Pipeline, 0)
	for rows.Next() {
		pipeline, err := scanPipeline(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, pipeline)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return pipelines, nil
}

func scanPipeline(scan func(dest ...any) error) (domain.Pipeline, error) {
	var (
		pipeline      domain.Pipeline
		datasetJSON   []byte
		configJSON    []byte
		metricsJSON   []byte
		runHandle     sql.NullString
		failureReason sql.NullString
	)
	if err := scan(
		&pipeline.ID, &pipeline.ProjectID, &pipeline.Name, &pipeline.Description, &pipeline.Status,
		&datasetJSON, &configJSON, &runHandle, &metricsJSON, &failureReason,
		&pipeline.CreatedBy, &pipeline.CreatedAt, &pipeline.UpdatedAt, &pipeline.Version,
	); err != nil {
		return domain.Pipeline{}, err
	}
	if runHandle.Valid {
		pipeline.RunHandle = runHandle.String
	}
	if failureReason.Valid {
		pipeline.FailureReason = failureReason.String
	}
	dataset, err := decodeDataset(datasetJSON)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode dataset: %w", err)
	}
	config, err := decodeConfig(configJSON)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	metrics, err := decodeMetrics(metricsJSON)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode metrics: %w", err)
	}
	pipeline.Dataset = dataset
	pipeline.Config = config
	pipeline.Metrics = metrics
	return pipeline, nil
}
