package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexa-labs/cortexa-go/internal/constraints"
	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/platform/auditlog"
	"github.com/cortexa-labs/cortexa-go/internal/platform/auth"
	"github.com/cortexa-labs/cortexa-go/internal/platform/lineageevent"
	"github.com/cortexa-labs/cortexa-go/internal/repo"
	"github.com/cortexa-labs/cortexa-go/internal/service/pipelines"
)

// Multipart boundaries and part headers add overhead beyond the file bytes,
// so the request body may legitimately exceed the dataset cap by a little.
const uploadFramingHeadroom = 1 << 20

type trainingAPI struct {
	logger         *slog.Logger
	db             *sql.DB
	svc            *pipelines.Service
	projects       repo.ProjectRepository
	uploadMaxBytes int64
}

func newTrainingAPI(logger *slog.Logger, db *sql.DB, svc *pipelines.Service, projects repo.ProjectRepository, uploadMaxBytes int64) *trainingAPI {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = int64(100) << 20 // 100 MiB
	}
	return &trainingAPI{
		logger:         logger,
		db:             db,
		svc:            svc,
		projects:       projects,
		uploadMaxBytes: uploadMaxBytes,
	}
}

func (api *trainingAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects", api.handleCreateProject)
	mux.HandleFunc("GET /projects", api.handleListProjects)
	mux.HandleFunc("GET /projects/{project_id}", api.handleGetProject)

	mux.HandleFunc("POST /projects/{project_id}/pipelines", api.handleCreatePipeline)
	mux.HandleFunc("GET /projects/{project_id}/pipelines", api.handleListPipelines)
	mux.HandleFunc("GET /projects/{project_id}/pipelines/{pipeline_id}", api.handleGetPipeline)
	mux.HandleFunc("PUT /projects/{project_id}/pipelines/{pipeline_id}", api.handleConfigurePipeline)
	mux.HandleFunc("POST /projects/{project_id}/pipelines/{pipeline_id}/upload", api.handleUploadDataset)
	mux.HandleFunc("POST /projects/{project_id}/pipelines/{pipeline_id}/start", api.handleStartPipeline)
}

type project struct {
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type datasetRef struct {
	ObjectKey  string    `json:"object_key"`
	Filename   string    `json:"filename"`
	SHA256     string    `json:"content_sha256"`
	SizeBytes  int64     `json:"size_bytes"`
	RowCount   int64     `json:"row_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Config and metrics field names match the submit payload the training
// backend consumes.
type trainingConfig struct {
	ModelType       string  `json:"modelType"`
	LearningRate    float64 `json:"learningRate"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batchSize"`
	Optimizer       string  `json:"optimizer"`
	ValidationSplit float64 `json:"validationSplit"`
}

type trainingMetrics struct {
	Accuracy           float64 `json:"accuracy"`
	Loss               float64 `json:"loss"`
	ValidationAccuracy float64 `json:"validationAccuracy"`
	ValidationLoss     float64 `json:"validationLoss"`
}

type pipelineRecord struct {
	PipelineID    string           `json:"pipeline_id"`
	ProjectID     string           `json:"project_id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Status        string           `json:"status"`
	Dataset       *datasetRef      `json:"dataset,omitempty"`
	Config        *trainingConfig  `json:"config,omitempty"`
	RunHandle     string           `json:"run_handle,omitempty"`
	Metrics       *trainingMetrics `json:"metrics,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CreatedBy     string           `json:"created_by"`
}

func toPipelineRecord(p domain.Pipeline) pipelineRecord {
	out := pipelineRecord{
		PipelineID:    p.ID,
		ProjectID:     p.ProjectID,
		Name:          p.Name,
		Description:   p.Description,
		Status:        p.Status,
		RunHandle:     p.RunHandle,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		CreatedBy:     p.CreatedBy,
	}
	if p.Dataset != nil {
		out.Dataset = &datasetRef{
			ObjectKey:  p.Dataset.ObjectKey,
			Filename:   p.Dataset.Filename,
			SHA256:     p.Dataset.SHA256,
			SizeBytes:  p.Dataset.SizeBytes,
			RowCount:   p.Dataset.RowCount,
			UploadedAt: p.Dataset.UploadedAt,
		}
	}
	if p.Config != nil {
		out.Config = &trainingConfig{
			ModelType:       p.Config.ModelType,
			LearningRate:    p.Config.LearningRate,
			Epochs:          p.Config.Epochs,
			BatchSize:       p.Config.BatchSize,
			Optimizer:       p.Config.Optimizer,
			ValidationSplit: p.Config.ValidationSplit,
		}
	}
	if p.Metrics != nil {
		out.Metrics = &trainingMetrics{
			Accuracy:           p.Metrics.Accuracy,
			Loss:               p.Metrics.Loss,
			ValidationAccuracy: p.Metrics.ValidationAccuracy,
			ValidationLoss:     p.Metrics.ValidationLoss,
		}
	}
	return out
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type createPipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type configurePipelineRequest struct {
	Name        string         `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Config      trainingConfig `json:"config"`
}

func (api *trainingAPI) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		api.writeError(w, r, http.StatusBadRequest, "name_required")
		return
	}

	now := time.Now().UTC()
	proj := domain.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CreatedBy:   identity.Subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := api.projects.Create(r.Context(), proj); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			api.writeError(w, r, http.StatusConflict, "project_name_exists")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	api.audit(r, identity, "project.create", "project", proj.ID, map[string]any{"name": proj.Name})

	w.Header().Set("Location", "/projects/"+proj.ID)
	api.writeJSON(w, http.StatusCreated, project{
		ProjectID:   proj.ID,
		Name:        proj.Name,
		Description: proj.Description,
		CreatedAt:   proj.CreatedAt,
		CreatedBy:   proj.CreatedBy,
	})
}

func (api *trainingAPI) handleListProjects(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)

	items, err := api.projects.List(r.Context(), repo.ProjectFilter{Limit: limit})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]project, 0, len(items))
	for _, item := range items {
		out = append(out, project{
			ProjectID:   item.ID,
			Name:        item.Name,
			Description: item.Description,
			CreatedAt:   item.CreatedAt,
			CreatedBy:   item.CreatedBy,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (api *trainingAPI) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	if projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}

	proj, err := api.projects.Get(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, project{
		ProjectID:   proj.ID,
		Name:        proj.Name,
		Description: proj.Description,
		CreatedAt:   proj.CreatedAt,
		CreatedBy:   proj.CreatedBy,
	})
}

// authorizeProject enforces project ownership: only the project's creator
// or an admin may act on its pipelines.
func (api *trainingAPI) authorizeProject(w http.ResponseWriter, r *http.Request, projectID string, identity auth.Identity) bool {
	proj, err := api.projects.Get(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return false
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return false
	}
	if proj.CreatedBy == identity.Subject || auth.HasAtLeast(identity.Roles, auth.RoleAdmin) {
		return true
	}
	api.writeError(w, r, http.StatusForbidden, "forbidden")
	return false
}

func (api *trainingAPI) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	if projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}
	if !api.authorizeProject(w, r, projectID, identity) {
		return
	}

	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		api.writeError(w, r, http.StatusBadRequest, "name_required")
		return
	}

	pipeline, err := api.svc.Create(r.Context(), pipelines.CreateInput{
		ProjectID:   projectID,
		Name:        req.Name,
		Description: req.Description,
		Actor:       identity.Subject,
	})
	if err != nil {
		api.writePipelineError(w, r, err, "create")
		return
	}

	api.audit(r, identity, "pipeline.create", "pipeline", pipeline.ID, map[string]any{
		"project_id": projectID,
		"name":       pipeline.Name,
	})

	w.Header().Set("Location", "/projects/"+projectID+"/pipelines/"+pipeline.ID)
	api.writeJSON(w, http.StatusCreated, toPipelineRecord(pipeline))
}

func (api *trainingAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	if projectID == "" {
		api.writeError(w, r, http.StatusBadRequest, "project_id_required")
		return
	}
	if !api.authorizeProject(w, r, projectID, identity) {
		return
	}

	items, err := api.svc.List(r.Context(), projectID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]pipelineRecord, 0, len(items))
	for _, item := range items {
		out = append(out, toPipelineRecord(item))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"pipelines": out})
}

func (api *trainingAPI) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	if projectID == "" || pipelineID == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_id_required")
		return
	}
	if !api.authorizeProject(w, r, projectID, identity) {
		return
	}

	pipeline, err := api.svc.Get(r.Context(), projectID, pipelineID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, toPipelineRecord(pipeline))
}

func (api *trainingAPI) handleConfigurePipeline(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	if projectID == "" || pipelineID == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_id_required")
		return
	}
	if !api.authorizeProject(w, r, projectID, identity) {
		return
	}

	var req configurePipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	pipeline, err := api.svc.Configure(r.Context(), pipelines.ConfigureInput{
		ProjectID:   projectID,
		PipelineID:  pipelineID,
		Name:        req.Name,
		Description: req.Description,
		Config: domain.TrainingConfig{
			ModelType:       req.Config.ModelType,
			LearningRate:    req.Config.LearningRate,
			Epochs:          req.Config.Epochs,
			BatchSize:       req.Config.BatchSize,
			Optimizer:       req.Config.Optimizer,
			ValidationSplit: req.Config.ValidationSplit,
		},
		Actor: identity.Subject,
	})
	if err != nil {
		api.writePipelineError(w, r, err, "configure")
		return
	}

	api.audit(r, identity, "pipeline.configure", "pipeline", pipeline.ID, map[string]any{
		"project_id": projectID,
		"model_type": pipeline.Config.ModelType,
		"optimizer":  pipeline.Config.Optimizer,
	})

	api.writeJSON(w, http.StatusOK, toPipelineRecord(pipeline))
}

func (api *trainingAPI) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	if projectID == "" || pipelineID == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_id_required")
		return
	}
	if !api.authorizeProject(w, r, projectID, identity) {
		return
	}

	if r.ContentLength > 0 && r.ContentLength > api.uploadMaxBytes+uploadFramingHeadroom {
		api.writeErrorWithDetails(w, r, http.StatusRequestEntityTooLarge, "upload_too_large", map[string]any{
			"max_bytes":      api.uploadMaxBytes,
			"content_length": r.ContentLength,
		})
		return
	}

	// The dataset cap itself is enforced by the uploader.
	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes+uploadFramingHeadroom)
	mr, err := r.MultipartReader()
	if err != nil {
		api.writeMultipartError(w, r, err)
		return
	}

	// Spool the file part and finish reading the whole request before the
	// upload commits, so a malformed stream (say, a second file part) fails
	// without mutating the record.
	var (
		spool       *os.File
		filename    string
		contentType string
	)
	defer func() {
		if spool != nil {
			_ = spool.Close()
			_ = os.Remove(spool.Name())
		}
	}()
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			api.writeMultipartError(w, r, err)
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		if spool != nil {
			_ = part.Close()
			api.writeError(w, r, http.StatusBadRequest, "multiple_files_not_supported")
			return
		}

		filename = part.FileName()
		contentType = part.Header.Get("Content-Type")
		spool, err = os.CreateTemp("", "cortexa-upload-*")
		if err != nil {
			_ = part.Close()
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		_, copyErr := io.Copy(spool, part)
		_ = part.Close()
		if copyErr != nil {
			api.writeMultipartError(w, r, copyErr)
			return
		}
	}

	if spool == nil {
		api.writeError(w, r, http.StatusBadRequest, "file_required")
		return
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	uploaded, err := api.svc.Upload(r.Context(), pipelines.UploadInput{
		ProjectID:   projectID,
		PipelineID:  pipelineID,
		Filename:    filename,
		ContentType: contentType,
		Body:        spool,
		Actor:       identity.Subject,
	})
	if err != nil {
		api.writePipelineError(w, r, err, "upload")
		return
	}

	api.audit(r, identity, "pipeline.upload", "pipeline", uploaded.ID, map[string]any{
		"project_id":     projectID,
		"object_key":     uploaded.Dataset.ObjectKey,
		"content_sha256": uploaded.Dataset.SHA256,
		"size_bytes":     uploaded.Dataset.SizeBytes,
		"row_count":      uploaded.Dataset.RowCount,
	})
	api.lineage(r, identity, uploaded.ID, "has_dataset", "dataset", uploaded.Dataset.ObjectKey, map[string]any{
		"content_sha256": uploaded.Dataset.SHA256,
		"size_bytes":     uploaded.Dataset.SizeBytes,
		"row_count":      uploaded.Dataset.RowCount,
	})

	api.writeJSON(w, http.StatusOK, toPipelineRecord(uploaded))
}

func (api *trainingAPI) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	projectID := strings.TrimSpace(r.PathValue("project_id"))
	pipelineID := strings.TrimSpace(r.PathValue("pipeline_id"))
	if projectID == "" || pipelineID == "" {
		api.writeError(w, r, http.StatusBadRequest, "pipeline_id_required")
		return
	}
	if !api.authorizeProject(w, r, projectID, identity) {
		return
	}

	pipeline, err := api.svc.Start(r.Context(), pipelines.StartInput{
		ProjectID:  projectID,
		PipelineID: pipelineID,
		Actor:      identity.Subject,
	})
	if err != nil {
		api.writePipelineError(w, r, err, "start")
		return
	}

	api.audit(r, identity, "pipeline.start", "pipeline", pipeline.ID, map[string]any{
		"project_id": projectID,
		"run_handle": pipeline.RunHandle,
	})
	api.lineage(r, identity, pipeline.ID, "has_run", "training_run", pipeline.RunHandle, map[string]any{
		"model_type": pipeline.Config.ModelType,
	})

	api.writeJSON(w, http.StatusAccepted, toPipelineRecord(pipeline))
}

// writePipelineError maps service errors onto the wire. Configure violations
// are the caller's input being rejected wholesale, so they get 422; upload
// violations describe the file and get 400.
func (api *trainingAPI) writePipelineError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var (
		transitionErr *pipelines.InvalidTransitionError
		validationErr *pipelines.ValidationError
		dispatchErr   *pipelines.DispatchError
	)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.As(err, &transitionErr):
		api.writeErrorWithDetails(w, r, http.StatusConflict, "invalid_transition", map[string]any{
			"status":    transitionErr.From,
			"operation": transitionErr.Op,
		})
	case errors.As(err, &validationErr):
		status := http.StatusUnprocessableEntity
		if op != "configure" {
			status = http.StatusBadRequest
		}
		api.writeViolations(w, r, status, validationErr.Violations)
	case errors.As(err, &dispatchErr):
		api.writeError(w, r, http.StatusBadGateway, "dispatch_failed")
	default:
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *trainingAPI) writeMultipartError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		api.writeErrorWithDetails(w, r, http.StatusRequestEntityTooLarge, "upload_too_large", map[string]any{
			"max_bytes": api.uploadMaxBytes,
		})
		return
	}
	api.writeError(w, r, http.StatusBadRequest, "invalid_multipart")
}

func (api *trainingAPI) audit(r *http.Request, identity auth.Identity, action, resourceType, resourceID string, payload map[string]any) {
	if api.db == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["service"] = "training"
	_, err := auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        identity.Subject,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil && api.logger != nil {
		api.logger.Warn("insert audit failed", "action", action, "error", err)
	}
}

func (api *trainingAPI) lineage(r *http.Request, identity auth.Identity, pipelineID, predicate, objectType, objectID string, metadata map[string]any) {
	if api.db == nil {
		return
	}
	_, err := lineageevent.Insert(r.Context(), api.db, lineageevent.Event{
		OccurredAt:  time.Now().UTC(),
		Actor:       identity.Subject,
		RequestID:   r.Header.Get("X-Request-Id"),
		SubjectType: "pipeline",
		SubjectID:   pipelineID,
		Predicate:   predicate,
		ObjectType:  objectType,
		ObjectID:    objectID,
		Metadata:    metadata,
	})
	if err != nil && api.logger != nil {
		api.logger.Warn("insert lineage failed", "predicate", predicate, "error", err)
	}
}

func (api *trainingAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *trainingAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func (api *trainingAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
		"details":    details,
	})
}

func (api *trainingAPI) writeViolations(w http.ResponseWriter, r *http.Request, status int, violations []constraints.Violation) {
	api.writeJSON(w, status, map[string]any{
		"error":      "validation_failed",
		"request_id": r.Header.Get("X-Request-Id"),
		"violations": violations,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
