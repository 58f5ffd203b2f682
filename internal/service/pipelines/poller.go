package pipelines

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/platform/auditlog"
	"github.com/cortexa-labs/cortexa-go/internal/repo"
	"github.com/cortexa-labs/cortexa-go/internal/trainer"
)

// Poller walks pipelines stuck in training and reconciles each one against
// the backend. One pipeline's failure never blocks the rest of the batch.
type Poller struct {
	logger        *slog.Logger
	service       *Service
	pipelines     repo.PipelineRepository
	backend       trainer.Backend
	db            *sql.DB
	interval      time.Duration
	statusTimeout time.Duration
	batch         int
}

func StartPoller(ctx context.Context, logger *slog.Logger, service *Service, pipelineRepo repo.PipelineRepository, backend trainer.Backend, db *sql.DB, interval time.Duration) {
	if service == nil || pipelineRepo == nil || backend == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	p := &Poller{
		logger:        logger,
		service:       service,
		pipelines:     pipelineRepo,
		backend:       backend,
		db:            db,
		interval:      interval,
		statusTimeout: 10 * time.Second,
		batch:         50,
	}

	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	training, err := p.pipelines.ListByStatus(ctx, domain.StatusTraining, p.batch)
	if err != nil {
		p.log("list training pipelines failed", "error", err)
		return
	}

	for _, pipeline := range training {
		p.pollPipeline(ctx, pipeline)
	}
}

func (p *Poller) pollPipeline(ctx context.Context, pipeline domain.Pipeline) {
	statusCtx, cancel := context.WithTimeout(ctx, p.statusTimeout)
	obs, err := p.backend.Status(statusCtx, pipeline.RunHandle)
	cancel()
	if err != nil {
		if errors.Is(err, trainer.ErrRejected) {
			// The backend no longer knows the job; the run cannot finish.
			obs = trainer.Status{State: trainer.StateFailed, FailureReason: "training job no longer known to backend"}
		} else {
			p.log("backend status failed", "pipeline_id", pipeline.ID, "run_handle", pipeline.RunHandle, "error", err)
			return
		}
	}

	updated, changed, err := p.service.Reconcile(ctx, pipeline.ProjectID, pipeline.ID, obs)
	if err != nil {
		p.log("reconcile failed", "pipeline_id", pipeline.ID, "error", err)
		return
	}
	if !changed || !domain.IsTerminal(updated.Status) {
		return
	}

	p.auditTerminal(ctx, updated)
}

func (p *Poller) auditTerminal(ctx context.Context, pipeline domain.Pipeline) {
	if p.db == nil {
		return
	}
	_, err := auditlog.Insert(ctx, p.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        "system",
		Action:       "pipeline." + pipeline.Status,
		ResourceType: "pipeline",
		ResourceID:   pipeline.ID,
		Payload: map[string]any{
			"service":        "training",
			"project_id":     pipeline.ProjectID,
			"pipeline_id":    pipeline.ID,
			"status":         pipeline.Status,
			"run_handle":     pipeline.RunHandle,
			"failure_reason": pipeline.FailureReason,
		},
	})
	if err != nil {
		p.log("insert audit failed", "pipeline_id", pipeline.ID, "error", err)
	}
}

func (p *Poller) log(msg string, attrs ...any) {
	if p.logger == nil {
		return
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok || key != "error" {
			continue
		}
		if err, ok := attrs[i+1].(error); ok && errors.Is(err, context.Canceled) {
			return
		}
	}
	fields := []any{"component", "progress_poller"}
	fields = append(fields, attrs...)
	p.logger.Warn(msg, fields...)
}
