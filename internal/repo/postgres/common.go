package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func handleInsert(err error, what string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repo.ErrAlreadyExists
		case "23503":
			return fmt.Errorf("insert %s: %w", what, repo.ErrNotFound)
		}
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

type datasetDoc struct {
	ObjectKey  string    `json:"object_key"`
	Filename   string    `json:"filename,omitempty"`
	SHA256     string    `json:"sha256"`
	SizeBytes  int64     `json:"size_bytes"`
	RowCount   int64     `json:"row_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type configDoc struct {
	ModelType       string  `json:"model_type"`
	LearningRate    float64 `json:"learning_rate"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	Optimizer       string  `json:"optimizer"`
	ValidationSplit float64 `json:"validation_split"`
}

type metricsDoc struct {
	Accuracy           float64 `json:"accuracy"`
	Loss               float64 `json:"loss"`
	ValidationAccuracy float64 `json:"validation_accuracy"`
	ValidationLoss     float64 `json:"validation_loss"`
}

func encodeDataset(d *domain.DatasetRef) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(datasetDoc{
		ObjectKey:  d.ObjectKey,
		Filename:   d.Filename,
		SHA256:     d.SHA256,
		SizeBytes:  d.SizeBytes,
		RowCount:   d.RowCount,
		UploadedAt: d.UploadedAt.UTC(),
	})
}

func decodeDataset(raw []byte) (*domain.DatasetRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc datasetDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &domain.DatasetRef{
		ObjectKey:  doc.ObjectKey,
		Filename:   doc.Filename,
		SHA256:     doc.SHA256,
		SizeBytes:  doc.SizeBytes,
		RowCount:   doc.RowCount,
		UploadedAt: doc.UploadedAt,
	}, nil
}

func encodeConfig(c *domain.TrainingConfig) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(configDoc{
		ModelType:       c.ModelType,
		LearningRate:    c.LearningRate,
		Epochs:          c.Epochs,
		BatchSize:       c.BatchSize,
		Optimizer:       c.Optimizer,
		ValidationSplit: c.ValidationSplit,
	})
}

func decodeConfig(raw []byte) (*domain.TrainingConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc configDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &domain.TrainingConfig{
		ModelType:       doc.ModelType,
		LearningRate:    doc.LearningRate,
		Epochs:          doc.Epochs,
		BatchSize:       doc.BatchSize,
		Optimizer:       doc.Optimizer,
		ValidationSplit: doc.ValidationSplit,
	}, nil
}

func encodeMetrics(m *domain.Metrics) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(metricsDoc{
		Accuracy:           m.Accuracy,
		Loss:               m.Loss,
		ValidationAccuracy: m.ValidationAccuracy,
		ValidationLoss:     m.ValidationLoss,
	})
}

func decodeMetrics(raw []byte) (*domain.Metrics, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc metricsDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &domain.Metrics{
		Accuracy:           doc.Accuracy,
		Loss:               doc.Loss,
		ValidationAccuracy: doc.ValidationAccuracy,
		ValidationLoss:     doc.ValidationLoss,
	}, nil
}
