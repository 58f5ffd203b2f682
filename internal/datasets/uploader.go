package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/cortexa-labs/cortexa-go/internal/domain"
)

var (
	ErrNotCSV   = errors.New("dataset must be a CSV file")
	ErrTooLarge = errors.New("dataset exceeds size limit")
	ErrEmpty    = errors.New("dataset is empty")
)

// ObjectStore is the subset of the MinIO client the uploader needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Uploader streams pipeline datasets into object storage, computing the
// content SHA-256, byte size, and data row count in a single pass.
type Uploader struct {
	Store    ObjectStore
	Bucket   string
	MaxBytes int64
}

func NewUploader(store ObjectStore, bucket string, maxBytes int64) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if maxBytes <= 0 {
		return nil, errors.New("max bytes must be positive")
	}
	return &Uploader{Store: store, Bucket: bucket, MaxBytes: maxBytes}, nil
}

// Upload validates the declared content type, streams body into the datasets
// bucket under a key unique to this upload, and returns the resulting dataset
// reference. A rejected upload writes nothing; a mid-stream failure removes
// the partial object. RemoveUploaded compensates for failures committed after
// the object write.
func (u *Uploader) Upload(ctx context.Context, pipelineID string, filename string, contentType string, body io.Reader) (domain.DatasetRef, error) {
	pipelineID = strings.TrimSpace(pipelineID)
	if pipelineID == "" {
		return domain.DatasetRef{}, errors.New("pipeline id is required")
	}
	filename = sanitizeFilename(filename)
	if !IsCSV(filename, contentType) {
		return domain.DatasetRef{}, ErrNotCSV
	}

	uploadID := uuid.NewString()
	objectKey := fmt.Sprintf("pipelines/%s/%s/%s", pipelineID, uploadID, filename)

	hasher := sha256.New()
	counter := &countingWriter{}
	lines := &lineCounter{}
	capped := &cappedReader{r: body, remaining: u.MaxBytes}
	reader := io.TeeReader(capped, io.MultiWriter(hasher, counter, lines))

	uploadCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	_, err := u.Store.PutObject(uploadCtx, u.Bucket, objectKey, reader, -1, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		u.RemoveUploaded(ctx, objectKey)
		if errors.Is(err, ErrTooLarge) || capped.exceeded {
			return domain.DatasetRef{}, ErrTooLarge
		}
		return domain.DatasetRef{}, fmt.Errorf("put object: %w", err)
	}
	if counter.n == 0 {
		u.RemoveUploaded(ctx, objectKey)
		return domain.DatasetRef{}, ErrEmpty
	}

	return domain.DatasetRef{
		ObjectKey:  objectKey,
		Filename:   filename,
		SHA256:     hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes:  counter.n,
		RowCount:   lines.dataRows(),
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (u *Uploader) RemoveUploaded(ctx context.Context, objectKey string) {
	if strings.TrimSpace(objectKey) == "" {
		return
	}
	_ = u.Store.RemoveObject(ctx, u.Bucket, objectKey, minio.RemoveObjectOptions{})
}

// IsCSV accepts an explicit CSV content type, or a generic type when the
// filename carries a .csv extension.
func IsCSV(filename string, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "text/csv", "application/csv":
		return true
	case "", "application/octet-stream":
		return strings.HasSuffix(strings.ToLower(strings.TrimSpace(filename)), ".csv")
	default:
		return false
	}
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == "/" {
		return "dataset.csv"
	}
	return base
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// lineCounter tracks newline-terminated lines plus a trailing unterminated
// line, so the data row count is total lines minus the header.
type lineCounter struct {
	newlines int64
	total    int64
	lastByte byte
}

func (l *lineCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			l.newlines++
		}
	}
	if len(p) > 0 {
		l.total += int64(len(p))
		l.lastByte = p[len(p)-1]
	}
	return len(p), nil
}

func (l *lineCounter) dataRows() int64 {
	if l.total == 0 {
		return 0
	}
	lines := l.newlines
	if l.lastByte != '\n' {
		lines++
	}
	if lines <= 1 {
		return 0
	}
	return lines - 1
}

type cappedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, ErrTooLarge
	}
	if c.remaining <= 0 {
		// Budget consumed. A stream of exactly the limit must still succeed,
		// so check for EOF and fail only if more data arrives.
		var one [1]byte
		n, err := c.r.Read(one[:])
		if n > 0 {
			c.exceeded = true
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}
