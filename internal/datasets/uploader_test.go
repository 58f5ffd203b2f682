package datasets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeStore struct {
	objects map[string][]byte
	putErr  error
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if s.putErr != nil {
		return minio.UploadInfo{}, s.putErr
	}
	s.objects[key] = data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: int64(len(data))}, nil
}

func (s *fakeStore) RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error {
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

func TestUpload_Success(t *testing.T) {
	store := newFakeStore()
	uploader, err := NewUploader(store, "datasets", 1<<20)
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}

	content := "label,pixel1,pixel2\n1,0.1,0.2\n0,0.3,0.4\n"
	ref, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader(content))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if ref.SizeBytes != int64(len(content)) {
		t.Fatalf("size=%d, want %d", ref.SizeBytes, len(content))
	}
	if ref.RowCount != 2 {
		t.Fatalf("rows=%d, want 2", ref.RowCount)
	}
	sum := sha256.Sum256([]byte(content))
	if ref.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("sha256=%q mismatch", ref.SHA256)
	}
	if !strings.HasPrefix(ref.ObjectKey, "pipelines/p-1/") || !strings.HasSuffix(ref.ObjectKey, "/train.csv") {
		t.Fatalf("object key=%q", ref.ObjectKey)
	}
	if _, ok := store.objects[ref.ObjectKey]; !ok {
		t.Fatalf("object not stored")
	}
}

func TestUpload_NoTrailingNewline(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	content := "label,value\n1,0.5"
	ref, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader(content))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref.RowCount != 1 {
		t.Fatalf("rows=%d, want 1", ref.RowCount)
	}
}

func TestUpload_HeaderOnly(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	ref, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader("label,value\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref.RowCount != 0 {
		t.Fatalf("rows=%d, want 0", ref.RowCount)
	}
}

func TestUpload_RejectsNonCSV(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	_, err := uploader.Upload(context.Background(), "p-1", "model.json", "application/json", strings.NewReader("{}"))
	if !errors.Is(err, ErrNotCSV) {
		t.Fatalf("err=%v, want ErrNotCSV", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("rejected upload wrote an object")
	}
}

func TestUpload_OctetStreamWithCSVName(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	_, err := uploader.Upload(context.Background(), "p-1", "train.csv", "application/octet-stream", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
}

func TestUpload_ExactlyAtLimit(t *testing.T) {
	store := newFakeStore()
	content := "label,value\n1,0.5\n"
	uploader, _ := NewUploader(store, "datasets", int64(len(content)))

	ref, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader(content))
	if err != nil {
		t.Fatalf("upload at the size limit: %v", err)
	}
	if ref.SizeBytes != int64(len(content)) {
		t.Fatalf("size=%d, want %d", ref.SizeBytes, len(content))
	}
	if ref.RowCount != 1 {
		t.Fatalf("rows=%d, want 1", ref.RowCount)
	}
	if _, ok := store.objects[ref.ObjectKey]; !ok {
		t.Fatalf("object not stored")
	}
}

func TestUpload_OneByteOverLimit(t *testing.T) {
	store := newFakeStore()
	content := "label,value\n1,0.5\n"
	uploader, _ := NewUploader(store, "datasets", int64(len(content))-1)

	_, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader(content))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v, want ErrTooLarge", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("oversized upload left an object behind")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 16)

	content := "label,value\n" + strings.Repeat("1,0.5\n", 10)
	_, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader(content))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err=%v, want ErrTooLarge", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("oversized upload left an object behind")
	}
}

func TestUpload_Empty(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	_, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader(""))
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err=%v, want ErrEmpty", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("empty upload left an object behind")
	}
}

func TestUpload_StoreFailureCompensates(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("connection reset")
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	_, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader("a,b\n1,2\n"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(store.removed) == 0 {
		t.Fatalf("expected compensating remove")
	}
}

func TestUpload_UniqueKeysPerUpload(t *testing.T) {
	store := newFakeStore()
	uploader, _ := NewUploader(store, "datasets", 1<<20)

	a, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	b, err := uploader.Upload(context.Background(), "p-1", "train.csv", "text/csv", strings.NewReader("a,b\n3,4\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if a.ObjectKey == b.ObjectKey {
		t.Fatalf("object keys collide: %q", a.ObjectKey)
	}
}

func TestIsCSV(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		want        bool
	}{
		{"train.csv", "text/csv", true},
		{"train.csv", "application/csv", true},
		{"train.csv", "text/csv; charset=utf-8", true},
		{"train.csv", "application/octet-stream", true},
		{"train.csv", "", true},
		{"train.txt", "application/octet-stream", false},
		{"train.json", "application/json", false},
		{"train.csv", "application/json", false},
		{"TRAIN.CSV", "", true},
	}
	for _, tc := range tests {
		if got := IsCSV(tc.filename, tc.contentType); got != tc.want {
			t.Errorf("IsCSV(%q, %q)=%v, want %v", tc.filename, tc.contentType, got, tc.want)
		}
	}
}
