package pipelines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cortexa-labs/cortexa-go/internal/constraints"
	"github.com/cortexa-labs/cortexa-go/internal/datasets"
	"github.com/cortexa-labs/cortexa-go/internal/domain"
	"github.com/cortexa-labs/cortexa-go/internal/repo"
	"github.com/cortexa-labs/cortexa-go/internal/trainer"
)

type fakePipelineRepo struct {
	mu    sync.Mutex
	items map[string]domain.Pipeline
}

func newFakePipelineRepo() *fakePipelineRepo {
	return &fakePipelineRepo{items: map[string]domain.Pipeline{}}
}

func pipelineKey(projectID, id string) string {
	return projectID + "/" + id
}

func (f *fakePipelineRepo) Create(ctx context.Context, pipeline domain.Pipeline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pipelineKey(pipeline.ProjectID, pipeline.ID)
	if _, ok := f.items[key]; ok {
		return repo.ErrAlreadyExists
	}
	pipeline.Version = 1
	f.items[key] = pipeline
	return nil
}

func (f *fakePipelineRepo) Get(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[pipelineKey(projectID, id)]
	if !ok {
		return domain.Pipeline{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakePipelineRepo) List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Pipeline, 0)
	for _, p := range f.items {
		if p.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePipelineRepo) ListByStatus(ctx context.Context, status string, limit int) ([]domain.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Pipeline, 0)
	for _, p := range f.items {
		if p.Status != status {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePipelineRepo) Put(ctx context.Context, pipeline domain.Pipeline, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pipelineKey(pipeline.ProjectID, pipeline.ID)
	current, ok := f.items[key]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Version != expectedVersion {
		return repo.ErrVersionConflict
	}
	pipeline.Version = expectedVersion + 1
	f.items[key] = pipeline
	return nil
}

type fakeProjectRepo struct {
	projects map[string]domain.Project
}

func newFakeProjectRepo(ids ...string) *fakeProjectRepo {
	f := &fakeProjectRepo{projects: map[string]domain.Project{}}
	for _, id := range ids {
		f.projects[id] = domain.Project{ID: id, Name: id, CreatedBy: "tester"}
	}
	return f
}

func (f *fakeProjectRepo) Create(ctx context.Context, project domain.Project) error {
	if _, ok := f.projects[project.ID]; ok {
		return repo.ErrAlreadyExists
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeProjectRepo) Get(ctx context.Context, id string) (domain.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return domain.Project{}, repo.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjectRepo) List(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	out := make([]domain.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads int
	err     error
	removed []string
}

func (f *fakeUploader) Upload(ctx context.Context, pipelineID string, filename string, contentType string, body io.Reader) (domain.DatasetRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.DatasetRef{}, f.err
	}
	f.uploads++
	return domain.DatasetRef{
		ObjectKey:  fmt.Sprintf("pipelines/%s/u-%d/%s", pipelineID, f.uploads, filename),
		Filename:   filename,
		SHA256:     fmt.Sprintf("sha-%d", f.uploads),
		SizeBytes:  2048,
		RowCount:   120,
		UploadedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeUploader) RemoveUploaded(ctx context.Context, objectKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, objectKey)
}

type fakeBackend struct {
	mu        sync.Mutex
	submits   int
	submitErr error
	delay     time.Duration
	status    trainer.Status
	statusErr error
}

func (f *fakeBackend) Submit(ctx context.Context, req trainer.SubmitRequest) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	return fmt.Sprintf("job-%d", f.submits), nil
}

func (f *fakeBackend) Status(ctx context.Context, runHandle string) (trainer.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return trainer.Status{}, f.statusErr
	}
	return f.status, nil
}

type fixture struct {
	service  *Service
	repo     *fakePipelineRepo
	uploader *fakeUploader
	backend  *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pipelineRepo := newFakePipelineRepo()
	uploader := &fakeUploader{}
	backend := &fakeBackend{}
	service := New(nil, pipelineRepo, newFakeProjectRepo("proj-1"), uploader, backend, constraints.Default())
	if service == nil {
		t.Fatalf("service is nil")
	}
	return &fixture{service: service, repo: pipelineRepo, uploader: uploader, backend: backend}
}

func (f *fixture) create(t *testing.T) domain.Pipeline {
	t.Helper()
	p, err := f.service.Create(context.Background(), CreateInput{
		ProjectID: "proj-1", Name: "mnist classifier", Actor: "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func (f *fixture) upload(t *testing.T, p domain.Pipeline) domain.Pipeline {
	t.Helper()
	out, err := f.service.Upload(context.Background(), UploadInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Filename: "train.csv", ContentType: "text/csv",
		Body: strings.NewReader("a,b\n1,2\n"), Actor: "user-1",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return out
}

func (f *fixture) configure(t *testing.T, p domain.Pipeline) domain.Pipeline {
	t.Helper()
	out, err := f.service.Configure(context.Background(), ConfigureInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Config: domain.TrainingConfig{
			ModelType: "resnet", LearningRate: 0.001, Epochs: 10,
			BatchSize: 32, Optimizer: "adam", ValidationSplit: 0.2,
		},
		Actor: "user-1",
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	return out
}

func (f *fixture) start(t *testing.T, p domain.Pipeline) domain.Pipeline {
	t.Helper()
	out, err := f.service.Start(context.Background(), StartInput{ProjectID: p.ProjectID, PipelineID: p.ID, Actor: "user-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return out
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	if p.Status != domain.StatusCreated {
		t.Fatalf("status=%q, want created", p.Status)
	}
	if p.ID == "" {
		t.Fatalf("id is empty")
	}
	if p.CreatedBy != "user-1" {
		t.Fatalf("createdBy=%q", p.CreatedBy)
	}

	stored, err := f.repo.Get(context.Background(), "proj-1", p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusCreated {
		t.Fatalf("stored status=%q", stored.Status)
	}
}

func TestCreate_MissingName(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Create(context.Background(), CreateInput{ProjectID: "proj-1", Actor: "user-1"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
}

func TestCreate_UnknownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Create(context.Background(), CreateInput{ProjectID: "ghost", Name: "x", Actor: "user-1"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestUpload_MovesToDataUploaded(t *testing.T) {
	f := newFixture(t)
	p := f.upload(t, f.create(t))

	if p.Status != domain.StatusDataUploaded {
		t.Fatalf("status=%q, want data_uploaded", p.Status)
	}
	if p.Dataset == nil || p.Dataset.RowCount != 120 {
		t.Fatalf("dataset=%+v", p.Dataset)
	}
}

func TestUpload_ReplacementBeforeConfigure(t *testing.T) {
	f := newFixture(t)
	first := f.upload(t, f.create(t))
	second := f.upload(t, first)

	if second.Status != domain.StatusDataUploaded {
		t.Fatalf("status=%q", second.Status)
	}
	if second.Dataset.ObjectKey == first.Dataset.ObjectKey {
		t.Fatalf("dataset not replaced")
	}
	found := false
	for _, key := range f.uploader.removed {
		if key == first.Dataset.ObjectKey {
			found = true
		}
	}
	if !found {
		t.Fatalf("old object %q not removed", first.Dataset.ObjectKey)
	}
}

func TestUpload_RejectedAfterConfigure(t *testing.T) {
	f := newFixture(t)
	p := f.configure(t, f.upload(t, f.create(t)))

	_, err := f.service.Upload(context.Background(), UploadInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Filename: "other.csv", ContentType: "text/csv",
		Body: strings.NewReader("a,b\n9,9\n"), Actor: "user-1",
	})
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v, want InvalidTransitionError", err)
	}

	stored, _ := f.repo.Get(context.Background(), p.ProjectID, p.ID)
	if stored.Dataset.ObjectKey != p.Dataset.ObjectKey {
		t.Fatalf("dataset changed on rejected upload")
	}
}

func TestUpload_InvalidFileIsValidationError(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	f.uploader.err = datasets.ErrNotCSV

	_, err := f.service.Upload(context.Background(), UploadInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Filename: "notes.txt", ContentType: "text/plain",
		Body: strings.NewReader("hello"), Actor: "user-1",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}

	stored, _ := f.repo.Get(context.Background(), p.ProjectID, p.ID)
	if stored.Status != domain.StatusCreated {
		t.Fatalf("status=%q, want created after rejected upload", stored.Status)
	}
}

// conflictPutRepo makes every Put lose the version race, as if another
// process committed first.
type conflictPutRepo struct {
	*fakePipelineRepo
}

func (r *conflictPutRepo) Put(ctx context.Context, pipeline domain.Pipeline, expectedVersion int64) error {
	return repo.ErrVersionConflict
}

func TestUpload_VersionConflictReportsStoredStatus(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)
	f.service.pipelines = &conflictPutRepo{fakePipelineRepo: f.repo}

	_, err := f.service.Upload(context.Background(), UploadInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Filename: "train.csv", ContentType: "text/csv",
		Body: strings.NewReader("a,b\n1,2\n"), Actor: "user-1",
	})
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v, want InvalidTransitionError", err)
	}
	if terr.From != domain.StatusCreated {
		t.Fatalf("from=%q, want the stored status %q", terr.From, domain.StatusCreated)
	}
}

func TestStart_VersionConflictReportsStoredStatus(t *testing.T) {
	f := newFixture(t)
	p := f.configure(t, f.upload(t, f.create(t)))
	f.service.pipelines = &conflictPutRepo{fakePipelineRepo: f.repo}

	_, err := f.service.Start(context.Background(), StartInput{ProjectID: p.ProjectID, PipelineID: p.ID})
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v, want InvalidTransitionError", err)
	}
	if terr.From != domain.StatusConfigured {
		t.Fatalf("from=%q, want the stored status %q", terr.From, domain.StatusConfigured)
	}
}

func TestConfigure_MovesToConfigured(t *testing.T) {
	f := newFixture(t)
	p := f.configure(t, f.upload(t, f.create(t)))

	if p.Status != domain.StatusConfigured {
		t.Fatalf("status=%q, want configured", p.Status)
	}
	if p.Config == nil || p.Config.ModelType != "resnet" {
		t.Fatalf("config=%+v", p.Config)
	}
}

func TestConfigure_NormalizesEnums(t *testing.T) {
	f := newFixture(t)
	p := f.upload(t, f.create(t))

	out, err := f.service.Configure(context.Background(), ConfigureInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Config: domain.TrainingConfig{
			ModelType: " ResNet ", LearningRate: 0.001, Epochs: 10,
			BatchSize: 32, Optimizer: "ADAM", ValidationSplit: 0.2,
		},
		Actor: "user-1",
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if out.Config.ModelType != "resnet" || out.Config.Optimizer != "adam" {
		t.Fatalf("config not normalized: %+v", out.Config)
	}
}

func TestConfigure_BeforeUploadRejected(t *testing.T) {
	f := newFixture(t)
	p := f.create(t)

	_, err := f.service.Configure(context.Background(), ConfigureInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Config: domain.TrainingConfig{ModelType: "resnet", LearningRate: 0.001, Epochs: 10, BatchSize: 32, Optimizer: "adam"},
	})
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("err=%v, want InvalidTransitionError", err)
	}
}

func TestConfigure_CollectsAllViolations(t *testing.T) {
	f := newFixture(t)
	p := f.upload(t, f.create(t))

	_, err := f.service.Configure(context.Background(), ConfigureInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Config: domain.TrainingConfig{
			ModelType: "transformer", LearningRate: -1, Epochs: 0,
			BatchSize: 0, Optimizer: "adagrad", ValidationSplit: 2,
		},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
	if len(verr.Violations) != 6 {
		t.Fatalf("violations=%d (%v), want 6", len(verr.Violations), verr.Violations)
	}

	stored, _ := f.repo.Get(context.Background(), p.ProjectID, p.ID)
	if stored.Status != domain.StatusDataUploaded || stored.Config != nil {
		t.Fatalf("record changed on rejected configure: %+v", stored)
	}
}

func TestConfigure_Reconfigure(t *testing.T) {
	f := newFixture(t)
	p := f.configure(t, f.upload(t, f.create(t)))

	out, err := f.service.Configure(context.Background(), ConfigureInput{
		ProjectID: p.ProjectID, PipelineID: p.ID,
		Config: domain.TrainingConfig{
			ModelType: "yolo", LearningRate: 0.01, Epochs: 5,
			BatchSize: 16, Optimizer: "sgd", ValidationSplit: 0.1,
		},
	})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if out.Config.ModelType != "yolo" {
		t.Fatalf("config=%+v", out.Config)
	}
	if out.Status != domain.StatusConfigured {
		t.Fatalf("status=%q", out.Status)
	}
}

func TestStart_MovesToTraining(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	if p.Status != domain.StatusTraining {
		t.Fatalf("status=%q, want training", p.Status)
	}
	if p.RunHandle == "" {
		t.Fatalf("run handle is empty")
	}
}

func TestStart_IllegalBeforeConfigured(t *testing.T) {
	f := newFixture(t)
	created := f.create(t)
	uploaded := f.upload(t, f.create(t))

	for _, p := range []domain.Pipeline{created, uploaded} {
		_, err := f.service.Start(context.Background(), StartInput{ProjectID: p.ProjectID, PipelineID: p.ID})
		var terr *InvalidTransitionError
		if !errors.As(err, &terr) {
			t.Fatalf("status %s: err=%v, want InvalidTransitionError", p.Status, err)
		}
	}
	if f.backend.submits != 0 {
		t.Fatalf("submit called %d times for illegal starts", f.backend.submits)
	}
}

func TestStart_DispatchFailureLeavesConfigured(t *testing.T) {
	f := newFixture(t)
	p := f.configure(t, f.upload(t, f.create(t)))
	f.backend.submitErr = fmt.Errorf("%w: status 503", trainer.ErrRejected)

	_, err := f.service.Start(context.Background(), StartInput{ProjectID: p.ProjectID, PipelineID: p.ID})
	var derr *DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("err=%v, want DispatchError", err)
	}

	stored, _ := f.repo.Get(context.Background(), p.ProjectID, p.ID)
	if stored.Status != domain.StatusConfigured {
		t.Fatalf("status=%q, want configured", stored.Status)
	}
	if stored.RunHandle != "" {
		t.Fatalf("run handle=%q, want empty", stored.RunHandle)
	}

	// A retried start is a fresh attempt.
	f.backend.submitErr = nil
	out := f.start(t, stored)
	if out.Status != domain.StatusTraining || out.RunHandle == "" {
		t.Fatalf("retry: status=%q handle=%q", out.Status, out.RunHandle)
	}
	if f.backend.submits != 1 {
		t.Fatalf("submits=%d, want 1", f.backend.submits)
	}
}

func TestStart_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	p := f.configure(t, f.upload(t, f.create(t)))
	f.backend.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.Start(context.Background(), StartInput{ProjectID: p.ProjectID, PipelineID: p.ID})
			results[i] = err
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var terr *InvalidTransitionError
		if errors.As(err, &terr) {
			conflicted++
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("succeeded=%d conflicted=%d (results=%v)", succeeded, conflicted, results)
	}
	if f.backend.submits != 1 {
		t.Fatalf("submits=%d, want exactly 1", f.backend.submits)
	}

	stored, _ := f.repo.Get(context.Background(), p.ProjectID, p.ID)
	if stored.Status != domain.StatusTraining {
		t.Fatalf("status=%q, want training", stored.Status)
	}
}

func TestReconcile_PendingIsNoOp(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	_, changed, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StatePending})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if changed {
		t.Fatalf("pending observation wrote the record")
	}
}

func TestReconcile_TrainingUpdatesMetrics(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	metrics := &domain.Metrics{Accuracy: 0.7, Loss: 0.6, ValidationAccuracy: 0.65, ValidationLoss: 0.7}
	out, changed, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StateTraining, Metrics: metrics})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed {
		t.Fatalf("metrics observation did not write")
	}
	if out.Status != domain.StatusTraining {
		t.Fatalf("status=%q, want training", out.Status)
	}
	if out.Metrics == nil || out.Metrics.Accuracy != 0.7 {
		t.Fatalf("metrics=%+v", out.Metrics)
	}
}

func TestReconcile_Completed(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	metrics := &domain.Metrics{Accuracy: 0.93, Loss: 0.2, ValidationAccuracy: 0.9, ValidationLoss: 0.25}
	out, changed, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StateCompleted, Metrics: metrics})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed || out.Status != domain.StatusCompleted {
		t.Fatalf("changed=%v status=%q", changed, out.Status)
	}
	if out.Metrics.Accuracy != 0.93 {
		t.Fatalf("metrics=%+v", out.Metrics)
	}
}

func TestReconcile_FailedCarriesReason(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	out, _, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StateFailed, FailureReason: "loss diverged"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.Status != domain.StatusFailed || out.FailureReason != "loss diverged" {
		t.Fatalf("status=%q reason=%q", out.Status, out.FailureReason)
	}
}

func TestReconcile_FailedDefaultReason(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	out, _, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StateFailed})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out.FailureReason == "" {
		t.Fatalf("failed pipeline has no failure reason")
	}
}

func TestReconcile_TerminalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	first, changed, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StateCompleted})
	if err != nil || !changed {
		t.Fatalf("first reconcile: changed=%v err=%v", changed, err)
	}

	second, changed, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{State: trainer.StateCompleted})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if changed {
		t.Fatalf("second terminal reconcile wrote the record")
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("updatedAt moved on idempotent reconcile: %v vs %v", second.UpdatedAt, first.UpdatedAt)
	}
	if second.Version != first.Version {
		t.Fatalf("version moved on idempotent reconcile")
	}
}

func TestLifecycle_EndToEnd(t *testing.T) {
	f := newFixture(t)

	p := f.create(t)
	p = f.upload(t, p)
	p = f.configure(t, p)
	p = f.start(t, p)

	_, _, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{
		State:   trainer.StateTraining,
		Metrics: &domain.Metrics{Accuracy: 0.5, Loss: 1.1},
	})
	if err != nil {
		t.Fatalf("progress reconcile: %v", err)
	}

	final, _, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{
		State:   trainer.StateCompleted,
		Metrics: &domain.Metrics{Accuracy: 0.94, Loss: 0.18, ValidationAccuracy: 0.91, ValidationLoss: 0.22},
	})
	if err != nil {
		t.Fatalf("final reconcile: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status=%q, want completed", final.Status)
	}
	if final.Dataset == nil || final.Config == nil || final.RunHandle == "" || final.Metrics == nil {
		t.Fatalf("completed pipeline missing fields: %+v", final)
	}
	if final.FailureReason != "" {
		t.Fatalf("completed pipeline has failure reason %q", final.FailureReason)
	}
}

func TestLifecycle_FailurePath(t *testing.T) {
	f := newFixture(t)
	p := f.start(t, f.configure(t, f.upload(t, f.create(t))))

	final, _, err := f.service.Reconcile(context.Background(), p.ProjectID, p.ID, trainer.Status{
		State: trainer.StateFailed, FailureReason: "out of memory",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if final.Status != domain.StatusFailed || final.FailureReason != "out of memory" {
		t.Fatalf("status=%q reason=%q", final.Status, final.FailureReason)
	}

	// Terminal pipelines accept no further operations.
	_, err = f.service.Start(context.Background(), StartInput{ProjectID: p.ProjectID, PipelineID: p.ID})
	var terr *InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("start after failure: err=%v, want InvalidTransitionError", err)
	}
}
