package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/runner"
)

// MockJobStore implements repo.JobStore for testing. Update honors the
// conditional-write contract against the in-memory records, so CAS races
// behave the same as against the real store.
type MockJobStore struct {
	mu   sync.Mutex
	jobs map[string]*entity.Job

	GetFunc         func(ctx context.Context, jobId string) (*entity.Job, error)
	QueryByUserFunc func(ctx context.Context, userId string) ([]*entity.Job, error)
	ScanFunc        func(ctx context.Context) ([]*entity.Job, error)
	UpdateFunc      func(ctx context.Context, jobId string, fields map[string]any, cond *repo.Condition) error

	// Call tracking
	UpdateCalls []struct {
		JobId  string
		Fields map[string]any
		Cond   *repo.Condition
	}
}

func NewMockJobStore() *MockJobStore {
	return &MockJobStore{jobs: make(map[string]*entity.Job)}
}

func (m *MockJobStore) Put(ctx context.Context, job *entity.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobId] = job
	return nil
}

func (m *MockJobStore) Get(ctx context.Context, jobId string) (*entity.Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, jobId)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobId]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (m *MockJobStore) QueryByUser(ctx context.Context, userId string) ([]*entity.Job, error) {
	if m.QueryByUserFunc != nil {
		return m.QueryByUserFunc(ctx, userId)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Job
	for _, job := range m.jobs {
		if job.UserId == userId {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockJobStore) Scan(ctx context.Context) ([]*entity.Job, error) {
	if m.ScanFunc != nil {
		return m.ScanFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Job
	for _, job := range m.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockJobStore) Update(ctx context.Context, jobId string, fields map[string]any, cond *repo.Condition) error {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, struct {
		JobId  string
		Fields map[string]any
		Cond   *repo.Condition
	}{jobId, fields, cond})
	m.mu.Unlock()

	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, jobId, fields, cond)
	}

	if err := repo.CheckTransition(fields, cond); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobId]
	if !ok {
		if cond != nil {
			return repo.ErrConditionFailed
		}
		return fmt.Errorf("no such job %s", jobId)
	}
	if cond != nil && fieldValue(job, cond.Field) != cond.Equals {
		return repo.ErrConditionFailed
	}
	for field, value := range fields {
		applyField(job, field, value)
	}
	return nil
}

func (m *MockJobStore) UpdateRoleByUser(ctx context.Context, userId string, role entity.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.UserId == userId {
			job.UserRole = role
		}
	}
	return nil
}

// MustGet reads a record directly, for assertions.
func (m *MockJobStore) MustGet(jobId string) *entity.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobId]
	if !ok {
		panic("no such job " + jobId)
	}
	cp := *job
	return &cp
}

func fieldValue(job *entity.Job, field string) any {
	switch field {
	case entity.FieldJobStatus:
		return job.JobStatus
	case entity.FieldArchiveId:
		return job.ArchiveId
	case entity.FieldArchived:
		return job.Archived
	case entity.FieldUserRole:
		return job.UserRole
	default:
		panic("unhandled condition field " + field)
	}
}

func applyField(job *entity.Job, field string, value any) {
	switch field {
	case entity.FieldJobStatus:
		job.JobStatus = value.(entity.JobStatus)
	case entity.FieldResultLocation:
		job.ResultLocation = value.(*entity.Location)
	case entity.FieldLogLocation:
		job.LogLocation = value.(*entity.Location)
	case entity.FieldCompleteTime:
		job.CompleteTime = value.(int64)
	case entity.FieldArchiveId:
		job.ArchiveId = value.(string)
	case entity.FieldArchived:
		job.Archived = value.(int)
	case entity.FieldUserRole:
		job.UserRole = value.(entity.UserRole)
	default:
		panic("unhandled update field " + field)
	}
}

// MockBlobStore implements blob.Store over in-memory maps.
type MockBlobStore struct {
	mu         sync.Mutex
	hot        map[string][]byte // bucket/key
	cold       map[string][]byte // archiveId
	retrievals map[string]string // retrievalJobId -> archiveId
	nextId     int

	PutHotFunc            func(ctx context.Context, loc entity.Location, r io.Reader) error
	PutColdFunc           func(ctx context.Context, r io.Reader) (string, error)
	InitiateRetrievalFunc func(ctx context.Context, archiveId string, tier blob.RetrievalTier, correlator string) (string, error)

	// Call tracking
	InitiateCalls []struct {
		ArchiveId  string
		Tier       blob.RetrievalTier
		Correlator string
	}
}

func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{
		hot:        make(map[string][]byte),
		cold:       make(map[string][]byte),
		retrievals: make(map[string]string),
	}
}

func hotKey(loc entity.Location) string {
	return loc.Bucket + "/" + loc.Key
}

func (m *MockBlobStore) SetHot(loc entity.Location, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hot[hotKey(loc)] = data
}

func (m *MockBlobStore) HotData(loc entity.Location) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.hot[hotKey(loc)]
	return data, ok
}

func (m *MockBlobStore) SetCold(archiveId string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cold[archiveId] = data
}

func (m *MockBlobStore) ColdData(archiveId string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.cold[archiveId]
	return data, ok
}

func (m *MockBlobStore) ColdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cold)
}

func (m *MockBlobStore) SetRetrieval(retrievalJobId, archiveId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals[retrievalJobId] = archiveId
}

func (m *MockBlobStore) PutHot(ctx context.Context, loc entity.Location, r io.Reader) error {
	if m.PutHotFunc != nil {
		return m.PutHotFunc(ctx, loc, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hot[hotKey(loc)] = data
	return nil
}

func (m *MockBlobStore) GetHot(ctx context.Context, loc entity.Location) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.hot[hotKey(loc)]
	if !ok {
		return nil, fmt.Errorf("%w: hot %s", blob.ErrNotFound, hotKey(loc))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockBlobStore) DeleteHot(ctx context.Context, loc entity.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hot, hotKey(loc))
	return nil
}

func (m *MockBlobStore) PutCold(ctx context.Context, r io.Reader) (string, error) {
	if m.PutColdFunc != nil {
		return m.PutColdFunc(ctx, r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextId++
	archiveId := fmt.Sprintf("archive-%d", m.nextId)
	m.cold[archiveId] = data
	return archiveId, nil
}

func (m *MockBlobStore) DeleteCold(ctx context.Context, archiveId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cold, archiveId)
	return nil
}

func (m *MockBlobStore) InitiateRetrieval(ctx context.Context, archiveId string, tier blob.RetrievalTier, correlator string) (string, error) {
	m.mu.Lock()
	m.InitiateCalls = append(m.InitiateCalls, struct {
		ArchiveId  string
		Tier       blob.RetrievalTier
		Correlator string
	}{archiveId, tier, correlator})
	m.mu.Unlock()

	if m.InitiateRetrievalFunc != nil {
		return m.InitiateRetrievalFunc(ctx, archiveId, tier, correlator)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextId++
	retrievalJobId := fmt.Sprintf("retrieval-%d", m.nextId)
	m.retrievals[retrievalJobId] = archiveId
	return retrievalJobId, nil
}

func (m *MockBlobStore) GetRetrievalOutput(ctx context.Context, retrievalJobId string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	archiveId, ok := m.retrievals[retrievalJobId]
	if !ok {
		return nil, fmt.Errorf("%w: retrieval %s", blob.ErrNotFound, retrievalJobId)
	}
	data, ok := m.cold[archiveId]
	if !ok {
		return nil, fmt.Errorf("%w: archive %s", blob.ErrNotFound, archiveId)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockBlobStore) DeleteRetrieval(ctx context.Context, retrievalJobId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.retrievals, retrievalJobId)
	return nil
}

func (m *MockBlobStore) RetrievalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retrievals)
}

// MockPublisher records published payloads per topic.
type MockPublisher struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, topic string, payload any) error

	PublishCalls []struct {
		Topic   string
		Payload any
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload any) error {
	m.mu.Lock()
	m.PublishCalls = append(m.PublishCalls, struct {
		Topic   string
		Payload any
	}{topic, payload})
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, payload)
	}
	return nil
}

func (m *MockPublisher) Published(topic string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, c := range m.PublishCalls {
		if c.Topic == topic {
			out = append(out, c.Payload)
		}
	}
	return out
}

// MockRunner implements runner.Runner.
type MockRunner struct {
	mu         sync.Mutex
	LaunchFunc func(ctx context.Context, job *entity.Job, email, inputPath string) error

	LaunchCalls []struct {
		JobId     string
		Email     string
		InputPath string
	}
}

var _ runner.Runner = (*MockRunner)(nil)

func (m *MockRunner) Launch(ctx context.Context, job *entity.Job, email, inputPath string) error {
	m.mu.Lock()
	m.LaunchCalls = append(m.LaunchCalls, struct {
		JobId     string
		Email     string
		InputPath string
	}{job.JobId, email, inputPath})
	m.mu.Unlock()

	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx, job, email, inputPath)
	}
	return nil
}
