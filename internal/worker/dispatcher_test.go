package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/internal/queue"
)

func submissionMessage(t *testing.T, msg *entity.SubmissionMessage) queue.Message {
	t.Helper()
	body, err := sonic.Marshal(msg)
	require.NoError(t, err)
	return queue.Message{Id: "delivery-1", Body: body}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *MockJobStore, *MockBlobStore, *MockRunner) {
	t.Helper()
	store := NewMockJobStore()
	bs := NewMockBlobStore()
	rn := &MockRunner{}
	d := &Dispatcher{
		scratchDir: t.TempDir(),
		store:      store,
		blob:       bs,
		runner:     rn,
	}
	return d, store, bs, rn
}

func pendingJob(jobId, userId string) *entity.Job {
	return &entity.Job{
		JobId:     jobId,
		UserId:    userId,
		UserRole:  entity.UserRoleFree,
		JobStatus: entity.JobStatusPending,
	}
}

func TestDispatcher_Handle(t *testing.T) {
	d, store, bs, rn := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, pendingJob("job-1", "user-1")))
	inputLoc := entity.Location{Bucket: "inputs", Key: "user-1/job-1~sample.vcf", Tier: entity.TierHot}
	bs.SetHot(inputLoc, []byte("vcf data"))

	msg := submissionMessage(t, &entity.SubmissionMessage{
		JobId:       "job-1",
		UserId:      "user-1",
		InputBucket: "inputs",
		InputKey:    "user-1/job-1~sample.vcf",
		Email:       "a@b.c",
	})

	require.NoError(t, d.handle(ctx, msg))

	assert.Equal(t, entity.JobStatusRunning, store.MustGet("job-1").JobStatus)
	require.Len(t, rn.LaunchCalls, 1)
	assert.Equal(t, "job-1", rn.LaunchCalls[0].JobId)
	assert.Equal(t, "a@b.c", rn.LaunchCalls[0].Email)

	// The input was staged under the user's scratch directory.
	staged := rn.LaunchCalls[0].InputPath
	assert.Equal(t, filepath.Join(d.scratchDir, "user-1", "job-1~sample.vcf"), staged)
	data, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "vcf data", string(data))
}

func TestDispatcher_DuplicateDeliveryLaunchesOnce(t *testing.T) {
	d, store, bs, rn := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, pendingJob("job-1", "user-1")))
	bs.SetHot(entity.Location{Bucket: "inputs", Key: "user-1/in.vcf", Tier: entity.TierHot}, []byte("vcf"))

	msg := submissionMessage(t, &entity.SubmissionMessage{
		JobId:       "job-1",
		UserId:      "user-1",
		InputBucket: "inputs",
		InputKey:    "user-1/in.vcf",
	})

	// Both deliveries are handled without error (acked), but only the
	// winner of the conditional write launches.
	require.NoError(t, d.handle(ctx, msg))
	require.NoError(t, d.handle(ctx, msg))

	assert.Len(t, rn.LaunchCalls, 1)
	assert.Equal(t, entity.JobStatusRunning, store.MustGet("job-1").JobStatus)
}

func TestDispatcher_StageFailureLeavesPending(t *testing.T) {
	d, store, _, rn := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, pendingJob("job-1", "user-1")))

	msg := submissionMessage(t, &entity.SubmissionMessage{
		JobId:       "job-1",
		UserId:      "user-1",
		InputBucket: "inputs",
		InputKey:    "user-1/missing.vcf",
	})

	// Input object absent: the handler errors so the message is
	// redelivered, and the record has not been transitioned.
	assert.Error(t, d.handle(ctx, msg))
	assert.Equal(t, entity.JobStatusPending, store.MustGet("job-1").JobStatus)
	assert.Empty(t, rn.LaunchCalls)
}

func TestDispatcher_LaunchFailureMarksError(t *testing.T) {
	d, store, bs, rn := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, pendingJob("job-1", "user-1")))
	bs.SetHot(entity.Location{Bucket: "inputs", Key: "user-1/in.vcf", Tier: entity.TierHot}, []byte("vcf"))
	rn.LaunchFunc = func(ctx context.Context, job *entity.Job, email, inputPath string) error {
		return errors.New("annotator binary missing")
	}

	msg := submissionMessage(t, &entity.SubmissionMessage{
		JobId:       "job-1",
		UserId:      "user-1",
		InputBucket: "inputs",
		InputKey:    "user-1/in.vcf",
	})

	// Launch failures are terminal for the job, not for the message: the
	// handler acks and the record lands in ERROR.
	require.NoError(t, d.handle(ctx, msg))
	assert.Equal(t, entity.JobStatusError, store.MustGet("job-1").JobStatus)
}

func TestDispatcher_MalformedMessageAcked(t *testing.T) {
	d, store, _, rn := newTestDispatcher(t)

	err := d.handle(context.Background(), queue.Message{Id: "delivery-1", Body: []byte("not json")})
	assert.NoError(t, err, "redelivery cannot fix a malformed body")
	assert.Empty(t, rn.LaunchCalls)
	assert.Empty(t, store.UpdateCalls)
}
