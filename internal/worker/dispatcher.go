package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/internal/runner"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Dispatcher consumes submission messages, stages the input file to local
// scratch space, and takes the PENDING→RUNNING transition as a conditional
// write. That conditional write is the system's only exactly-once gate: of
// N duplicate deliveries exactly one launches the annotation process, the
// rest are dropped.
type Dispatcher struct {
	scratchDir string
	store      repo.JobStore
	blob       blob.Store
	runner     runner.Runner
	loop       *Loop
}

func NewDispatcher(q *queue.Queue, qcfg config.QueueConfig, scratchDir string, store repo.JobStore, bs blob.Store, rn runner.Runner) *Dispatcher {
	d := &Dispatcher{
		scratchDir: scratchDir,
		store:      store,
		blob:       bs,
		runner:     rn,
	}
	d.loop = NewLoop("dispatcher", q, qcfg, d.handle)
	return d
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.loop.Start(ctx)
}

func (d *Dispatcher) Stop(ctx context.Context) {
	d.loop.Stop(ctx)
}

func (d *Dispatcher) handle(ctx context.Context, m queue.Message) error {
	msg, err := queue.Decode[entity.SubmissionMessage](m)
	if err != nil {
		// Redelivery cannot fix a malformed body; drop it.
		log.CtxError(ctx, "malformed submission message, messageId: %s, err: %v", m.Id, err)
		return nil
	}

	// Stage the input before taking the transition so a download failure
	// leaves the record PENDING and the message redeliverable.
	inputPath, err := d.stageInput(ctx, msg)
	if err != nil {
		return err
	}

	err = d.store.Update(ctx, msg.JobId,
		map[string]any{entity.FieldJobStatus: entity.JobStatusRunning},
		&repo.Condition{Field: entity.FieldJobStatus, Equals: entity.JobStatusPending})
	if errors.Is(err, repo.ErrConditionFailed) {
		// Another delivery already advanced this record. Drop ours without
		// a second launch.
		log.CtxInfo(ctx, "duplicate dispatch dropped, jobId: %s", msg.JobId)
		return nil
	}
	if err != nil {
		return err
	}

	job := &entity.Job{JobId: msg.JobId, UserId: msg.UserId}
	if err = d.runner.Launch(ctx, job, msg.Email, inputPath); err != nil {
		// The record stays RUNNING (the transition is not rolled back);
		// mark it failed unless something else already finished it.
		log.CtxError(ctx, "failed to launch annotation, jobId: %s, err: %v", msg.JobId, err)
		uErr := d.store.Update(ctx, msg.JobId,
			map[string]any{entity.FieldJobStatus: entity.JobStatusError},
			&repo.Condition{Field: entity.FieldJobStatus, Equals: entity.JobStatusRunning})
		if uErr != nil && !errors.Is(uErr, repo.ErrConditionFailed) {
			log.CtxError(ctx, "failed to record launch failure, jobId: %s, err: %v", msg.JobId, uErr)
		}
	}

	// Ack immediately after a won transition, launched or not.
	return nil
}

// stageInput downloads the input object into <scratch>/<user>/<file>.
func (d *Dispatcher) stageInput(ctx context.Context, msg *entity.SubmissionMessage) (string, error) {
	userDir := filepath.Join(d.scratchDir, msg.UserId)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return "", err
	}

	loc := entity.Location{Bucket: msg.InputBucket, Key: msg.InputKey, Tier: entity.TierHot}
	rc, err := d.blob.GetHot(ctx, loc)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	inputPath := filepath.Join(userDir, path.Base(msg.InputKey))
	f, err := os.Create(inputPath)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", err
	}
	return inputPath, f.Close()
}
