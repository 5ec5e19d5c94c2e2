package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/notify"
	"github.com/mbeoliero/annotator/internal/runner"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Completer handles the end of an annotation run: upload result and log to
// hot storage, set the record COMPLETED, publish the completion notice, and
// clean up scratch files. It implements runner.Callback.
type Completer struct {
	store           repo.JobStore
	blob            blob.Store
	pub             notify.Publisher
	resultsBucket   string
	completionTopic string
}

func NewCompleter(store repo.JobStore, bs blob.Store, pub notify.Publisher, resultsBucket, completionTopic string) *Completer {
	return &Completer{
		store:           store,
		blob:            bs,
		pub:             pub,
		resultsBucket:   resultsBucket,
		completionTopic: completionTopic,
	}
}

// Completed uploads outputs, records the COMPLETED transition, and then
// notifies. The record write strictly precedes the publish so a consumer of
// the notice always finds a finished record. Scratch files are removed
// regardless of upload success.
func (c *Completer) Completed(ctx context.Context, job *entity.Job, email string, out runner.Outputs) error {
	defer c.cleanupScratch(out)

	resultLoc := entity.Location{
		Bucket: c.resultsBucket,
		Key:    job.UserId + "/" + job.JobId + "/" + filepath.Base(out.ResultPath),
		Tier:   entity.TierHot,
	}
	logLoc := entity.Location{
		Bucket: c.resultsBucket,
		Key:    job.UserId + "/" + job.JobId + "/" + filepath.Base(out.LogPath),
		Tier:   entity.TierHot,
	}

	if err := c.uploadFile(ctx, out.ResultPath, resultLoc); err != nil {
		return fmt.Errorf("upload result: %w", err)
	}
	if err := c.uploadFile(ctx, out.LogPath, logLoc); err != nil {
		return fmt.Errorf("upload log: %w", err)
	}

	completeTime := time.Now().Unix()
	err := c.store.Update(ctx, job.JobId, map[string]any{
		entity.FieldJobStatus:      entity.JobStatusCompleted,
		entity.FieldResultLocation: &resultLoc,
		entity.FieldLogLocation:    &logLoc,
		entity.FieldCompleteTime:   completeTime,
	}, nil)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}

	notice := &entity.CompletionNotice{
		JobId:          job.JobId,
		Email:          email,
		CompletionTime: completeTime,
	}
	if err = c.pub.Publish(ctx, c.completionTopic, notice); err != nil {
		// The record is already COMPLETED; the notice is the only loss.
		log.CtxError(ctx, "failed to publish completion, jobId: %s, err: %v", job.JobId, err)
	}

	log.CtxInfo(ctx, "job completed, jobId: %s, result: %s", job.JobId, resultLoc.Key)
	return nil
}

// Failed marks a RUNNING job as failed. The condition keeps a racing
// completion from being clobbered; losing that race is fine.
func (c *Completer) Failed(ctx context.Context, jobId string, cause error) {
	err := c.store.Update(ctx, jobId,
		map[string]any{entity.FieldJobStatus: entity.JobStatusError},
		&repo.Condition{Field: entity.FieldJobStatus, Equals: entity.JobStatusRunning})
	if err != nil && !errors.Is(err, repo.ErrConditionFailed) {
		log.CtxError(ctx, "failed to record job failure, jobId: %s, err: %v", jobId, err)
	}
}

func (c *Completer) uploadFile(ctx context.Context, localPath string, loc entity.Location) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.blob.PutHot(ctx, loc, f)
}

// cleanupScratch is best effort; a file that survives a crashed upload is
// reclaimed by scratch-space rotation, not by this code.
func (c *Completer) cleanupScratch(out runner.Outputs) {
	for _, p := range []string{out.ResultPath, out.LogPath, out.InputPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove scratch file %s: %v", p, err)
		}
	}
}
