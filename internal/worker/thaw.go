package worker

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/pkg/log"
)

// ThawHandler is the mirror of the Archiver: it consumes retrieval-ready
// notifications, rehydrates the result into its original hot slot, removes
// the cold copy, and clears the archival fields. Duplicate notifications
// re-upload and re-clear, which is a no-op in effect.
type ThawHandler struct {
	scratchDir string
	store      repo.JobStore
	blob       blob.Store
	loop       *Loop
}

func NewThawHandler(q *queue.Queue, qcfg config.QueueConfig, scratchDir string, store repo.JobStore, bs blob.Store) *ThawHandler {
	t := &ThawHandler{scratchDir: scratchDir, store: store, blob: bs}
	t.loop = NewLoop("thaw", q, qcfg, t.handle)
	return t
}

func (t *ThawHandler) Start(ctx context.Context) {
	t.loop.Start(ctx)
}

func (t *ThawHandler) Stop(ctx context.Context) {
	t.loop.Stop(ctx)
}

func (t *ThawHandler) handle(ctx context.Context, m queue.Message) error {
	n, err := queue.Decode[entity.ThawNotification](m)
	if err != nil {
		log.CtxError(ctx, "malformed thaw notification, messageId: %s, err: %v", m.Id, err)
		return nil
	}

	job, err := t.store.Get(ctx, n.JobDescription)
	if err != nil {
		return err
	}
	if job == nil {
		log.CtxError(ctx, "thaw notification for unknown job, correlator: %s", n.JobDescription)
		return nil
	}
	if job.ResultLocation == nil {
		log.CtxError(ctx, "thawed job has no result location, jobId: %s", job.JobId)
		return nil
	}

	rc, err := t.blob.GetRetrievalOutput(ctx, n.RetrievalJobId)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) && job.ArchiveId == "" {
			// Already restored by an earlier delivery of this notification.
			log.CtxInfo(ctx, "duplicate thaw notification, jobId: %s", job.JobId)
			return nil
		}
		return err
	}

	hotLoc := entity.Location{
		Bucket: job.ResultLocation.Bucket,
		Key:    job.ResultLocation.Key,
		Tier:   entity.TierHot,
	}
	if err = t.rehydrate(ctx, rc, hotLoc); err != nil {
		return err
	}

	if err = t.blob.DeleteCold(ctx, n.ArchiveId); err != nil {
		return err
	}

	err = t.store.Update(ctx, job.JobId, map[string]any{
		entity.FieldArchiveId:      "",
		entity.FieldArchived:       0,
		entity.FieldResultLocation: &hotLoc,
	}, nil)
	if err != nil {
		return err
	}

	// The marker is only bookkeeping at this point; a failed removal must
	// not trigger a redelivery of an already-applied restore.
	if err = t.blob.DeleteRetrieval(ctx, n.RetrievalJobId); err != nil {
		log.CtxWarn(ctx, "failed to discard retrieval marker, retrieval: %s, err: %v", n.RetrievalJobId, err)
	}

	log.CtxInfo(ctx, "job restored to hot storage, jobId: %s", job.JobId)
	return nil
}

// rehydrate stages the retrieved payload through a scratch file before
// uploading, so a broken retrieval stream never leaves a truncated hot
// object behind.
func (t *ThawHandler) rehydrate(ctx context.Context, rc io.ReadCloser, loc entity.Location) error {
	defer rc.Close()

	tmp, err := os.CreateTemp(t.scratchDir, "thaw-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err = io.Copy(tmp, rc); err != nil {
		return err
	}
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return t.blob.PutHot(ctx, loc, tmp)
}
