package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Archiver moves a completed result from hot to cold storage. The cold copy
// is written and the archive id recorded before the hot copy is deleted, so
// a result stays reachable in at least one tier at every point, including
// across crashes and redeliveries.
type Archiver struct {
	store repo.JobStore
	blob  blob.Store
	loop  *Loop
}

func NewArchiver(q *queue.Queue, qcfg config.QueueConfig, store repo.JobStore, bs blob.Store) *Archiver {
	a := &Archiver{store: store, blob: bs}
	a.loop = NewLoop("archiver", q, qcfg, a.handle)
	return a
}

func (a *Archiver) Start(ctx context.Context) {
	a.loop.Start(ctx)
}

func (a *Archiver) Stop(ctx context.Context) {
	a.loop.Stop(ctx)
}

func (a *Archiver) handle(ctx context.Context, m queue.Message) error {
	req, err := queue.Decode[entity.ArchiveRequest](m)
	if err != nil {
		log.CtxError(ctx, "malformed archive request, messageId: %s, err: %v", m.Id, err)
		return nil
	}

	job, err := a.store.Get(ctx, req.JobId)
	if err != nil {
		return err
	}
	if job == nil {
		log.CtxError(ctx, "archive request for unknown job, jobId: %s", req.JobId)
		return nil
	}

	hotLoc := entity.Location{Bucket: req.ResultBucket, Key: req.ResultKey, Tier: entity.TierHot}

	if job.ArchiveId != "" {
		// Archived by an earlier delivery. Only the hot delete may still be
		// pending; finishing it keeps the operation idempotent.
		if err = a.blob.DeleteHot(ctx, hotLoc); err != nil {
			return err
		}
		log.CtxInfo(ctx, "duplicate archive request, jobId: %s, archiveId: %s", req.JobId, job.ArchiveId)
		return nil
	}

	rc, err := a.blob.GetHot(ctx, hotLoc)
	if errors.Is(err, blob.ErrNotFound) {
		// No archive id and no hot copy: the result is reachable in neither
		// tier. Surfaced for monitoring, not auto-healed here.
		log.CtxError(ctx, "result missing from both tiers, jobId: %s, key: %s", req.JobId, req.ResultKey)
		return nil
	}
	if err != nil {
		return err
	}

	archiveId, err := a.blob.PutCold(ctx, rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("archive to cold storage: %w", err)
	}

	coldLoc := entity.Location{Bucket: req.ResultBucket, Key: req.ResultKey, Tier: entity.TierCold}
	err = a.store.Update(ctx, req.JobId, map[string]any{
		entity.FieldArchiveId:      archiveId,
		entity.FieldArchived:       1,
		entity.FieldResultLocation: &coldLoc,
	}, nil)
	if err != nil {
		// Hot copy untouched; the redelivery retries from the top.
		return fmt.Errorf("record archive id: %w", err)
	}

	// Strictly after the archive id write: a crash before this line leaves
	// both copies live, never neither.
	if err = a.blob.DeleteHot(ctx, hotLoc); err != nil {
		return err
	}

	log.CtxInfo(ctx, "job archived, jobId: %s, archiveId: %s", req.JobId, archiveId)
	return nil
}
