package worker

import (
	"context"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Restorer reacts to entitlement upgrades: for every archived job of the
// user it initiates a cold-storage retrieval, expedited first, falling back
// to standard only when expedited fails to initiate. It never waits for a
// retrieval to finish; completion arrives later on the thaw topic.
type Restorer struct {
	store repo.JobStore
	blob  blob.Store
	loop  *Loop
}

func NewRestorer(q *queue.Queue, qcfg config.QueueConfig, store repo.JobStore, bs blob.Store) *Restorer {
	r := &Restorer{store: store, blob: bs}
	r.loop = NewLoop("restorer", q, qcfg, r.handle)
	return r
}

func (r *Restorer) Start(ctx context.Context) {
	r.loop.Start(ctx)
}

func (r *Restorer) Stop(ctx context.Context) {
	r.loop.Stop(ctx)
}

func (r *Restorer) handle(ctx context.Context, m queue.Message) error {
	req, err := queue.Decode[entity.RestoreRequest](m)
	if err != nil {
		log.CtxError(ctx, "malformed restore request, messageId: %s, err: %v", m.Id, err)
		return nil
	}

	jobs, err := r.store.QueryByUser(ctx, req.UserId)
	if err != nil {
		return err
	}

	// A failed initiation leaves the message unacked so the whole batch is
	// retried; re-initiating an already-started retrieval just produces an
	// extra thaw notification, which the thaw handler absorbs.
	var firstErr error
	for _, job := range jobs {
		if job.ArchiveId == "" {
			continue
		}
		if err = r.initiate(ctx, job); err != nil {
			log.CtxError(ctx, "retrieval initiation failed, jobId: %s, err: %v", job.JobId, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Restorer) initiate(ctx context.Context, job *entity.Job) error {
	// The job id rides in the retrieval description so the thaw handler can
	// correlate the completion back to this record.
	retrievalId, err := r.blob.InitiateRetrieval(ctx, job.ArchiveId, blob.TierExpedited, job.JobId)
	if err == nil {
		log.CtxInfo(ctx, "expedited retrieval started, jobId: %s, retrieval: %s", job.JobId, retrievalId)
		return nil
	}

	// Fallback fires on initiation failure only; a slow expedited retrieval
	// that did initiate runs to completion on its own.
	log.CtxWarn(ctx, "expedited retrieval unavailable, jobId: %s, falling back to standard, err: %v", job.JobId, err)
	retrievalId, err = r.blob.InitiateRetrieval(ctx, job.ArchiveId, blob.TierStandard, job.JobId)
	if err != nil {
		return err
	}
	log.CtxInfo(ctx, "standard retrieval started, jobId: %s, retrieval: %s", job.JobId, retrievalId)
	return nil
}
