package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/notify"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Monitor is the archive policy sweep: on a fixed schedule it scans every
// job record and emits an archive request for each completed free-tier job
// whose grace period has elapsed. The archived guard is set before the
// request goes out, so a slow archival pipeline never causes the same job
// to be selected on the next sweep. The schedule runs under a distributed
// elector so exactly one node sweeps.
type Monitor struct {
	cfg          config.MonitorConfig
	store        repo.JobStore
	pub          notify.Publisher
	archiveTopic string
	sched        gocron.Scheduler
	elector      *Elector
}

func NewMonitor(rdb redis.UniversalClient, cfg config.MonitorConfig, store repo.JobStore, pub notify.Publisher, archiveTopic string) (*Monitor, error) {
	elector, err := NewElector(rdb, cfg.NodeId, cfg.LeaderKey, cfg.LeaderTtl, cfg.LeaderRenew)
	if err != nil {
		return nil, err
	}

	sched, err := gocron.NewScheduler(gocron.WithDistributedElector(elector))
	if err != nil {
		return nil, err
	}

	return &Monitor{
		cfg:          cfg,
		store:        store,
		pub:          pub,
		archiveTopic: archiveTopic,
		sched:        sched,
		elector:      elector,
	}, nil
}

func (m *Monitor) Start(ctx context.Context) error {
	if err := m.elector.Start(ctx); err != nil {
		return err
	}

	var jobDef gocron.JobDefinition
	if m.cfg.SweepCron != "" {
		jobDef = gocron.CronJob(m.cfg.SweepCron, true)
	} else {
		jobDef = gocron.DurationJob(m.cfg.SweepInterval)
	}

	job, err := m.sched.NewJob(
		jobDef,
		gocron.NewTask(func() {
			m.Sweep(ctx)
		}),
		gocron.WithName("archive-policy-sweep"),
	)
	if err != nil {
		return err
	}

	m.sched.Start()
	log.CtxInfo(ctx, "archive policy monitor started, job name: %s", job.Name())
	return nil
}

// Sweep performs one full pass. Flagging and emitting are per record; one
// bad record never stops the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	jobs, err := m.store.Scan(ctx)
	if err != nil {
		log.CtxError(ctx, "sweep scan failed, err: %v", err)
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if !job.ArchiveEligible(now, m.cfg.GracePeriod) {
			continue
		}
		if job.ResultLocation == nil {
			log.CtxError(ctx, "completed job has no result location, jobId: %s", job.JobId)
			continue
		}

		// Guard first: once archived=1 the next sweep skips this record
		// even if the archive request below takes a long time to land.
		if err = m.store.Update(ctx, job.JobId, map[string]any{entity.FieldArchived: 1}, nil); err != nil {
			log.CtxError(ctx, "failed to set archive guard, jobId: %s, err: %v", job.JobId, err)
			continue
		}

		req := &entity.ArchiveRequest{
			JobId:        job.JobId,
			ResultBucket: job.ResultLocation.Bucket,
			ResultKey:    job.ResultLocation.Key,
		}
		if err = m.pub.Publish(ctx, m.archiveTopic, req); err != nil {
			// The guard stays set; reconciliation of orphaned guards is an
			// out-of-band concern.
			log.CtxError(ctx, "failed to publish archive request, jobId: %s, err: %v", job.JobId, err)
			continue
		}

		log.CtxInfo(ctx, "job flagged for archival, jobId: %s", job.JobId)
	}
}

func (m *Monitor) Stop(ctx context.Context) {
	_ = m.sched.Shutdown()
	m.elector.Stop()
}
