package queue

import (
	"context"

	redislock "github.com/go-co-op/gocron-redis-lock/v2"
	"github.com/go-co-op/gocron/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/pkg/log"
)

// Reaper periodically requeues expired in-flight messages for a set of
// queues. The gocron job runs under a distributed locker so that with N
// worker instances each sweep still happens once.
type Reaper struct {
	cfg    config.QueueConfig
	sched  gocron.Scheduler
	queues []*Queue
}

func NewReaper(rdb redis.UniversalClient, cfg config.QueueConfig, queues ...*Queue) (*Reaper, error) {
	locker, err := redislock.NewRedisLockerWithOptions(rdb,
		redislock.WithKeyPrefix(cfg.KeyPrefix),
		redislock.WithRedsyncOptions(redsync.WithExpiry(cfg.LockerExpiry)))
	if err != nil {
		return nil, err
	}

	sched, err := gocron.NewScheduler(gocron.WithGlobalJobOptions(gocron.WithDistributedJobLocker(locker)))
	if err != nil {
		return nil, err
	}

	return &Reaper{cfg: cfg, sched: sched, queues: queues}, nil
}

func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.sched.NewJob(
		gocron.DurationJob(r.cfg.ReaperInterval),
		gocron.NewTask(func() {
			r.reap(ctx)
		}),
		gocron.WithName("queue-reaper"),
	)
	if err != nil {
		return err
	}
	r.sched.Start()
	return nil
}

func (r *Reaper) reap(ctx context.Context) {
	for _, q := range r.queues {
		n, err := q.Reclaim(ctx)
		if err != nil {
			log.CtxError(ctx, "reclaim failed, queue: %s, err: %v", q.Name(), err)
			continue
		}
		if n > 0 {
			log.CtxWarn(ctx, "requeued expired messages, queue: %s, count: %d", q.Name(), n)
		}
	}
}

func (r *Reaper) Stop(ctx context.Context) {
	_ = r.sched.Shutdown()
}
