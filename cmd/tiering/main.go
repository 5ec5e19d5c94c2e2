// The tiering process runs the storage lifecycle path: archive policy
// sweep, archiver, restorer, and thaw completion handler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/infra/mysql"
	"github.com/mbeoliero/annotator/infra/redis"
	"github.com/mbeoliero/annotator/internal/blob"
	"github.com/mbeoliero/annotator/internal/notify"
	"github.com/mbeoliero/annotator/internal/queue"
	"github.com/mbeoliero/annotator/internal/worker"
	"github.com/mbeoliero/annotator/pkg/log"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = mysql.Init(); err != nil {
		log.CtxError(ctx, "failed to init mysql: %v", err)
		panic(err)
	}
	if err = redis.Init(); err != nil {
		log.CtxError(ctx, "failed to init redis: %v", err)
		panic(err)
	}

	rdb := redis.GetClient()
	pub := notify.NewNotifier(rdb, cfg.Queue.KeyPrefix, nil)

	store, err := blob.NewFSStore(cfg.Storage, pub, cfg.Pipeline.ThawTopic)
	if err != nil {
		log.CtxError(ctx, "failed to init blob store: %v", err)
		panic(err)
	}

	archiveQ := queue.New(rdb, cfg.Queue.KeyPrefix, cfg.Pipeline.ArchiveQueue, cfg.Queue.VisibilityTimeout)
	restoreQ := queue.New(rdb, cfg.Queue.KeyPrefix, cfg.Pipeline.RestoreQueue, cfg.Queue.VisibilityTimeout)
	thawQ := queue.New(rdb, cfg.Queue.KeyPrefix, cfg.Pipeline.ThawQueue, cfg.Queue.VisibilityTimeout)

	subs := map[string]*queue.Queue{
		cfg.Pipeline.ArchiveTopic: archiveQ,
		cfg.Pipeline.RestoreTopic: restoreQ,
		cfg.Pipeline.ThawTopic:    thawQ,
	}
	for topic, q := range subs {
		if err = pub.Subscribe(ctx, topic, q); err != nil {
			log.CtxError(ctx, "failed to subscribe queue %s: %v", q.Name(), err)
			panic(err)
		}
	}

	jobStore := repo.GetJobStore()
	monitor, err := worker.NewMonitor(rdb, cfg.Monitor, jobStore, pub, cfg.Pipeline.ArchiveTopic)
	if err != nil {
		log.CtxError(ctx, "failed to init archive policy monitor: %v", err)
		panic(err)
	}
	archiver := worker.NewArchiver(archiveQ, cfg.Queue, jobStore, store)
	restorer := worker.NewRestorer(restoreQ, cfg.Queue, jobStore, store)

	if err = os.MkdirAll(cfg.Runner.ScratchDir, 0755); err != nil {
		log.CtxError(ctx, "failed to create scratch dir: %v", err)
		panic(err)
	}
	thaw := worker.NewThawHandler(thawQ, cfg.Queue, cfg.Runner.ScratchDir, jobStore, store)

	reaper, err := queue.NewReaper(rdb, cfg.Queue, archiveQ, restoreQ, thawQ)
	if err != nil {
		log.CtxError(ctx, "failed to init queue reaper: %v", err)
		panic(err)
	}
	if err = reaper.Start(ctx); err != nil {
		log.CtxError(ctx, "failed to start queue reaper: %v", err)
		panic(err)
	}

	if err = monitor.Start(ctx); err != nil {
		log.CtxError(ctx, "failed to start archive policy monitor: %v", err)
		panic(err)
	}
	archiver.Start(ctx)
	restorer.Start(ctx)
	thaw.Start(ctx)
	log.CtxInfo(ctx, "tiering workers started")

	<-ctx.Done()
	log.Info("shutting down tiering workers")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	monitor.Stop(stopCtx)
	archiver.Stop(stopCtx)
	restorer.Stop(stopCtx)
	thaw.Stop(stopCtx)
	reaper.Stop(stopCtx)
	store.Wait()
	_ = mysql.Close()
	_ = redis.Close()
	log.Info("tiering workers stopped")
}
