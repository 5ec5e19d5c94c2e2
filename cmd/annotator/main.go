// The annotator process runs the forward path: it consumes submission
// messages, launches the annotation computation, and handles completion.
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
	"github.com/mbeoliero/annotator/internal/runner"
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
	webhook := notify.NewWebhookSender(map[string]string{
		cfg.Pipeline.CompletionTopic: cfg.Pipeline.CompletionWebhook,
	})
	pub := notify.NewNotifier(rdb, cfg.Queue.KeyPrefix, webhook)

	store, err := blob.NewFSStore(cfg.Storage, pub, cfg.Pipeline.ThawTopic)
	if err != nil {
		log.CtxError(ctx, "failed to init blob store: %v", err)
		panic(err)
	}

	submissions := queue.New(rdb, cfg.Queue.KeyPrefix, cfg.Pipeline.SubmissionQueue, cfg.Queue.VisibilityTimeout)
	if err = pub.Subscribe(ctx, cfg.Pipeline.SubmissionTopic, submissions); err != nil {
		log.CtxError(ctx, "failed to subscribe submission queue: %v", err)
		panic(err)
	}

	completer := worker.NewCompleter(repo.GetJobStore(), store, pub, cfg.Storage.ResultsBucket, cfg.Pipeline.CompletionTopic)
	procRunner := runner.NewProcessRunner(cfg.Runner, completer)
	dispatcher := worker.NewDispatcher(submissions, cfg.Queue, cfg.Runner.ScratchDir, repo.GetJobStore(), store, procRunner)

	reaper, err := queue.NewReaper(rdb, cfg.Queue, submissions)
	if err != nil {
		log.CtxError(ctx, "failed to init queue reaper: %v", err)
		panic(err)
	}
	if err = reaper.Start(ctx); err != nil {
		log.CtxError(ctx, "failed to start queue reaper: %v", err)
		panic(err)
	}

	dispatcher.Start(ctx)
	log.CtxInfo(ctx, "annotator started")

	<-ctx.Done()
	log.Info("shutting down annotator")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dispatcher.Stop(stopCtx)
	reaper.Stop(stopCtx)
	procRunner.Wait()
	store.Wait()
	_ = mysql.Close()
	_ = redis.Close()
	log.Info("annotator stopped")
}
