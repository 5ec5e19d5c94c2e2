package main

import (
	"context"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/route"

	"github.com/mbeoliero/annotator/api"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/infra/mysql"
	"github.com/mbeoliero/annotator/infra/redis"
	"github.com/mbeoliero/annotator/internal/notify"
	"github.com/mbeoliero/annotator/pkg/log"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx := context.TODO()

	if err = mysql.Init(); err != nil {
		log.CtxError(ctx, "failed to init mysql: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "mysql initialized")

	if err = redis.Init(); err != nil {
		log.CtxError(ctx, "failed to init redis: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "redis initialized")

	webhook := notify.NewWebhookSender(map[string]string{
		cfg.Pipeline.CompletionTopic: cfg.Pipeline.CompletionWebhook,
	})
	pub := notify.NewNotifier(redis.GetClient(), cfg.Queue.KeyPrefix, webhook)

	h := server.New(server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.Port)))
	api.RegisterRoutes(h, pub)
	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.Port)

	closed := []route.CtxCallback{
		func(ctx context.Context) {
			log.CtxInfo(ctx, "start to close mysql and redis")
			_ = mysql.Close()
			_ = redis.Close()
		},
	}
	h.OnShutdown = append(h.OnShutdown, closed...)

	if err = h.Run(); err != nil {
		log.CtxError(ctx, "server error: %v", err)
		panic(err)
	}

	log.CtxInfo(ctx, "server stopped")
}
