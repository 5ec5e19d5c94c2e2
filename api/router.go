package api

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/mbeoliero/annotator/internal/notify"
)

func RegisterRoutes(h *server.Hertz, pub notify.Publisher) {
	handler := NewJobHandler(pub)

	h.GET("/health", handler.HealthCheck)

	v1 := h.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", handler.SubmitJob)
			jobs.GET("/:id", handler.GetJob)
		}

		users := v1.Group("/users")
		{
			users.GET("/:id/jobs", handler.ListUserJobs)
			users.POST("/:id/subscribe", handler.Subscribe)
			users.POST("/:id/unsubscribe", handler.Unsubscribe)
		}
	}
}
