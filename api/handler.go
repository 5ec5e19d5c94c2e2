package api

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/service"
	"github.com/mbeoliero/annotator/internal/notify"
)

type JobHandler struct {
	jobService *service.JobService
}

func NewJobHandler(pub notify.Publisher) *JobHandler {
	return &JobHandler{
		jobService: service.NewJobService(pub),
	}
}

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type SubmitJobRequest struct {
	UserId   string          `json:"user_id" binding:"required"`
	UserRole entity.UserRole `json:"user_role"`
	Email    string          `json:"email"`
	Filename string          `json:"filename" binding:"required"`
}

// JobDetail decorates a record with the user-facing archival state. A
// premium user's archived result gets a restore hint while it is on its way
// back from cold storage; a free user's archived result is simply out of
// reach until they upgrade.
type JobDetail struct {
	*entity.Job
	RestoreMessage    string `json:"restore_message,omitempty"`
	FreeAccessExpired bool   `json:"free_access_expired,omitempty"`
}

func newJobDetail(job *entity.Job) *JobDetail {
	detail := &JobDetail{Job: job}
	if job.ArchiveId == "" {
		return detail
	}
	if job.UserRole == entity.UserRolePremium {
		detail.RestoreMessage = "your file is being restored from archive"
	} else {
		detail.FreeAccessExpired = true
	}
	return detail
}

func (h *JobHandler) SubmitJob(ctx context.Context, c *app.RequestContext) {
	var req SubmitJobRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, Response{
			Code:    consts.StatusBadRequest,
			Message: "invalid request: " + err.Error(),
		})
		return
	}

	job, err := h.jobService.SubmitJob(ctx, req.UserId, req.UserRole, req.Email, req.Filename)
	if err != nil {
		status := consts.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidInput) {
			status = consts.StatusBadRequest
		}
		c.JSON(status, Response{
			Code:    status,
			Message: "failed to submit job: " + err.Error(),
		})
		return
	}

	c.JSON(consts.StatusOK, Response{
		Code:    consts.StatusOK,
		Message: "success",
		Data:    job,
	})
}

func (h *JobHandler) GetJob(ctx context.Context, c *app.RequestContext) {
	jobId := c.Param("id")

	job, err := h.jobService.GetJob(ctx, jobId)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(consts.StatusNotFound, Response{
				Code:    consts.StatusNotFound,
				Message: "job not found",
			})
			return
		}
		c.JSON(consts.StatusInternalServerError, Response{
			Code:    consts.StatusInternalServerError,
			Message: "failed to get job: " + err.Error(),
		})
		return
	}

	c.JSON(consts.StatusOK, Response{
		Code:    consts.StatusOK,
		Message: "success",
		Data:    newJobDetail(job),
	})
}

func (h *JobHandler) ListUserJobs(ctx context.Context, c *app.RequestContext) {
	userId := c.Param("id")

	jobs, err := h.jobService.ListJobs(ctx, userId)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, Response{
			Code:    consts.StatusInternalServerError,
			Message: "failed to list jobs: " + err.Error(),
		})
		return
	}

	c.JSON(consts.StatusOK, Response{
		Code:    consts.StatusOK,
		Message: "success",
		Data:    jobs,
	})
}

func (h *JobHandler) Subscribe(ctx context.Context, c *app.RequestContext) {
	userId := c.Param("id")

	if err := h.jobService.Subscribe(ctx, userId); err != nil {
		c.JSON(consts.StatusInternalServerError, Response{
			Code:    consts.StatusInternalServerError,
			Message: "failed to upgrade subscription: " + err.Error(),
		})
		return
	}

	c.JSON(consts.StatusOK, Response{
		Code:    consts.StatusOK,
		Message: "success",
	})
}

func (h *JobHandler) Unsubscribe(ctx context.Context, c *app.RequestContext) {
	userId := c.Param("id")

	if err := h.jobService.Unsubscribe(ctx, userId); err != nil {
		c.JSON(consts.StatusInternalServerError, Response{
			Code:    consts.StatusInternalServerError,
			Message: "failed to cancel subscription: " + err.Error(),
		})
		return
	}

	c.JSON(consts.StatusOK, Response{
		Code:    consts.StatusOK,
		Message: "success",
	})
}

func (h *JobHandler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, Response{
		Code:    consts.StatusOK,
		Message: "ok",
	})
}
