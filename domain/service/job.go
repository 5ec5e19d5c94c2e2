package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbeoliero/annotator/domain/entity"
	"github.com/mbeoliero/annotator/domain/repo"
	"github.com/mbeoliero/annotator/infra/config"
	"github.com/mbeoliero/annotator/internal/notify"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidInput = errors.New("invalid submission")
)

// JobService is the front-end facing surface: it creates job records,
// answers status queries, and handles entitlement changes. Every mutation
// follows write-before-notify: the record is durable before any message
// about it is published, so no worker ever sees a message without a record.
type JobService struct {
	store    repo.JobStore
	pub      notify.Publisher
	pipeline config.PipelineConfig
	inputs   string
}

func NewJobService(pub notify.Publisher) *JobService {
	cfg := config.Get()
	return &JobService{
		store:    repo.GetJobStore(),
		pub:      pub,
		pipeline: cfg.Pipeline,
		inputs:   cfg.Storage.InputsBucket,
	}
}

// SubmitJob writes a PENDING record for an input object the caller has
// already uploaded, then publishes the submission message.
func (s *JobService) SubmitJob(ctx context.Context, userId string, role entity.UserRole, email, filename string) (*entity.Job, error) {
	if userId == "" || filename == "" {
		return nil, fmt.Errorf("%w: user_id and filename are required", ErrInvalidInput)
	}
	if !strings.HasSuffix(filename, ".vcf") {
		return nil, fmt.Errorf("%w: input must be a .vcf file", ErrInvalidInput)
	}
	if role == "" {
		role = entity.UserRoleFree
	}

	jobId := uuid.New().String()
	inputKey := userId + "/" + jobId + "~" + filename

	job := &entity.Job{
		JobId:         jobId,
		UserId:        userId,
		UserRole:      role,
		JobStatus:     entity.JobStatusPending,
		InputLocation: &entity.Location{Bucket: s.inputs, Key: inputKey, Tier: entity.TierHot},
		SubmitTime:    time.Now().Unix(),
	}
	if err := s.store.Put(ctx, job); err != nil {
		return nil, err
	}

	msg := &entity.SubmissionMessage{
		JobId:       jobId,
		UserId:      userId,
		InputBucket: s.inputs,
		InputKey:    inputKey,
		Email:       email,
	}
	if err := s.pub.Publish(ctx, s.pipeline.SubmissionTopic, msg); err != nil {
		return nil, fmt.Errorf("record written but submission not published, jobId %s: %w", jobId, err)
	}

	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, jobId string) (*entity.Job, error) {
	job, err := s.store.Get(ctx, jobId)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *JobService) ListJobs(ctx context.Context, userId string) ([]*entity.Job, error) {
	return s.store.QueryByUser(ctx, userId)
}

// Subscribe upgrades a user to premium and triggers restoration of their
// archived results.
func (s *JobService) Subscribe(ctx context.Context, userId string) error {
	if err := s.store.UpdateRoleByUser(ctx, userId, entity.UserRolePremium); err != nil {
		return err
	}
	return s.pub.Publish(ctx, s.pipeline.RestoreTopic, &entity.RestoreRequest{UserId: userId})
}

// Unsubscribe drops a user back to the free tier. Their completed results
// become archive-eligible again on the next sweep after the grace period.
func (s *JobService) Unsubscribe(ctx context.Context, userId string) error {
	return s.store.UpdateRoleByUser(ctx, userId, entity.UserRoleFree)
}
