package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from JobStatus
		to   JobStatus
		ok   bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusPending, JobStatusCompleted, true},
		{JobStatusPending, JobStatusError, true},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusError, true},
		{JobStatusRunning, JobStatusPending, false},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusCompleted, JobStatusError, false},
		{JobStatusError, JobStatusRunning, false},
		{JobStatusError, JobStatusCompleted, false},
		{JobStatusPending, JobStatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusError.Terminal())
}

func TestJob_ArchiveEligible(t *testing.T) {
	now := time.Now()
	grace := time.Hour
	base := func() *Job {
		return &Job{
			JobId:        "job-1",
			UserRole:     UserRoleFree,
			JobStatus:    JobStatusCompleted,
			CompleteTime: now.Add(-2 * time.Hour).Unix(),
		}
	}

	assert.True(t, base().ArchiveEligible(now, grace))

	j := base()
	j.UserRole = UserRolePremium
	assert.False(t, j.ArchiveEligible(now, grace), "premium jobs never archive")

	j = base()
	j.JobStatus = JobStatusRunning
	assert.False(t, j.ArchiveEligible(now, grace), "only completed jobs archive")

	j = base()
	j.JobStatus = JobStatusError
	assert.False(t, j.ArchiveEligible(now, grace))

	j = base()
	j.CompleteTime = now.Add(-30 * time.Minute).Unix()
	assert.False(t, j.ArchiveEligible(now, grace), "grace period not elapsed")

	j = base()
	j.Archived = 1
	assert.False(t, j.ArchiveEligible(now, grace), "guard already set")

	j = base()
	j.ArchiveId = "archive-1"
	assert.False(t, j.ArchiveEligible(now, grace), "already in cold storage")
}
