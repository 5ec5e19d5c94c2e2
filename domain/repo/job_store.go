package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbeoliero/annotator/domain/entity"
)

// ErrConditionFailed reports that a conditional update found the record in
// a different state than required. It signals a losing writer in a race,
// not a fault; callers decide whether that is expected.
var ErrConditionFailed = errors.New("store: update condition failed")

// ErrIllegalTransition reports a status compare-and-swap whose from and to
// values violate the lifecycle ordering. Unlike ErrConditionFailed this is
// a caller bug, not a lost race.
var ErrIllegalTransition = errors.New("store: illegal status transition")

// CheckTransition validates a status compare-and-swap against the lifecycle
// ordering before the write reaches the backend. It only inspects updates
// that both set job_status and condition on it; a legal transition can
// still lose its race and come back as ErrConditionFailed.
func CheckTransition(fields map[string]any, cond *Condition) error {
	if cond == nil || cond.Field != entity.FieldJobStatus {
		return nil
	}
	next, ok := fields[entity.FieldJobStatus]
	if !ok {
		return nil
	}
	from, ok := cond.Equals.(entity.JobStatus)
	if !ok {
		return nil
	}
	to, ok := next.(entity.JobStatus)
	if !ok {
		return nil
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Condition restricts an Update to records whose field currently holds the
// given value. It is the compare-and-swap primitive the whole dispatch race
// rests on, so implementations must evaluate it atomically with the write.
type Condition struct {
	Field  string
	Equals any
}

// JobStore is the durable record store shared by every worker role.
type JobStore interface {
	// Put writes a new job record.
	Put(ctx context.Context, job *entity.Job) error

	// Get returns the record for jobId, or nil if none exists.
	Get(ctx context.Context, jobId string) (*entity.Job, error)

	// QueryByUser returns every record owned by userId.
	QueryByUser(ctx context.Context, userId string) ([]*entity.Job, error)

	// Scan visits the full table. Only the archive policy sweep uses it.
	Scan(ctx context.Context) ([]*entity.Job, error)

	// Update writes the given fields on one record. With a non-nil cond the
	// write succeeds only if the condition holds at write time, returning
	// ErrConditionFailed otherwise.
	Update(ctx context.Context, jobId string, fields map[string]any, cond *Condition) error

	// UpdateRoleByUser rewrites user_role on all of a user's records, used
	// when an entitlement changes.
	UpdateRoleByUser(ctx context.Context, userId string, role entity.UserRole) error
}

var jobStore JobStore

func SetJobStore(s JobStore) {
	jobStore = s
}

func GetJobStore() JobStore {
	return jobStore
}
