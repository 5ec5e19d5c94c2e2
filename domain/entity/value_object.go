package entity

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusError     JobStatus = "ERROR"
)

// statusRank orders the forward path. ERROR sits outside the ordering: it
// is reachable from any non-terminal state and never exited.
var statusRank = map[JobStatus]int{
	JobStatusPending:   0,
	JobStatusRunning:   1,
	JobStatusCompleted: 2,
}

// Terminal reports whether no further status transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// CanTransition reports whether moving from s to next respects the
// monotonic PENDING < RUNNING < COMPLETED ordering.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusError {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type UserRole string

const (
	UserRoleFree    UserRole = "free"
	UserRolePremium UserRole = "premium"
)

type StorageTier string

const (
	TierHot  StorageTier = "hot"
	TierCold StorageTier = "cold"
)

// Location references an object in the blob store. For the cold tier the
// bucket/key still name the hot slot the object came from and will return
// to; the archive handle lives on the job record.
type Location struct {
	Bucket string      `json:"bucket"`
	Key    string      `json:"key"`
	Tier   StorageTier `json:"tier"`
}
