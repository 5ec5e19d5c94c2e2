package entity

import "time"

const (
	FieldJobId          = "job_id"
	FieldUserId         = "user_id"
	FieldUserRole       = "user_role"
	FieldJobStatus      = "job_status"
	FieldInputLocation  = "input_location"
	FieldResultLocation = "result_location"
	FieldLogLocation    = "log_location"
	FieldSubmitTime     = "submit_time"
	FieldCompleteTime   = "complete_time"
	FieldArchiveId      = "archive_id"
	FieldArchived       = "archived"
)

// Job is the single durable record of an annotation job. JobId and UserId
// are immutable after submission; everything else is mutated by exactly one
// worker role per field (see internal/worker).
type Job struct {
	JobId          string    `json:"job_id" gorm:"primaryKey;column:job_id"`
	UserId         string    `json:"user_id" gorm:"column:user_id;index:idx_user_id"`
	UserRole       UserRole  `json:"user_role" gorm:"column:user_role"`
	JobStatus      JobStatus `json:"job_status" gorm:"column:job_status"`
	InputLocation  *Location `json:"input_location" gorm:"column:input_location;serializer:json"`
	ResultLocation *Location `json:"result_location,omitempty" gorm:"column:result_location;serializer:json"`
	LogLocation    *Location `json:"log_location,omitempty" gorm:"column:log_location;serializer:json"`
	SubmitTime     int64     `json:"submit_time" gorm:"column:submit_time"`               // unix seconds
	CompleteTime   int64     `json:"complete_time,omitempty" gorm:"column:complete_time"` // unix seconds, set once at COMPLETED
	ArchiveId      string    `json:"archive_id,omitempty" gorm:"column:archive_id"`       // cold storage handle, empty while hot
	Archived       int       `json:"archived" gorm:"column:archived"`                     // sweep guard, 0 or 1
}

func (j *Job) TableName() string {
	return "annotation_job"
}

// ArchiveEligible reports whether the periodic sweep should flag this job
// for cold-tier migration. The archived guard keeps a job that is already
// in the archival pipeline from being selected again on the next sweep.
func (j *Job) ArchiveEligible(now time.Time, grace time.Duration) bool {
	if j.Archived != 0 || j.ArchiveId != "" {
		return false
	}
	if j.UserRole != UserRoleFree || j.JobStatus != JobStatusCompleted {
		return false
	}
	return now.Unix()-j.CompleteTime > int64(grace.Seconds())
}
