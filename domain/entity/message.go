package entity

// Boundary message shapes. JSON field names are the wire contract between
// the front end, the workers, and the tiered storage backend; do not rename.

// SubmissionMessage announces a freshly written PENDING record. Delivery is
// at-least-once, so the dispatcher must tolerate duplicates.
type SubmissionMessage struct {
	JobId       string `json:"job_id"`
	UserId      string `json:"user_id"`
	InputBucket string `json:"s3_inputs_bucket"`
	InputKey    string `json:"s3_key_input_file"`
	Email       string `json:"email"`
}

// ArchiveRequest asks the archiver to move one completed result to cold
// storage. It carries the hot location so the archiver never has to guess.
type ArchiveRequest struct {
	JobId        string `json:"job_id"`
	ResultBucket string `json:"s3_results_bucket"`
	ResultKey    string `json:"s3_key_result_file"`
}

// RestoreRequest is published when a user's entitlement is upgraded.
type RestoreRequest struct {
	UserId string `json:"user_id"`
}

// ThawNotification is emitted by cold storage when an archive retrieval
// job finishes. JobDescription carries the annotation job id placed in the
// retrieval request's description field at initiation time.
type ThawNotification struct {
	RetrievalJobId string `json:"JobId"`
	ArchiveId      string `json:"ArchiveId"`
	JobDescription string `json:"JobDescription"`
}

// CompletionNotice is the payload published on the completion topic once a
// job's record has been updated to COMPLETED.
type CompletionNotice struct {
	JobId          string `json:"job_id"`
	Email          string `json:"email"`
	CompletionTime int64  `json:"completion_time"`
}
