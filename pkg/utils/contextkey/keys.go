package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	RequestID    key = "request_id"
	UserID       key = "user_id"
	SubmissionID key = "submission_id"
	ContestID    key = "contest_id"
)

// LogFields lists the keys copied into every log line, in output order.
var LogFields = []key{TraceID, RequestID, UserID, ContestID, SubmissionID}

// String returns the field name used in logs.
func (k key) String() string {
	return string(k)
}
