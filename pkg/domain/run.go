package domain

import "time"

// RunState is the lifecycle state the backend reports for a test run.
type RunState string

const (
	RunInProgress RunState = "InProgress"
	RunCompleted  RunState = "Completed"
)

// RunRecord is the fake backend's stored view of a test run.
type RunRecord struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	BuildID       string    `json:"buildId,omitempty"`
	State         RunState  `json:"state"`
	IsAutomated   bool      `json:"isAutomated"`
	StartedDate   string    `json:"startedDate,omitempty"`
	CompletedDate string    `json:"completedDate,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ResultRecord is one stored test result. The backend accepts arbitrary
// fields, so records are kept as decoded JSON objects keyed by "id".
type ResultRecord map[string]any

// ID returns the record id, or 0 when it has none.
func (r ResultRecord) ID() int {
	switch v := r["id"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// CapturedRequest is one request recorded by the fake backend.
type CapturedRequest struct {
	RequestID  string    `json:"requestId"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	APIVersion string    `json:"apiVersion"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// CreateRunRequest is the body of a run creation call.
type CreateRunRequest struct {
	Name  string `json:"name"`
	Build struct {
		ID string `json:"id"`
	} `json:"build"`
	StartedDate string `json:"startedDate"`
	IsAutomated bool   `json:"isAutomated"`
}

// UpdateRunRequest is the body of a run update call.
type UpdateRunRequest struct {
	State         RunState `json:"state"`
	StartedDate   string   `json:"startedDate"`
	CompletedDate string   `json:"completedDate"`
}
