package domain

import "time"

// Parent is the remote aggregation record (a fixture or class) that child
// results are attached to. ID and StartedDate never change after creation;
// Duration only grows.
type Parent struct {
	ID          int       `json:"id"`
	Key         string    `json:"key"`
	Duration    int64     `json:"durationInMs"`
	StartedDate time.Time `json:"startedDate"`
}

// ParentUpdate pairs a parent with the children of one batch that belong to it.
type ParentUpdate struct {
	Parent  *Parent
	Results []Result
}

// Failed reports whether any child in the update failed.
func (u ParentUpdate) Failed() bool {
	for _, r := range u.Results {
		if r.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// TotalMillis sums the child durations of the update.
func (u ParentUpdate) TotalMillis() int64 {
	var total int64
	for _, r := range u.Results {
		total += r.DurationMillis()
	}
	return total
}
