package dialect

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// RunInfo describes the run being created.
type RunInfo struct {
	Name        string
	BuildID     string
	StartedDate time.Time
}

func CreateRun(info RunInfo) ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":        info.Name,
		"build":       map[string]any{"id": info.BuildID},
		"startedDate": formatDate(info.StartedDate),
		"isAutomated": true,
	})
}

// CreateParents renders provisional in-progress parents, one per key, in order.
func CreateParents(keys []string, source string, started time.Time) ([]byte, error) {
	entries := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		e := map[string]any{
			"testCaseTitle":       k,
			"automatedTestName":   k,
			"resultGroupType":     "generic",
			"outcome":             string(domain.OutcomePassed),
			"state":               "InProgress",
			"startedDate":         formatDate(started),
			"automatedTestType":   "UnitTest",
			"automatedTestTypeId": UnitTestTypeID.String(),
		}
		if source != "" {
			e["automatedTestStorage"] = source
		}
		entries = append(entries, e)
	}
	return json.Marshal(entries)
}

func CompleteRun(started, completed time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"state":         "Completed",
		"startedDate":   formatDate(started),
		"completedDate": formatDate(completed),
	})
}

// resultProperties renders the fields shared by every dialect for one child.
func resultProperties(r domain.Result) map[string]any {
	props := map[string]any{
		"outcome": string(r.Outcome),
	}
	if !r.Outcome.Timed() {
		return props
	}

	props["durationInMs"] = r.DurationMillis()
	if r.ErrorStackTrace != "" {
		props["stackTrace"] = r.ErrorStackTrace
	}

	var stdout, stderr strings.Builder
	for _, m := range r.Messages {
		switch m.Category {
		case domain.CategoryStdOut:
			stdout.WriteString(m.Text)
			stdout.WriteString("\n")
		case domain.CategoryStdErr:
			stderr.WriteString(m.Text)
			stderr.WriteString("\n")
		}
	}
	if r.ErrorMessage != "" || stdout.Len() > 0 || stderr.Len() > 0 {
		props["errorMessage"] = r.ErrorMessage +
			"\n\n---\n\nSTDERR:\n\n" + stderr.String() +
			"\n\n---\n\nSTDOUT:\n\n" + stdout.String()
	}
	return props
}
