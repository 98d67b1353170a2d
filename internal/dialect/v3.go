package dialect

import (
	"encoding/json"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// V3 targets the pre-5.0 API, which has no sub-results: every child is sent
// as its own entry pointing back at the parent.
type V3 struct{}

func (V3) Name() string { return "v3" }

func (V3) CompleteParents(parents []*domain.Parent, completed time.Time) ([]byte, error) {
	entries := make([]map[string]any, 0, len(parents))
	for _, p := range parents {
		entries = append(entries, map[string]any{
			"TestResult":    map[string]any{"Id": p.ID},
			"testCase":      map[string]any{"id": p.ID},
			"state":         "Completed",
			"startedDate":   formatDate(p.StartedDate),
			"completedDate": formatDate(completed),
		})
	}
	return json.Marshal(entries)
}

func (V3) UpdateResults(updates []domain.ParentUpdate, _ time.Time) ([]byte, error) {
	entries := make([]map[string]any, 0)
	for _, u := range updates {
		for _, r := range u.Results {
			props := resultProperties(r)
			props["TestResult"] = map[string]any{"Id": u.Parent.ID}
			props["testCaseTitle"] = r.DisplayName
			entries = append(entries, props)
		}
	}
	return json.Marshal(entries)
}
