package dialect

import (
	"encoding/json"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// V5 targets API 5.0 and later, where children are nested as sub-results.
type V5 struct{}

func (V5) Name() string { return "v5" }

func (V5) CompleteParents(parents []*domain.Parent, completed time.Time) ([]byte, error) {
	entries := make([]map[string]any, 0, len(parents))
	for _, p := range parents {
		entries = append(entries, map[string]any{
			"id":            p.ID,
			"state":         "Completed",
			"startedDate":   formatDate(p.StartedDate),
			"completedDate": formatDate(completed),
		})
	}
	return json.Marshal(entries)
}

func (V5) UpdateResults(updates []domain.ParentUpdate, completed time.Time) ([]byte, error) {
	entries := make([]map[string]any, 0, len(updates))
	for _, u := range updates {
		subResults := make([]map[string]any, 0, len(u.Results))
		for _, r := range u.Results {
			props := resultProperties(r)
			props["displayName"] = r.DisplayName
			subResults = append(subResults, props)
		}
		e := map[string]any{
			"id":            u.Parent.ID,
			"durationInMs":  u.Parent.Duration,
			"completedDate": formatDate(completed),
			"subResults":    subResults,
		}
		if u.Failed() {
			e["outcome"] = string(domain.OutcomeFailed)
		}
		entries = append(entries, e)
	}
	return json.Marshal(entries)
}
