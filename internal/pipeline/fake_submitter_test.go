package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

type call struct {
	Method     string
	Endpoint   string
	APIVersion string
	Body       []byte
}

func (c call) String() string { return c.Method + " " + c.Endpoint }

// fakeSubmitter records every request and answers like the runs API. hook, if
// set, runs first and may replace the response or fail the request.
type fakeSubmitter struct {
	mu       sync.Mutex
	calls    []call
	nextID   int
	hook     func(ctx context.Context, c call) ([]byte, error, bool)
	runID    int
	parentID int
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{runID: 1, parentID: 100}
}

func (f *fakeSubmitter) Submit(ctx context.Context, method, endpoint, apiVersion string, body []byte) ([]byte, error) {
	c := call{Method: method, Endpoint: endpoint, APIVersion: apiVersion, Body: append([]byte(nil), body...)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if resp, err, handled := hook(ctx, c); handled {
			return resp, err
		}
	}
	return f.respond(c)
}

func (f *fakeSubmitter) respond(c call) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case c.Method == http.MethodPost && c.Endpoint == "":
		return []byte(fmt.Sprintf(`{"id":%d}`, f.runID)), nil
	case c.Method == http.MethodPost && strings.HasSuffix(c.Endpoint, "/results"):
		var entries []map[string]any
		if err := json.Unmarshal(c.Body, &entries); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(entries))
		for range entries {
			f.parentID++
			ids = append(ids, fmt.Sprintf(`{"id":%d}`, f.parentID))
		}
		return []byte(fmt.Sprintf(`{"count":%d,"value":[%s]}`, len(entries), strings.Join(ids, ","))), nil
	default:
		return []byte(`{}`), nil
	}
}

func (f *fakeSubmitter) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeSubmitter) summary() []string {
	calls := f.snapshot()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
