package host

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

const (
	actionOutput = "output"
	actionPass   = "pass"
	actionFail   = "fail"
	actionSkip   = "skip"
)

// testEvent is one line of `go test -json` output.
type testEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Output  string    `json:"Output"`
	Elapsed float64   `json:"Elapsed"`
}

// hintLine matches the file:line prefix testing adds to t.Log and t.Error output.
var hintLine = regexp.MustCompile(`^\s*[\w./-]+\.go:\d+: `)

// StreamOption configures Stream.
type StreamOption func(*streamer)

// WithPassthrough copies every line that is not a JSON event to w.
func WithPassthrough(w io.Writer) StreamOption {
	return func(s *streamer) { s.passthrough = w }
}

type streamer struct {
	passthrough io.Writer
	output      map[string][]string
}

// Stream decodes `go test -json` output from r and sends one Event per
// finished test, then a single Complete event at EOF. It does not close out.
func Stream(ctx context.Context, r io.Reader, out chan<- Event, opts ...StreamOption) error {
	s := &streamer{output: make(map[string][]string)}
	for _, opt := range opts {
		opt(s)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var ev testEvent
		if len(line) == 0 || line[0] != '{' || json.Unmarshal(line, &ev) != nil {
			if s.passthrough != nil {
				fmt.Fprintln(s.passthrough, string(line))
			}
			continue
		}

		res := s.handle(ev)
		if res == nil {
			continue
		}
		if err := send(ctx, out, Event{Result: res}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read test events: %w", err)
	}
	return send(ctx, out, Event{Complete: true})
}

func send(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *streamer) handle(ev testEvent) *domain.Result {
	if ev.Test == "" {
		return nil
	}
	key := ev.Package + "\x00" + ev.Test

	var outcome domain.Outcome
	switch ev.Action {
	case actionOutput:
		if text := strings.TrimRight(ev.Output, "\r\n"); !isFraming(text) {
			s.output[key] = append(s.output[key], text)
		}
		return nil
	case actionPass:
		outcome = domain.OutcomePassed
	case actionFail:
		outcome = domain.OutcomeFailed
	case actionSkip:
		outcome = domain.OutcomeSkipped
	default:
		return nil
	}

	lines := s.output[key]
	delete(s.output, key)
	res := newResult(ev, outcome, lines)
	return &res
}

func newResult(ev testEvent, outcome domain.Outcome, lines []string) domain.Result {
	res := domain.Result{
		Source:             ev.Package,
		FullyQualifiedName: QualifiedName(ev.Package, ev.Test),
		DisplayName:        ev.Test,
		Outcome:            outcome,
		Duration:           time.Duration(ev.Elapsed * float64(time.Second)),
	}
	for _, l := range lines {
		res.Messages = append(res.Messages, domain.Message{Category: domain.CategoryStdOut, Text: l})
	}
	if outcome != domain.OutcomeFailed {
		return res
	}

	var hints []string
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "panic:") {
			res.ErrorStackTrace = strings.Join(lines[i:], "\n")
			break
		}
		if hintLine.MatchString(l) {
			hints = append(hints, strings.TrimSpace(l))
		}
	}
	res.ErrorMessage = strings.Join(hints, "\n")
	return res
}

// QualifiedName maps a package and test to pkg.name.TestX, or
// pkg.name.TestX("sub/path") for subtests, where name is the last element of
// the import path. Once the pkg source prefix is stripped, the package name
// is the class and the top-level test the method.
func QualifiedName(pkg, test string) string {
	class := pkg + "." + path.Base(pkg)
	top, sub, ok := strings.Cut(test, "/")
	if !ok {
		return class + "." + top
	}
	return fmt.Sprintf("%s.%s(%q)", class, top, sub)
}

func isFraming(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return true
	}
	for _, p := range []string{"=== RUN", "=== PAUSE", "=== CONT", "=== NAME", "--- PASS", "--- FAIL", "--- SKIP"} {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}
