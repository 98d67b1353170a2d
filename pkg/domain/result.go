package domain

import (
	"encoding"
	"time"
)

type Outcome string

const (
	OutcomePassed   Outcome = "Passed"
	OutcomeFailed   Outcome = "Failed"
	OutcomeSkipped  Outcome = "Skipped"
	OutcomeNotFound Outcome = "NotFound"
	OutcomeNone     Outcome = "None"
)

type MessageCategory string

const (
	CategoryStdOut MessageCategory = "StdOutMsgs"
	CategoryStdErr MessageCategory = "StdErrMsgs"
	CategoryOther  MessageCategory = "Other"
)

// Message is one line of output captured while a test ran.
type Message struct {
	Category MessageCategory `json:"category"`
	Text     string          `json:"text"`
}

// Result is a single test outcome reported by the host. It is treated as
// immutable once handed to the pipeline.
type Result struct {
	Source             string        `json:"source,omitempty"`
	FullyQualifiedName string        `json:"fullyQualifiedName"`
	DisplayName        string        `json:"displayName,omitempty"`
	Outcome            Outcome       `json:"outcome"`
	Duration           time.Duration `json:"duration"`
	ErrorMessage       string        `json:"errorMessage,omitempty"`
	ErrorStackTrace    string        `json:"errorStackTrace,omitempty"`
	Messages           []Message     `json:"messages,omitempty"`
}

// DurationMillis truncates the duration to whole milliseconds, the unit the backend stores.
func (r Result) DurationMillis() int64 { return r.Duration.Milliseconds() }

// Timed reports whether the backend accepts a duration and error detail for this outcome.
func (o Outcome) Timed() bool { return o == OutcomePassed || o == OutcomeFailed }

var (
	_ encoding.TextMarshaler = Outcome("")
	_ encoding.TextMarshaler = MessageCategory("")
)

func (o Outcome) MarshalText() ([]byte, error)         { return []byte(string(o)), nil }
func (c MessageCategory) MarshalText() ([]byte, error) { return []byte(string(c)), nil }
