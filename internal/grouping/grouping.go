// Package grouping derives the parent key each test result is filed under.
package grouping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// ErrMalformedName is returned for qualified names with no usable '.' boundary.
var ErrMalformedName = errors.New("malformed qualified test name")

// Policy selects how a qualified name maps to its parent key.
type Policy int

const (
	// ByClass files results under their class path (Namespace.Class.Method -> Class).
	ByClass Policy = iota
	// ByMethod drops the leading class segment and keys on the rest of the name.
	ByMethod
)

func (p Policy) String() string {
	switch p {
	case ByClass:
		return "class"
	case ByMethod:
		return "method"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "class" or "method"; an empty string means ByClass.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "class":
		return ByClass, nil
	case "method":
		return ByMethod, nil
	default:
		return ByClass, fmt.Errorf("unknown grouping policy %q", s)
	}
}

// Key returns the grouping key for a fully qualified test name. When source is
// set and the name starts with source+".", that prefix is removed first.
func Key(name, source string, p Policy) (string, error) {
	if source != "" && strings.HasPrefix(name, source+".") {
		name = name[len(source)+1:]
	}

	switch p {
	case ByMethod:
		i := strings.IndexByte(name, '.')
		if i < 0 || i == len(name)-1 {
			return "", fmt.Errorf("%w: %q", ErrMalformedName, name)
		}
		return name[i+1:], nil
	default:
		// Arguments may contain dots, so only search before the opening paren.
		boundary := strings.IndexByte(name, '(')
		if boundary < 0 {
			boundary = len(name)
		}
		i := strings.LastIndexByte(name[:boundary], '.')
		if i <= 0 {
			return "", fmt.Errorf("%w: %q", ErrMalformedName, name)
		}
		return name[:i], nil
	}
}

// Group is the set of results in one batch that share a key.
type Group struct {
	Key     string
	Results []domain.Result
}

// GroupBy partitions results by key. Groups appear in the order their key is
// first seen and keep the relative order of their results.
func GroupBy(results []domain.Result, source string, p Policy) ([]Group, error) {
	var groups []Group
	index := make(map[string]int)
	for _, r := range results {
		key, err := Key(r.FullyQualifiedName, source, p)
		if err != nil {
			return nil, err
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Results = append(groups[i].Results, r)
	}
	return groups, nil
}
