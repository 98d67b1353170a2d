// Package dialect renders request bodies for the test-run tracking backend.
// The version-specific parts live behind the Dialect interface; run and
// parent creation are rendered the same way for every API version.
package dialect

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/icnocop/pipelines-testlogger/pkg/domain"
)

// DateFormat matches the backend's ISO-8601 form with trimmed fractional milliseconds.
const DateFormat = "2006-01-02T15:04:05.999Z"

// UnitTestTypeID is the automatedTestTypeId the backend uses for unit tests.
var UnitTestTypeID = uuid.MustParse("13cdc9d9-ddb5-4fa4-a97d-d965ccfc6d4b")

// Dialect renders the two requests whose shape differs between API versions.
type Dialect interface {
	Name() string
	CompleteParents(parents []*domain.Parent, completed time.Time) ([]byte, error)
	UpdateResults(updates []domain.ParentUpdate, completed time.Time) ([]byte, error)
}

// ForVersion picks the dialect for an api-version string such as "5.0" or
// "3.0-preview.2". Only the major version is compared, so 5.x previews get V5.
func ForVersion(apiVersion string) (Dialect, error) {
	v, err := semver.NewVersion(strings.TrimSpace(apiVersion))
	if err != nil {
		return nil, fmt.Errorf("parse api version %q: %w", apiVersion, err)
	}
	if v.Major() < 5 {
		return V3{}, nil
	}
	return V5{}, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}
