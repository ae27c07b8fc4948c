// Package report loads pytest-json-report files and turns their entries into
// test results.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/okJiang/jira-test-reporter/internal/domain"
)

const NoFailureMessage = "No failure message available"

// DefaultMarkers is the allow-list of pytest markers copied onto issues as tags.
var DefaultMarkers = []string{"classificationAccuracyTest", "dataIntegrityTest", "skipOnLocal", "graphql", "RestAPIs", "only"}

type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("report file %s not found", e.Path)
}

type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid report file %s: %s", e.Path, e.Reason)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Read loads and validates the report at path.
func Read(path string) (*domain.Report, error) {
	rep, _, err := Load(path)
	return rep, err
}

// Load is Read that also hands back the raw file contents.
func Load(path string) (*domain.Report, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &NotFoundError{Path: path}
		}
		return nil, nil, errors.Wrapf(err, "read report %s", path)
	}
	rep, err := Parse(path, b)
	if err != nil {
		return nil, nil, err
	}
	return rep, b, nil
}

// Parse decodes raw report bytes; path is only used in error messages.
func Parse(path string, b []byte) (*domain.Report, error) {
	var rep domain.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, &FormatError{Path: path, Reason: err.Error()}
	}
	for i, t := range rep.Tests {
		if strings.TrimSpace(t.NodeID) == "" {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("test %d has no nodeid", i)}
		}
		if _, err := domain.ParseStatus(t.Outcome); err != nil {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("test %s: %v", t.NodeID, err)}
		}
	}
	return &rep, nil
}

// TestType is the first path segment of the first test, e.g. "api_tests".
func TestType(rep *domain.Report) string {
	if rep == nil || len(rep.Tests) == 0 {
		return ""
	}
	return strings.SplitN(rep.Tests[0].NodeID, "/", 2)[0]
}

// Results converts report entries in report order. Labels are restricted to markers.
func Results(rep *domain.Report, markers []string) ([]domain.TestResult, error) {
	allowed := domain.NewTagSet(markers...)
	testType := TestType(rep)
	out := make([]domain.TestResult, 0, len(rep.Tests))
	for _, t := range rep.Tests {
		status, err := domain.ParseStatus(t.Outcome)
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("test %s: %v", t.NodeID, err)}
		}
		path := NormalizeNodeID(t.NodeID)
		tr := domain.TestResult{
			Type:   testType,
			Area:   Area(path),
			Name:   Name(path),
			Status: status,
			Path:   path,
			Labels: domain.NewTagSet(),
		}
		if status == domain.StatusFailed {
			msg, ok := t.FailureMessage()
			if !ok {
				log.Warnf("failed test %s has no crash message", t.NodeID)
				msg = NoFailureMessage
			}
			tr.FailureMessage = msg
		}
		for _, kw := range t.Keywords {
			if allowed.Has(kw) {
				tr.Labels = tr.Labels.With(kw)
			}
		}
		out = append(out, tr)
	}
	return out, nil
}

// NormalizeNodeID turns parametrized ids like test_x[a] into test_x-a.
func NormalizeNodeID(nodeID string) string {
	return strings.ReplaceAll(strings.ReplaceAll(nodeID, "[", "-"), "]", "")
}

func Area(path string) string {
	parts := strings.Split(path, "/")
	seg := parts[0]
	if len(parts) > 1 {
		seg = parts[1]
	}
	return strings.ReplaceAll(seg, "_", " ")
}

func Name(path string) string {
	parts := strings.Split(path, "::")
	name := parts[len(parts)-1]
	name = strings.Replace(name, "test_", "", 1)
	name = strings.ReplaceAll(name, "_", " ")
	return strings.TrimSpace(capitalize(name))
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
