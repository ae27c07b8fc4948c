package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Status string

const (
	StatusUnknown Status = ""
	StatusPassed  Status = "Passed"
	StatusFailed  Status = "Failed"
	StatusSkipped Status = "Skipped"
)

// ParseStatus accepts tracker values and pytest outcomes, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passed", "xpassed":
		return StatusPassed, nil
	case "failed", "error":
		return StatusFailed, nil
	case "skipped", "xfailed":
		return StatusSkipped, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown test status %q", s)
	}
}

func (s Status) String() string { return string(s) }

// TestResult is one reported test, derived from a report entry.
type TestResult struct {
	Type           string
	Area           string
	Name           string
	Status         Status
	FailureMessage string
	Labels         TagSet
	Path           string
}

const NotApplicable = "Not Applicable"

type BuildInfo struct {
	Number string
	Origin string
}

func (b BuildInfo) NumberOrNA() string {
	if strings.TrimSpace(b.Number) == "" {
		return NotApplicable
	}
	return b.Number
}

func (b BuildInfo) URL() string {
	if strings.TrimSpace(b.Origin) == "" {
		return NotApplicable
	}
	return strings.TrimRight(b.Origin, "/") + "/pipelines/results/" + b.Number
}

// RunContext is created once per invocation and only read afterwards.
type RunContext struct {
	RunLabel    string
	Environment string
	RunID       string
	TestType    string
	Build       BuildInfo
}

type RunContextInput struct {
	RunLabel    string
	Environment string
	TestType    string
	Build       BuildInfo
	RunID       string
}

func NewRunContext(in RunContextInput) RunContext {
	runID := in.RunID
	if runID == "" {
		runID = NewRunID()
	}
	return RunContext{
		RunLabel:    Title(in.RunLabel),
		Environment: Title(in.Environment),
		RunID:       runID,
		TestType:    in.TestType,
		Build:       in.Build,
	}
}

// NewRunID returns a 32 char hex identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func Title(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}

type IssueRef struct {
	ID  string
	Key string
}

func (r IssueRef) String() string { return r.Key }

// IssueFields are the tracker fields this tool owns on an issue.
type IssueFields struct {
	Project     string
	Summary     string
	IssueType   string
	Environment string
	Area        string
	Types       []string
	RunLabel    string
	Description string
	Tags        []string
	Status      Status
	RunID       string
}

type TrackedIssue struct {
	Ref            IssueRef
	Fields         IssueFields
	WorkflowStatus string
}
