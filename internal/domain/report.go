package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Report mirrors the subset of the pytest-json-report schema this tool consumes.
type Report struct {
	Created float64       `json:"created"`
	Summary ReportSummary `json:"summary"`
	Tests   []ReportTest  `json:"tests"`
}

type ReportSummary struct {
	Total      int `json:"total"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Collected  int `json:"collected"`
	Deselected int `json:"deselected"`
}

type ReportTest struct {
	NodeID   string      `json:"nodeid"`
	Outcome  string      `json:"outcome"`
	Keywords Keywords    `json:"keywords"`
	Call     *ReportCall `json:"call,omitempty"`
}

type ReportCall struct {
	Crash *ReportCrash `json:"crash,omitempty"`
}

type ReportCrash struct {
	Message string `json:"message"`
}

// FailureMessage returns call.crash.message and whether it was present.
func (t ReportTest) FailureMessage() (string, bool) {
	if t.Call == nil || t.Call.Crash == nil {
		return "", false
	}
	return t.Call.Crash.Message, true
}

func (r Report) CreatedAt() time.Time {
	sec := int64(r.Created)
	nsec := int64((r.Created - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Keywords accepts both the list form and the {"name": 1} object form of pytest keywords.
type Keywords []string

func (k *Keywords) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*k = list
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	out := make([]string, 0, len(obj))
	for name := range obj {
		out = append(out, name)
	}
	sort.Strings(out)
	*k = out
	return nil
}
