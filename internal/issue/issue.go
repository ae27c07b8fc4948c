package issue

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
	"github.com/okJiang/jira-test-reporter/internal/fingerprint"
	"github.com/okJiang/jira-test-reporter/internal/ports"
	"github.com/okJiang/jira-test-reporter/internal/regression"
	"github.com/okJiang/jira-test-reporter/internal/sanitize"
)

type Options struct {
	ProjectKey string
	IssueType  string
	Fields     config.FieldMap
	// Markers are the test tags owned by the report. Stored tags outside this
	// list are left on the issue.
	Markers []string
	DryRun  bool
}

type Manager struct {
	opts Options
}

func NewManager(opts Options) *Manager {
	if opts.IssueType == "" {
		opts.IssueType = "Task"
	}
	return &Manager{opts: opts}
}

type PlanInput struct {
	Result domain.TestResult
	Run    domain.RunContext
	// Existing is the most recently created matching issue, nil when none matched.
	Existing *domain.TrackedIssue
}

type PlannedChange struct {
	Create bool
	Ref    domain.IssueRef
	Fields domain.IssueFields
	// HistoryComment archives the previous description when the failure changed.
	HistoryComment string
	// Transition is the target status, empty when the issue already sits there.
	Transition  string
	Regression  bool
	Fingerprint string
}

func (m *Manager) PlanIssueUpdate(in PlanInput) PlannedChange {
	desc := Description(in.Result, in.Run)
	ch := PlannedChange{
		Transition:  in.Result.Status.String(),
		Fingerprint: fingerprint.Description(desc),
	}

	if in.Existing == nil {
		ch.Create = true
		ch.Fields = m.Fields(in.Result, in.Run, desc, in.Result.Labels)
		return ch
	}

	prev := *in.Existing
	ch.Ref = prev.Ref
	tags := regression.Resolve(prev.Fields.Status, in.Result.Status, m.currentTags(prev.Fields.Tags, in.Result.Labels))
	ch.Regression = regression.IsRegression(tags)
	ch.Fields = m.Fields(in.Result, in.Run, desc, tags)

	if !fingerprint.Matches(prev.Fields.Description, desc) {
		ch.HistoryComment = HistoryComment(prev)
	}
	if strings.EqualFold(strings.TrimSpace(prev.WorkflowStatus), ch.Transition) {
		ch.Transition = ""
	}
	return ch
}

// currentTags replaces the marker part of the stored tags with the markers the
// test carries now.
func (m *Manager) currentTags(stored []string, labels domain.TagSet) domain.TagSet {
	tags := domain.NewTagSet(stored...)
	for _, marker := range m.opts.Markers {
		tags = tags.Without(marker)
	}
	return tags.Union(labels)
}

// Apply performs the planned tracker mutations. They are not transactional: a
// failure part way leaves the issue partially updated.
func (m *Manager) Apply(ctx context.Context, tracker ports.Tracker, ch PlannedChange) (domain.IssueRef, error) {
	if m.opts.DryRun {
		log.WithFields(log.Fields{
			"create":     ch.Create,
			"issue":      ch.Ref.Key,
			"summary":    ch.Fields.Summary,
			"status":     ch.Fields.Status,
			"tags":       ch.Fields.Tags,
			"history":    ch.HistoryComment != "",
			"transition": ch.Transition,
		}).Info("dry-run issue change")
		return ch.Ref, nil
	}

	if ch.Create {
		ref, err := tracker.Create(ctx, ch.Fields)
		if err != nil {
			return domain.IssueRef{}, errors.Wrapf(err, "create issue %q", ch.Fields.Summary)
		}
		if err := tracker.Transition(ctx, ref, ch.Transition); err != nil {
			return ref, errors.Wrapf(err, "transition %s to %s", ref.Key, ch.Transition)
		}
		return ref, nil
	}

	if ch.HistoryComment != "" {
		if err := tracker.Comment(ctx, ch.Ref, ch.HistoryComment); err != nil {
			return ch.Ref, errors.Wrapf(err, "comment on %s", ch.Ref.Key)
		}
	}
	if err := tracker.Update(ctx, ch.Ref, ch.Fields); err != nil {
		return ch.Ref, errors.Wrapf(err, "update %s", ch.Ref.Key)
	}
	if ch.Transition != "" {
		if err := tracker.Transition(ctx, ch.Ref, ch.Transition); err != nil {
			return ch.Ref, errors.Wrapf(err, "transition %s to %s", ch.Ref.Key, ch.Transition)
		}
	}
	return ch.Ref, nil
}

func (m *Manager) Fields(tr domain.TestResult, rc domain.RunContext, description string, tags domain.TagSet) domain.IssueFields {
	var types []string
	if tr.Type != "" {
		types = []string{tr.Type}
	}
	return domain.IssueFields{
		Project:     m.opts.ProjectKey,
		Summary:     Summary(tr),
		IssueType:   m.opts.IssueType,
		Environment: rc.Environment,
		Area:        tr.Area,
		Types:       types,
		RunLabel:    rc.RunLabel,
		Description: description,
		Tags:        tags.Slice(),
		Status:      tr.Status,
		RunID:       rc.RunID,
	}
}

// SearchQuery finds the issue tracking tr in the run label and environment of rc.
func (m *Manager) SearchQuery(tr domain.TestResult, rc domain.RunContext) string {
	f := m.opts.Fields
	return fmt.Sprintf("project = %s AND %s ~ %s AND type = %s AND %s = %s AND %s = %s AND summary ~ %s ORDER BY createdDate DESC",
		quote(m.opts.ProjectKey),
		f.RunLabel.JQL, phrase(rc.RunLabel),
		quote(m.opts.IssueType),
		f.Environment.JQL, quote(rc.Environment),
		f.Area.JQL, quote(tr.Area),
		phrase(Summary(tr)),
	)
}

// FailedRunQuery lists the failed and skipped issues touched by a run.
func (m *Manager) FailedRunQuery(runID string) string {
	f := m.opts.Fields
	return fmt.Sprintf("project = %s AND %s ~ %s AND %s IN (%s, %s) ORDER BY status ASC",
		quote(m.opts.ProjectKey),
		f.RunID.JQL, quote(runID),
		f.Status.JQL, domain.StatusFailed, domain.StatusSkipped,
	)
}

// SearchURL is the browser link for a JQL query.
func SearchURL(baseURL, jql string) string {
	return strings.TrimRight(baseURL, "/") + "/issues/?" + url.Values{"jql": {jql}}.Encode()
}

func Summary(tr domain.TestResult) string { return tr.Name }

func Description(tr domain.TestResult, rc domain.RunContext) string {
	var b strings.Builder
	if tr.Status == domain.StatusFailed {
		b.WriteString("\n*Failure Message:*\n{code}")
		b.WriteString(sanitize.Scrub(tr.FailureMessage))
		b.WriteString("{code}")
	}
	b.WriteString("\n*Test Path*: ")
	b.WriteString(tr.Path)
	b.WriteString(Footer(rc))
	return b.String()
}

func Footer(rc domain.RunContext) string {
	return fmt.Sprintf("\n*Build Number:* %s\n*Build URL:* %s\n", rc.Build.NumberOrNA(), rc.Build.URL())
}

func HistoryComment(prev domain.TrackedIssue) string {
	return fmt.Sprintf("\nPreviously with Test Run ID: %s\n%s", prev.Fields.RunID, prev.Fields.Description)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// phrase builds an exact-phrase text search operand.
func phrase(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return quote(`"` + s + `"`)
}
