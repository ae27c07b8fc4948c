package notify

import (
	"fmt"
	"strings"

	"github.com/okJiang/jira-test-reporter/internal/domain"
)

const dateLayout = "Jan-02-2006"

// Links carries the per-run values that are not part of the report itself.
type Links struct {
	// ReportURL opens the failed and skipped issues of the run in Jira.
	ReportURL string
	Mention   string
}

// Summarize renders the run summary as Slack blocks. Missing counters read as zero.
func Summarize(rep *domain.Report, rc domain.RunContext, links Links) domain.Message {
	var sum domain.ReportSummary
	created := domain.Report{}.CreatedAt()
	if rep != nil {
		sum = rep.Summary
		created = rep.CreatedAt()
	}

	buildNumber := rc.Build.Number
	if strings.TrimSpace(buildNumber) == "" {
		buildNumber = "-"
	}

	run := fmt.Sprintf("🚀 *Test Run:* %s\n"+
		"🌎 *Environment:* %s\n"+
		"❌ *Failed:* %d\n"+
		"📈 Click to open <%s|Test Report> in Jira\n",
		rc.RunLabel, rc.Environment, sum.Failed, links.ReportURL)

	stats := fmt.Sprintf("🧪 *Total Tests:* %d\n"+
		"✅ *Passed:* %d\n"+
		"🔄 *Executed:* %d\n"+
		"⏸️ *Skipped:* %d\n"+
		"🛠️ Click to open <%s|Build %s>\n"+
		"📡 FYA: %s",
		sum.Total, sum.Passed, sum.Collected, sum.Deselected, rc.Build.URL(), buildNumber, links.Mention)

	return domain.Message{Blocks: []domain.Block{
		{Type: "header", Text: &domain.TextObject{Type: "plain_text", Text: Header(rc.TestType), Emoji: true}},
		{Type: "divider"},
		{Type: "section", Text: &domain.TextObject{Type: "mrkdwn", Text: run}},
		{Type: "divider"},
		{Type: "section", Text: &domain.TextObject{Type: "mrkdwn", Text: stats}},
		{Type: "context", Elements: []domain.TextObject{
			{Type: "mrkdwn", Text: "Execution Date: _" + created.Format(dateLayout) + "_"},
		}},
	}}
}

// Header turns a suite directory such as api_tests into "Api Tests Results".
func Header(testType string) string {
	words := strings.Fields(strings.ReplaceAll(testType, "_", " "))
	if len(words) == 0 {
		return "Test Results"
	}
	return domain.Title(strings.ToLower(strings.Join(words, " "))) + " Results"
}
