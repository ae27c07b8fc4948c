package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.JiraURL = "https://acme.atlassian.net"
	cfg.JiraProjectKey = "TMGT"
	cfg.SlackTestWebhook = "https://hooks.example/test"
	cfg.SlackDevWebhook = "https://hooks.example/dev"
	cfg.SlackProdWebhook = "https://hooks.example/prod"
	return cfg
}

func TestHeader(t *testing.T) {
	assert.Equal(t, "Api Tests Results", Header("api_tests"))
	assert.Equal(t, "Ui Smoke Tests Results", Header("UI__smoke_tests"))
	assert.Equal(t, "Test Results", Header(""))
}

func TestSummarize(t *testing.T) {
	rep := &domain.Report{
		Created: 1700049600, // Nov 15 2023, midday UTC
		Summary: domain.ReportSummary{Total: 10, Passed: 7, Failed: 2, Collected: 12, Deselected: 2},
	}
	rc := domain.RunContext{
		RunLabel:    "Daily Run",
		Environment: "Dev",
		RunID:       "abc",
		TestType:    "api_tests",
		Build:       domain.BuildInfo{Number: "13", Origin: "https://bitbucket.org/acme/tests"},
	}
	msg := Summarize(rep, rc, Links{ReportURL: "https://jira/report", Mention: "<@U1>"})

	require.Len(t, msg.Blocks, 6)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Equal(t, "Api Tests Results", msg.Blocks[0].Text.Text)
	assert.True(t, msg.Blocks[0].Text.Emoji)
	assert.Equal(t, "divider", msg.Blocks[1].Type)
	assert.Equal(t, "🚀 *Test Run:* Daily Run\n🌎 *Environment:* Dev\n❌ *Failed:* 2\n📈 Click to open <https://jira/report|Test Report> in Jira\n", msg.Blocks[2].Text.Text)
	assert.Equal(t, "🧪 *Total Tests:* 10\n✅ *Passed:* 7\n🔄 *Executed:* 12\n⏸️ *Skipped:* 2\n"+
		"🛠️ Click to open <https://bitbucket.org/acme/tests/pipelines/results/13|Build 13>\n📡 FYA: <@U1>", msg.Blocks[4].Text.Text)
	require.Len(t, msg.Blocks[5].Elements, 1)
	assert.Equal(t, "Execution Date: _Nov-15-2023_", msg.Blocks[5].Elements[0].Text)
}

func TestSummarizeEmptyReport(t *testing.T) {
	msg := Summarize(&domain.Report{}, domain.RunContext{RunLabel: "Daily Run", Environment: "Dev"}, Links{})
	assert.Equal(t, "Test Results", msg.Blocks[0].Text.Text)
	assert.Contains(t, msg.Blocks[2].Text.Text, "❌ *Failed:* 0\n")
	stats := msg.Blocks[4].Text.Text
	for _, line := range []string{"*Total Tests:* 0", "*Passed:* 0", "*Executed:* 0", "*Skipped:* 0", "<Not Applicable|Build ->"} {
		assert.Contains(t, stats, line)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy(testConfig())
	cases := []struct {
		run, env, want string
	}{
		{"Regression Test Release 2B", "Dev", "test"},
		{"Regression Test Release 2B", "Prod", "test"},
		{"Daily Run", "Dev", "dev"},
		{"daily run", "DEV", "dev"},
		{"Daily Run", "Prod", "prod"},
		{"Daily Run", "Staging", "prod"},
	}
	for _, c := range cases {
		r, err := p.Select(domain.RunContext{RunLabel: c.run, Environment: c.env})
		require.NoError(t, err)
		assert.Equal(t, c.want, r.Name, "%s/%s", c.run, c.env)
	}
}

func TestPolicyNoRoute(t *testing.T) {
	p := Policy{{Name: "never", Match: func(domain.RunContext) bool { return false }}}
	_, err := p.Select(domain.RunContext{})
	assert.True(t, errors.Is(err, ErrNoRoute))
}

type recordingNotifier struct {
	endpoint string
	msg      domain.Message
	err      error
}

func (r *recordingNotifier) Post(ctx context.Context, endpoint string, msg domain.Message) error {
	r.endpoint = endpoint
	r.msg = msg
	return r.err
}

func TestAnnounce(t *testing.T) {
	n := &recordingNotifier{}
	a := NewAnnouncer(testConfig(), n, nil)
	rc := domain.NewRunContext(domain.RunContextInput{RunLabel: "daily run", Environment: "prod", TestType: "api_tests", RunID: "abc123"})

	require.NoError(t, a.Announce(context.Background(), &domain.Report{}, rc))
	assert.Equal(t, "https://hooks.example/prod", n.endpoint)
	section := n.msg.Blocks[2].Text.Text
	assert.Contains(t, section, "<https://acme.atlassian.net/issues/?jql=project+%3D+%22TMGT%22")
	assert.Contains(t, section, "abc123")
	assert.True(t, strings.HasSuffix(n.msg.Blocks[4].Text.Text, "📡 FYA: <@U07F4HJFT63>"))
}

func TestAnnounceDeliveryFailure(t *testing.T) {
	n := &recordingNotifier{err: errors.New("403")}
	a := NewAnnouncer(testConfig(), n, nil)
	err := a.Announce(context.Background(), &domain.Report{}, domain.RunContext{RunLabel: "Manual", Environment: "Dev"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify test channel")
}
