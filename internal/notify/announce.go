package notify

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
	"github.com/okJiang/jira-test-reporter/internal/issue"
	"github.com/okJiang/jira-test-reporter/internal/ports"
)

type Announcer struct {
	cfg      config.Config
	notifier ports.Notifier
	policy   Policy
	queries  *issue.Manager
}

func NewAnnouncer(cfg config.Config, notifier ports.Notifier, policy Policy) *Announcer {
	if policy == nil {
		policy = DefaultPolicy(cfg)
	}
	return &Announcer{
		cfg:      cfg,
		notifier: notifier,
		policy:   policy,
		queries: issue.NewManager(issue.Options{
			ProjectKey: cfg.JiraProjectKey,
			IssueType:  cfg.JiraIssueType,
			Fields:     cfg.Fields,
		}),
	}
}

// Announce posts the run summary to the channel selected by the policy.
func (a *Announcer) Announce(ctx context.Context, rep *domain.Report, rc domain.RunContext) error {
	route, err := a.policy.Select(rc)
	if err != nil {
		return err
	}
	msg := Summarize(rep, rc, Links{
		ReportURL: issue.SearchURL(a.cfg.JiraURL, a.queries.FailedRunQuery(rc.RunID)),
		Mention:   a.cfg.MentionFor(rc.TestType),
	})
	log.WithFields(log.Fields{"route": route.Name, "run_id": rc.RunID}).Debug("posting run summary")
	if err := a.notifier.Post(ctx, route.Endpoint, msg); err != nil {
		return errors.Wrapf(err, "notify %s channel", route.Name)
	}
	return nil
}
