package notify

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
)

var ErrNoRoute = errors.New("no notification route matches the run")

type Route struct {
	Name     string
	Match    func(rc domain.RunContext) bool
	Endpoint string
}

// Policy is evaluated in order; the first matching route wins.
type Policy []Route

// DefaultPolicy sends ad-hoc runs to the test channel and scheduled runs to the
// channel of their environment.
func DefaultPolicy(cfg config.Config) Policy {
	return Policy{
		{
			Name:     "test",
			Endpoint: cfg.SlackTestWebhook,
			Match: func(rc domain.RunContext) bool {
				return !strings.EqualFold(strings.TrimSpace(rc.RunLabel), strings.TrimSpace(cfg.ScheduledRun))
			},
		},
		{
			Name:     "dev",
			Endpoint: cfg.SlackDevWebhook,
			Match: func(rc domain.RunContext) bool {
				return strings.EqualFold(strings.TrimSpace(rc.Environment), strings.TrimSpace(cfg.DevEnvironment))
			},
		},
		{
			Name:     "prod",
			Endpoint: cfg.SlackProdWebhook,
			Match:    func(domain.RunContext) bool { return true },
		},
	}
}

func (p Policy) Select(rc domain.RunContext) (Route, error) {
	for _, r := range p {
		if r.Match != nil && r.Match(rc) {
			return r, nil
		}
	}
	return Route{}, errors.Wrapf(ErrNoRoute, "run %q in %q", rc.RunLabel, rc.Environment)
}
