package usecase

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/okJiang/jira-test-reporter/internal/domain"
)

// NoopAnnouncer stands in when notifications are disabled.
type NoopAnnouncer struct{}

func (NoopAnnouncer) Announce(ctx context.Context, rep *domain.Report, rc domain.RunContext) error {
	log.Debug("notification disabled")
	return nil
}
