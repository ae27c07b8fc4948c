package ports

import (
	"context"

	"github.com/okJiang/jira-test-reporter/internal/domain"
)

// Tracker is the issue tracker capability the reconciler drives.
type Tracker interface {
	Search(ctx context.Context, jql string, maxResults int) ([]domain.IssueRef, error)
	Create(ctx context.Context, fields domain.IssueFields) (domain.IssueRef, error)
	Fetch(ctx context.Context, ref domain.IssueRef) (domain.TrackedIssue, error)
	Update(ctx context.Context, ref domain.IssueRef, fields domain.IssueFields) error
	Transition(ctx context.Context, ref domain.IssueRef, status string) error
	Comment(ctx context.Context, ref domain.IssueRef, body string) error
}

type Notifier interface {
	Post(ctx context.Context, endpoint string, msg domain.Message) error
}

type Store interface {
	Migrate(ctx context.Context) error
	RecordReconciliation(ctx context.Context, rec domain.ReconciliationRecord) error
	ListReconciliations(ctx context.Context, runID string) ([]domain.ReconciliationRecord, error)
	LastReconciliation(ctx context.Context, issueKey string) (*domain.ReconciliationRecord, error)
	RecordAudit(ctx context.Context, action, target, result, errorMessage string) error
	Close() error
}

// CredentialChecker verifies tracker credentials without touching issues.
type CredentialChecker interface {
	CheckAuth(ctx context.Context) error
}

// Archiver keeps a copy of the raw report; it returns the object location.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) (string, error)
}

type SyncUseCase interface {
	SyncReport(ctx context.Context, rep *domain.Report, rc domain.RunContext) (domain.SyncResult, error)
}

type NotifyUseCase interface {
	Announce(ctx context.Context, rep *domain.Report, rc domain.RunContext) error
}
