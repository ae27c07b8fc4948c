package usecase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	jiraadapter "github.com/okJiang/jira-test-reporter/internal/adapters/jira"
	storeadapter "github.com/okJiang/jira-test-reporter/internal/adapters/store"
	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
	"github.com/okJiang/jira-test-reporter/internal/fingerprint"
	"github.com/okJiang/jira-test-reporter/internal/issue"
	"github.com/okJiang/jira-test-reporter/internal/ports"
	"github.com/okJiang/jira-test-reporter/internal/report"
)

type ServiceDeps struct {
	Store   ports.Store
	Tracker ports.Tracker
}

// Service reconciles report entries onto tracker issues.
type Service struct {
	cfg config.Config

	tracker  ports.Tracker
	store    ports.Store
	issueMgr *issue.Manager
}

func NewService(ctx context.Context, cfg config.Config, deps ServiceDeps) (*Service, func() error, error) {
	tracker := deps.Tracker
	if tracker == nil {
		tracker = jiraadapter.NewClient(jiraadapter.Options{
			BaseURL: cfg.JiraURL,
			User:    cfg.JiraUser,
			Token:   cfg.JiraToken,
			Timeout: cfg.RequestTimeout,
			Fields:  cfg.Fields,
		})
	}

	st := deps.Store
	closeStore := func() error { return nil }
	if st == nil {
		st = storeadapter.NewMemory()
		if cfg.HistoryDB {
			db, err := storeadapter.NewMySQLStore(cfg)
			if err != nil {
				return nil, nil, err
			}
			st = db
			closeStore = db.Close
		}
	}
	if err := st.Migrate(ctx); err != nil {
		_ = closeStore()
		return nil, nil, errors.Wrap(err, "migrate")
	}

	issueMgr := issue.NewManager(issue.Options{
		ProjectKey: cfg.JiraProjectKey,
		IssueType:  cfg.JiraIssueType,
		Fields:     cfg.Fields,
		Markers:    cfg.Markers,
		DryRun:     cfg.DryRun,
	})

	return &Service{
		cfg:      cfg,
		tracker:  tracker,
		store:    st,
		issueMgr: issueMgr,
	}, closeStore, nil
}

// SyncReport reconciles every entry in report order and stops at the first failure.
// Issues already written stay written.
func (s *Service) SyncReport(ctx context.Context, rep *domain.Report, rc domain.RunContext) (domain.SyncResult, error) {
	var res domain.SyncResult
	results, err := report.Results(rep, s.cfg.Markers)
	if err != nil {
		return res, err
	}
	for _, tr := range results {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ch, ref, err := s.reconcile(ctx, tr, rc)
		if err != nil {
			return res, errors.Wrapf(err, "reconcile %q", tr.Name)
		}
		switch {
		case s.cfg.DryRun:
			res.Planned++
		case ch.Create:
			res.Created++
		default:
			res.Updated++
		}
		if ch.HistoryComment != "" {
			res.Commented++
		}
		if ch.Regression {
			res.Regressions++
		}
		res.Issues = append(res.Issues, ref)
	}
	return res, nil
}

// CheckAuth verifies the tracker credentials when the tracker supports it.
func (s *Service) CheckAuth(ctx context.Context) error {
	checker, ok := s.tracker.(ports.CredentialChecker)
	if !ok {
		return nil
	}
	return errors.Wrap(checker.CheckAuth(ctx), "jira credentials")
}

// Reconcile creates or updates the issue tracking one test result.
func (s *Service) Reconcile(ctx context.Context, tr domain.TestResult, rc domain.RunContext) (domain.IssueRef, error) {
	_, ref, err := s.reconcile(ctx, tr, rc)
	return ref, err
}

func (s *Service) reconcile(ctx context.Context, tr domain.TestResult, rc domain.RunContext) (issue.PlannedChange, domain.IssueRef, error) {
	jql := s.issueMgr.SearchQuery(tr, rc)
	refs, err := s.tracker.Search(ctx, jql, 2)
	if err != nil {
		return issue.PlannedChange{}, domain.IssueRef{}, errors.Wrap(err, "search")
	}

	in := issue.PlanInput{Result: tr, Run: rc}
	if len(refs) > 0 {
		if len(refs) > 1 {
			log.WithField("candidates", len(refs)).Warnf("multiple issues match %q, using %s", tr.Name, refs[0].Key)
		}
		existing, err := s.tracker.Fetch(ctx, refs[0])
		if err != nil {
			return issue.PlannedChange{}, domain.IssueRef{}, errors.Wrapf(err, "fetch %s", refs[0].Key)
		}
		in.Existing = &existing
	}

	ch := s.issueMgr.PlanIssueUpdate(in)
	ref, err := s.issueMgr.Apply(ctx, s.tracker, ch)
	if err != nil {
		s.audit(ctx, ch, ref, err)
		return ch, ref, err
	}
	s.audit(ctx, ch, ref, nil)
	logChange(ch, ref)

	if err := s.store.RecordReconciliation(ctx, s.record(ch, ref, tr, rc)); err != nil {
		return ch, ref, errors.Wrap(err, "history")
	}
	return ch, ref, nil
}

func (s *Service) record(ch issue.PlannedChange, ref domain.IssueRef, tr domain.TestResult, rc domain.RunContext) domain.ReconciliationRecord {
	action := domain.ActionUpdated
	if ch.Create {
		action = domain.ActionCreated
	}
	if s.cfg.DryRun {
		action = domain.ActionPlanned
	}
	return domain.ReconciliationRecord{
		RunID:              rc.RunID,
		IssueKey:           ref.Key,
		Summary:            ch.Fields.Summary,
		Area:               tr.Area,
		Environment:        rc.Environment,
		RunLabel:           rc.RunLabel,
		Status:             tr.Status,
		Action:             action,
		Regression:         ch.Regression,
		HistoryCommented:   ch.HistoryComment != "",
		Fingerprint:        ch.Fingerprint,
		FingerprintVersion: fingerprint.VersionV1,
		RecordedAt:         time.Now().UTC(),
	}
}

func (s *Service) audit(ctx context.Context, ch issue.PlannedChange, ref domain.IssueRef, cause error) {
	if s.cfg.DryRun {
		return
	}
	action := "jira.update"
	if ch.Create {
		action = "jira.create"
	}
	target := ref.Key
	if target == "" {
		target = ch.Fields.Summary
	}
	result, msg := "success", ""
	if cause != nil {
		result, msg = "error", cause.Error()
	}
	if err := s.store.RecordAudit(ctx, action, target, result, msg); err != nil {
		log.WithError(err).Warn("audit log write failed")
	}
}

func logChange(ch issue.PlannedChange, ref domain.IssueRef) {
	summary := ch.Fields.Summary
	if ch.Create {
		log.Infof("Created %s | Test ID: %s", summary, ref.Key)
		return
	}
	if ch.HistoryComment != "" {
		log.Infof("New failure identified for Test: %s | Test ID: %s. Moving older description to comments.", summary, ref.Key)
	}
	if ch.Regression {
		log.WithField("issue", ref.Key).Infof("Regression tagged on %s", summary)
	}
	log.Infof("Updated Test: %s | Test ID: %s", summary, ref.Key)
}
