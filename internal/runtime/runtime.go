package runtime

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	s3adapter "github.com/okJiang/jira-test-reporter/internal/adapters/s3"
	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
	"github.com/okJiang/jira-test-reporter/internal/ports"
	"github.com/okJiang/jira-test-reporter/internal/report"
)

type Runtime struct {
	cfg      config.Config
	sync     ports.SyncUseCase
	announce ports.NotifyUseCase
	archiver ports.Archiver
}

// New wires one pass. archiver may be nil.
func New(cfg config.Config, sync ports.SyncUseCase, announce ports.NotifyUseCase, archiver ports.Archiver) (*Runtime, error) {
	if sync == nil {
		return nil, errors.New("sync use case is required")
	}
	if announce == nil && cfg.Notify {
		return nil, errors.New("notify use case is required when notification is enabled")
	}
	return &Runtime{cfg: cfg, sync: sync, announce: announce, archiver: archiver}, nil
}

// RunContext derives the run identity for rep from the configuration and CI environment.
func RunContext(cfg config.Config, rep *domain.Report) domain.RunContext {
	return domain.NewRunContext(domain.RunContextInput{
		RunLabel:    cfg.TestRun,
		Environment: cfg.TestEnv,
		TestType:    report.TestType(rep),
		Build:       domain.BuildInfo{Number: cfg.BuildNumber(), Origin: cfg.BuildOrigin()},
	})
}

// Run reads the report, syncs it to the tracker and then archives and announces it.
// A missing or malformed report fails before the tracker is contacted.
func (r *Runtime) Run(ctx context.Context) (domain.SyncResult, error) {
	if r == nil {
		return domain.SyncResult{}, errors.New("runtime is nil")
	}
	rep, raw, err := report.Load(r.cfg.ReportPath)
	if err != nil {
		return domain.SyncResult{}, err
	}
	rc := RunContext(r.cfg, rep)
	logger := log.WithFields(log.Fields{"run_id": rc.RunID, "run": rc.RunLabel, "env": rc.Environment})
	logger.Infof("syncing %d tests from %s", len(rep.Tests), r.cfg.ReportPath)

	passCtx := ctx
	if r.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, r.cfg.PassTimeout)
		defer cancel()
	}
	if checker, ok := r.sync.(ports.CredentialChecker); ok {
		if err := checker.CheckAuth(passCtx); err != nil {
			return domain.SyncResult{}, err
		}
	}
	res, err := r.sync.SyncReport(passCtx, rep, rc)
	if err != nil {
		return res, err
	}
	logger.WithFields(log.Fields{
		"created":     res.Created,
		"updated":     res.Updated,
		"planned":     res.Planned,
		"commented":   res.Commented,
		"regressions": res.Regressions,
	}).Info("sync finished")

	if r.archiver != nil && r.cfg.DryRun {
		logger.Info("dry-run: skipping report archive")
	} else if r.archiver != nil {
		if _, err := r.archiver.Archive(passCtx, s3adapter.ReportKey(rc.Environment, rc.RunID), raw); err != nil {
			logger.WithError(err).Warn("report archive failed")
		}
	}

	if !r.cfg.Notify {
		return res, nil
	}
	if r.cfg.DryRun {
		logger.Info("dry-run: skipping notification")
		return res, nil
	}
	if err := r.announce.Announce(passCtx, rep, rc); err != nil {
		return res, err
	}
	return res, nil
}
