package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	s3adapter "github.com/okJiang/jira-test-reporter/internal/adapters/s3"
	slackadapter "github.com/okJiang/jira-test-reporter/internal/adapters/slack"
	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/notify"
	"github.com/okJiang/jira-test-reporter/internal/ports"
	"github.com/okJiang/jira-test-reporter/internal/runtime"
	"github.com/okJiang/jira-test-reporter/internal/usecase"
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "jira-test-reporter",
		Short:         "Report pytest results to Jira and Slack",
		Long:          `jira-test-reporter reconciles a pytest JSON report onto Jira issues, keeps the Regression tag current and posts a run summary to Slack.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			if err := setupLogging(cfg.LogLevel); err != nil {
				return &exitError{code: 2, err: err}
			}
			return run(cmd.Context(), cfg)
		},
	}
	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		log.Fatal(err)
	}
	return cmd
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	svc, cleanup, err := usecase.NewService(ctx, cfg, usecase.ServiceDeps{})
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.WithError(err).Warn("closing history store")
		}
	}()

	var announce ports.NotifyUseCase = usecase.NoopAnnouncer{}
	if cfg.Notify {
		announce = notify.NewAnnouncer(cfg, slackadapter.NewWebhook(cfg.RequestTimeout), nil)
	}

	var archiver ports.Archiver
	if cfg.ArchiveBucket != "" {
		a, err := s3adapter.NewArchiver(cfg.ArchiveBucket, cfg.ArchiveRegion)
		if err != nil {
			return err
		}
		archiver = a
	}

	rt, err := runtime.New(cfg, svc, announce, archiver)
	if err != nil {
		return err
	}
	res, err := rt.Run(ctx)
	if err != nil {
		return err
	}
	log.Infof("done: %d created, %d updated, %d planned", res.Created, res.Updated, res.Planned)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		code := 1
		if ee, ok := err.(*exitError); ok {
			code = ee.code
		}
		log.Errorf("run failed: %v", err)
		stop()
		os.Exit(code)
	}
}
