package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/okJiang/jira-test-reporter/internal/config"
	"github.com/okJiang/jira-test-reporter/internal/domain"
	"github.com/okJiang/jira-test-reporter/internal/fingerprint"
)

const tlsConfigName = "history"

type AuditEntry struct {
	Action       string
	Target       string
	Result       string
	ErrorMessage string
	CreatedAt    time.Time
}

// Memory keeps history for the lifetime of the process only.
type Memory struct {
	mu      sync.Mutex
	records []domain.ReconciliationRecord
	audits  []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) RecordReconciliation(ctx context.Context, rec domain.ReconciliationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, withDefaults(rec))
	return nil
}

func (m *Memory) ListReconciliations(ctx context.Context, runID string) ([]domain.ReconciliationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReconciliationRecord
	for _, rec := range m.records {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) LastReconciliation(ctx context.Context, issueKey string) (*domain.ReconciliationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].IssueKey == issueKey {
			cpy := m.records[i]
			return &cpy, nil
		}
	}
	return nil, nil
}

func (m *Memory) RecordAudit(ctx context.Context, action, target, result, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, AuditEntry{
		Action:       action,
		Target:       target,
		Result:       result,
		ErrorMessage: errorMessage,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

func (m *Memory) Audits() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audits))
	copy(out, m.audits)
	return out
}

func (m *Memory) Close() error { return nil }

func withDefaults(rec domain.ReconciliationRecord) domain.ReconciliationRecord {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if strings.TrimSpace(rec.FingerprintVersion) == "" {
		rec.FingerprintVersion = fingerprint.VersionV1
	}
	return rec
}

// MySQLStore persists history in MySQL or TiDB.
type MySQLStore struct {
	cfg config.Config
	db  *sql.DB
}

func NewMySQLStore(cfg config.Config) (*MySQLStore, error) {
	if err := registerTLS(cfg.MySQLCACert); err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", mysqlDSN(cfg, cfg.MySQLDatabase))
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)
	return &MySQLStore{cfg: cfg, db: db}, nil
}

func (s *MySQLStore) Migrate(ctx context.Context) error {
	if err := s.ensureDatabase(ctx); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reconciliations (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			issue_key VARCHAR(64) NOT NULL,
			summary VARCHAR(300) NOT NULL,
			area VARCHAR(200) NOT NULL,
			environment VARCHAR(100) NOT NULL,
			run_label VARCHAR(200) NOT NULL,
			status VARCHAR(20) NOT NULL,
			action VARCHAR(20) NOT NULL,
			regression BOOLEAN NOT NULL DEFAULT FALSE,
			history_commented BOOLEAN NOT NULL DEFAULT FALSE,
			fingerprint VARCHAR(64) NOT NULL,
			fingerprint_version VARCHAR(16) NOT NULL DEFAULT 'v1',
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			KEY idx_run (run_id),
			KEY idx_issue (issue_key, recorded_at)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action VARCHAR(100) NOT NULL,
			target VARCHAR(200) NOT NULL,
			result VARCHAR(50) NOT NULL,
			error_message TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate history db")
		}
	}
	return nil
}

func (s *MySQLStore) RecordReconciliation(ctx context.Context, rec domain.ReconciliationRecord) error {
	rec = withDefaults(rec)
	_, err := s.db.ExecContext(ctx, `INSERT INTO reconciliations (
		run_id, issue_key, summary, area, environment, run_label, status, action,
		regression, history_commented, fingerprint, fingerprint_version, recorded_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.IssueKey, rec.Summary, rec.Area, rec.Environment, rec.RunLabel, string(rec.Status), string(rec.Action),
		rec.Regression, rec.HistoryCommented, rec.Fingerprint, rec.FingerprintVersion, rec.RecordedAt,
	)
	return errors.Wrapf(err, "record reconciliation of %s", rec.IssueKey)
}

const selectReconciliation = `SELECT run_id, issue_key, summary, area, environment, run_label, status, action,
	regression, history_commented, fingerprint, fingerprint_version, recorded_at FROM reconciliations`

type scanner interface {
	Scan(dest ...any) error
}

func scanReconciliation(row scanner) (domain.ReconciliationRecord, error) {
	var rec domain.ReconciliationRecord
	var status, action string
	err := row.Scan(&rec.RunID, &rec.IssueKey, &rec.Summary, &rec.Area, &rec.Environment, &rec.RunLabel, &status, &action,
		&rec.Regression, &rec.HistoryCommented, &rec.Fingerprint, &rec.FingerprintVersion, &rec.RecordedAt)
	rec.Status = domain.Status(status)
	rec.Action = domain.Action(action)
	return rec, err
}

func (s *MySQLStore) ListReconciliations(ctx context.Context, runID string) ([]domain.ReconciliationRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectReconciliation+` WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ReconciliationRecord
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *MySQLStore) LastReconciliation(ctx context.Context, issueKey string) (*domain.ReconciliationRecord, error) {
	row := s.db.QueryRowContext(ctx, selectReconciliation+` WHERE issue_key = ? ORDER BY id DESC LIMIT 1`, issueKey)
	rec, err := scanReconciliation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *MySQLStore) RecordAudit(ctx context.Context, action, target, result, errorMessage string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (action, target, result, error_message) VALUES (?,?,?,?)`,
		action, target, result, errorMessage)
	return err
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) ensureDatabase(ctx context.Context) error {
	admin, err := sql.Open("mysql", mysqlDSN(s.cfg, ""))
	if err != nil {
		return err
	}
	defer admin.Close()
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", s.cfg.MySQLDatabase))
	return errors.Wrap(err, "create history database")
}

func registerTLS(caPath string) error {
	if strings.TrimSpace(caPath) == "" {
		return nil
	}
	certPool := x509.NewCertPool()
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return errors.Wrap(err, "read mysql ca cert")
	}
	if !certPool.AppendCertsFromPEM(pem) {
		return errors.New("failed to append CA cert")
	}
	return mysql.RegisterTLSConfig(tlsConfigName, &tls.Config{RootCAs: certPool})
}

func mysqlDSN(cfg config.Config, database string) string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.MySQLUser
	dsn.Passwd = cfg.MySQLPassword
	dsn.Net = "tcp"
	dsn.Addr = cfg.MySQLAddr()
	dsn.DBName = database
	dsn.ParseTime = true
	if strings.TrimSpace(cfg.MySQLCACert) != "" {
		dsn.TLSConfig = tlsConfigName
	}
	return dsn.FormatDSN()
}
