package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "JTR"

// FieldSpec names a Jira custom field by id (for REST payloads) and by its JQL clause name.
type FieldSpec struct {
	ID  string `yaml:"id"`
	JQL string `yaml:"jql"`
}

// FieldMap maps each tracked meaning onto a Jira custom field.
type FieldMap struct {
	Environment FieldSpec `yaml:"environment"`
	Area        FieldSpec `yaml:"area"`
	Type        FieldSpec `yaml:"type"`
	RunLabel    FieldSpec `yaml:"run_label"`
	Tags        FieldSpec `yaml:"tags"`
	Status      FieldSpec `yaml:"status"`
	RunID       FieldSpec `yaml:"run_id"`
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Environment: FieldSpec{ID: "customfield_10208", JQL: `"test environment[Dropdown]"`},
		Area:        FieldSpec{ID: "customfield_10236", JQL: `"Test Area[Dropdown]"`},
		Type:        FieldSpec{ID: "customfield_10301", JQL: `"Test Type[Labels]"`},
		RunLabel:    FieldSpec{ID: "customfield_10205", JQL: `"Test Run[Short text]"`},
		Tags:        FieldSpec{ID: "customfield_10202", JQL: `"Test Tags[Labels]"`},
		Status:      FieldSpec{ID: "customfield_10235", JQL: `"test status[Dropdown]"`},
		RunID:       FieldSpec{ID: "customfield_10269", JQL: `"trid[Short text]"`},
	}
}

func (m FieldMap) validate() error {
	specs := map[string]FieldSpec{
		"environment": m.Environment,
		"area":        m.Area,
		"type":        m.Type,
		"run_label":   m.RunLabel,
		"tags":        m.Tags,
		"status":      m.Status,
		"run_id":      m.RunID,
	}
	for name, spec := range specs {
		if strings.TrimSpace(spec.ID) == "" || strings.TrimSpace(spec.JQL) == "" {
			return fmt.Errorf("field map entry %q needs both id and jql", name)
		}
	}
	return nil
}

type Config struct {
	// Invocation.
	TestEnv    string
	TestRun    string
	ReportPath string
	Notify     bool
	DryRun     bool
	LogLevel   string

	JiraURL        string
	JiraUser       string
	JiraToken      string
	JiraProjectKey string
	JiraIssueType  string
	Fields         FieldMap

	// Names of the CI variables carrying build linkage.
	BuildNumberEnv string
	BuildOriginEnv string

	SlackTestWebhook string
	SlackDevWebhook  string
	SlackProdWebhook string
	// ScheduledRun is the run label routed to the environment channels.
	ScheduledRun   string
	DevEnvironment string

	Markers        []string
	Mentions       map[string]string
	DefaultMention string

	RequestTimeout time.Duration
	PassTimeout    time.Duration

	HistoryDB     bool
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
	MySQLCACert   string

	ArchiveBucket string
	ArchiveRegion string
}

func Default() Config {
	return Config{
		TestEnv:        "dev",
		TestRun:        "Daily Run",
		ReportPath:     "test-reports/pytest_report.json",
		Notify:         true,
		LogLevel:       "info",
		JiraIssueType:  "Task",
		Fields:         DefaultFieldMap(),
		BuildNumberEnv: "BITBUCKET_BUILD_NUMBER",
		BuildOriginEnv: "BITBUCKET_GIT_HTTP_ORIGIN",
		ScheduledRun:   "Daily Run",
		DevEnvironment: "dev",
		Markers:        []string{"classificationAccuracyTest", "dataIntegrityTest", "skipOnLocal", "graphql", "RestAPIs", "only"},
		Mentions:       map[string]string{"api_tests": "<@U07F4HJFT63>"},
		DefaultMention: "<@U07UQKM5YE9>",
		RequestTimeout: 30 * time.Second,
		PassTimeout:    30 * time.Minute,
		MySQLPort:      4000,
		MySQLDatabase:  "jira_test_reporter",
		ArchiveRegion:  "us-east-1",
	}
}

// BindFlags registers the command line surface and binds it to v, together
// with JTR_* environment variables.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Default()
	fs.String("config", "", "YAML file with jira/fields/build/slack settings")
	fs.String("log-level", d.LogLevel, "logging level")
	fs.String("test-env", d.TestEnv, "Test environment (e.g. dev, prod)")
	fs.String("test-run", d.TestRun, "Test run label (e.g. regression-test-release-2b)")
	fs.String("report", d.ReportPath, "Path to the pytest JSON report")
	fs.Bool("notify", d.Notify, "Send the Slack summary after syncing")
	fs.Bool("dry-run", d.DryRun, "Plan tracker changes and log them without writing to Jira")
	fs.Duration("request-timeout", d.RequestTimeout, "Timeout per Jira/Slack request")
	fs.Duration("pass-timeout", d.PassTimeout, "Deadline for the whole report pass")

	fs.String("jira-url", "", "Jira base URL")
	fs.String("jira-user", "", "Jira user (basic auth)")
	fs.String("jira-token", "", "Jira API token")
	fs.String("jira-project", "", "Jira project key")
	fs.String("jira-issue-type", d.JiraIssueType, "Issue type used for tracked tests")

	fs.String("slack-test-webhook", "", "Slack webhook for non-scheduled runs")
	fs.String("slack-dev-webhook", "", "Slack webhook for scheduled runs on dev")
	fs.String("slack-prod-webhook", "", "Slack webhook for scheduled runs elsewhere")

	fs.String("build-number-env", d.BuildNumberEnv, "Environment variable holding the CI build number")
	fs.String("build-origin-env", d.BuildOriginEnv, "Environment variable holding the repository HTTP origin")

	fs.Bool("history-db", d.HistoryDB, "Record reconciliation history in MySQL/TiDB")
	fs.String("mysql-host", "", "MySQL/TiDB host")
	fs.Int("mysql-port", d.MySQLPort, "MySQL/TiDB port")
	fs.String("mysql-user", "", "MySQL/TiDB user")
	fs.String("mysql-password", "", "MySQL/TiDB password")
	fs.String("mysql-database", d.MySQLDatabase, "MySQL/TiDB database")
	fs.String("mysql-ca-cert", "", "CA certificate enabling TLS to MySQL/TiDB")

	fs.String("archive-bucket", "", "S3 bucket receiving a copy of the raw report")
	fs.String("archive-region", d.ArchiveRegion, "AWS region of the archive bucket")

	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// Load layers defaults, the optional YAML file, .env, environment and flags,
// in increasing precedence.
func Load(v *viper.Viper) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := v.GetString("config"); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		f.apply(&cfg)
	}

	setString(v, "log-level", &cfg.LogLevel)
	setString(v, "test-env", &cfg.TestEnv)
	setString(v, "test-run", &cfg.TestRun)
	setString(v, "report", &cfg.ReportPath)
	setBool(v, "notify", &cfg.Notify)
	setBool(v, "dry-run", &cfg.DryRun)
	setDuration(v, "request-timeout", &cfg.RequestTimeout)
	setDuration(v, "pass-timeout", &cfg.PassTimeout)
	setString(v, "jira-url", &cfg.JiraURL)
	setString(v, "jira-user", &cfg.JiraUser)
	setString(v, "jira-token", &cfg.JiraToken)
	setString(v, "jira-project", &cfg.JiraProjectKey)
	setString(v, "jira-issue-type", &cfg.JiraIssueType)
	setString(v, "slack-test-webhook", &cfg.SlackTestWebhook)
	setString(v, "slack-dev-webhook", &cfg.SlackDevWebhook)
	setString(v, "slack-prod-webhook", &cfg.SlackProdWebhook)
	setString(v, "build-number-env", &cfg.BuildNumberEnv)
	setString(v, "build-origin-env", &cfg.BuildOriginEnv)
	setBool(v, "history-db", &cfg.HistoryDB)
	setString(v, "mysql-host", &cfg.MySQLHost)
	setInt(v, "mysql-port", &cfg.MySQLPort)
	setString(v, "mysql-user", &cfg.MySQLUser)
	setString(v, "mysql-password", &cfg.MySQLPassword)
	setString(v, "mysql-database", &cfg.MySQLDatabase)
	setString(v, "mysql-ca-cert", &cfg.MySQLCACert)
	setString(v, "archive-bucket", &cfg.ArchiveBucket)
	setString(v, "archive-region", &cfg.ArchiveRegion)

	cfg.JiraURL = strings.TrimRight(strings.TrimSpace(cfg.JiraURL), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ReportPath) == "" {
		return errors.New("report path must be set")
	}
	if strings.TrimSpace(c.TestEnv) == "" || strings.TrimSpace(c.TestRun) == "" {
		return errors.New("test-env/test-run must be set")
	}
	if strings.TrimSpace(c.JiraProjectKey) == "" {
		return errors.New("jira project key is required")
	}
	// Dry runs still search and fetch, so credentials are always needed.
	if c.JiraURL == "" || c.JiraUser == "" || c.JiraToken == "" {
		return errors.New("jira url/user/token are required")
	}
	if err := c.Fields.validate(); err != nil {
		return err
	}
	if c.Notify {
		if c.SlackTestWebhook == "" || c.SlackDevWebhook == "" || c.SlackProdWebhook == "" {
			return errors.New("slack test/dev/prod webhooks are required when --notify is set")
		}
	}
	if c.HistoryDB {
		if c.MySQLHost == "" || c.MySQLUser == "" {
			return errors.New("history db enabled but mysql host/user not set")
		}
		// Local TiDB deployments may not require TLS (no CA) and may allow empty passwords.
	}
	return nil
}

// BuildNumber reads the CI build number from the configured variable.
func (c Config) BuildNumber() string { return os.Getenv(c.BuildNumberEnv) }

func (c Config) BuildOrigin() string { return os.Getenv(c.BuildOriginEnv) }

// MentionFor returns the Slack mention for a test type.
func (c Config) MentionFor(testType string) string {
	if m, ok := c.Mentions[testType]; ok {
		return m
	}
	return c.DefaultMention
}

// File is the YAML configuration file layout.
type File struct {
	Jira struct {
		URL        string `yaml:"url"`
		User       string `yaml:"user"`
		Token      string `yaml:"token"`
		ProjectKey string `yaml:"project_key"`
		IssueType  string `yaml:"issue_type"`
	} `yaml:"jira"`
	Fields *FieldMap `yaml:"fields"`
	Build  struct {
		NumberEnv string `yaml:"number_env"`
		OriginEnv string `yaml:"origin_env"`
	} `yaml:"build"`
	Slack struct {
		TestWebhook    string `yaml:"test_webhook"`
		DevWebhook     string `yaml:"dev_webhook"`
		ProdWebhook    string `yaml:"prod_webhook"`
		ScheduledRun   string `yaml:"scheduled_run"`
		DevEnvironment string `yaml:"dev_environment"`
	} `yaml:"slack"`
	Markers        []string          `yaml:"markers"`
	Mentions       map[string]string `yaml:"mentions"`
	DefaultMention string            `yaml:"default_mention"`
}

func LoadFile(path string) (File, error) {
	var f File
	b, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

func (f File) apply(cfg *Config) {
	overlay(&cfg.JiraURL, f.Jira.URL)
	overlay(&cfg.JiraUser, f.Jira.User)
	overlay(&cfg.JiraToken, f.Jira.Token)
	overlay(&cfg.JiraProjectKey, f.Jira.ProjectKey)
	overlay(&cfg.JiraIssueType, f.Jira.IssueType)
	if f.Fields != nil {
		cfg.Fields = *f.Fields
	}
	overlay(&cfg.BuildNumberEnv, f.Build.NumberEnv)
	overlay(&cfg.BuildOriginEnv, f.Build.OriginEnv)
	overlay(&cfg.SlackTestWebhook, f.Slack.TestWebhook)
	overlay(&cfg.SlackDevWebhook, f.Slack.DevWebhook)
	overlay(&cfg.SlackProdWebhook, f.Slack.ProdWebhook)
	overlay(&cfg.ScheduledRun, f.Slack.ScheduledRun)
	overlay(&cfg.DevEnvironment, f.Slack.DevEnvironment)
	if len(f.Markers) > 0 {
		cfg.Markers = f.Markers
	}
	if len(f.Mentions) > 0 {
		cfg.Mentions = f.Mentions
	}
	overlay(&cfg.DefaultMention, f.DefaultMention)
}

func overlay(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}

func (c Config) MySQLAddr() string {
	return fmt.Sprintf("%s:%d", c.MySQLHost, c.MySQLPort)
}
