// Package config loads the application configuration: a YAML file with
// ${VAR} environment expansion, preceded by best-effort .env loading so
// secrets stay out of the config file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/shopsync/internal/synerr"
)

// Config represents the application configuration.
type Config struct {
	Todoist    TodoistConfig    `yaml:"todoist"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Sync       SyncConfig       `yaml:"sync"`
	State      StateConfig      `yaml:"state"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// TodoistConfig selects the remote project and carries credentials.
type TodoistConfig struct {
	APIToken string `yaml:"api_token"`
	// ProjectName is used for lookup when ProjectID is unset.
	ProjectName string `yaml:"project_name"`
	ProjectID   string `yaml:"project_id,omitempty"`
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string `yaml:"base_url,omitempty"`
}

// ClassifierConfig carries the LLM credentials and model selection.
type ClassifierConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model,omitempty"`
}

// SyncConfig holds loop tuning knobs. Zero values trigger sensible defaults.
type SyncConfig struct {
	// Interval between cycles in continuous mode (duration string, default 60s).
	Interval string `yaml:"interval,omitempty"`
	// ClassifyConcurrency caps concurrent classification calls within a
	// cycle. Defaults to 4; values <1 take the default.
	ClassifyConcurrency int `yaml:"classify_concurrency,omitempty"`
}

// StateConfig locates the persisted local state.
type StateConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TaxonomyConfig locates the category document.
type TaxonomyConfig struct {
	Path string `yaml:"path,omitempty"`
}

// MonitoringConfig enables the optional metrics listener when ListenAddr is
// set (e.g. ":9090"); empty means no HTTP surface at all.
type MonitoringConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

const (
	defaultInterval     = time.Minute
	defaultConcurrency  = 4
	defaultStatePath    = "data/sync_state.json"
	defaultTaxonomyPath = "config/categories.yaml"
	defaultProjectName  = "shopping"
	defaultModel        = "claude-3-5-haiku-latest"
)

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// .env never overrides the process environment; absence is fine.
	_ = godotenv.Load(".env", ".env.local")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, synerr.Wrap(synerr.KindConfig, "read config file", err)
	}

	// Expand environment variables in the YAML content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, synerr.Wrap(synerr.KindConfig, "unmarshal config", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Todoist.ProjectName == "" {
		c.Todoist.ProjectName = defaultProjectName
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = defaultModel
	}
	if c.Sync.ClassifyConcurrency < 1 {
		c.Sync.ClassifyConcurrency = defaultConcurrency
	}
	if c.State.Path == "" {
		c.State.Path = defaultStatePath
	}
	if c.Taxonomy.Path == "" {
		c.Taxonomy.Path = defaultTaxonomyPath
	}
}

// Validate checks fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Todoist.APIToken == "" {
		return synerr.New(synerr.KindConfig, "todoist.api_token is required (set TODOIST_API_TOKEN)")
	}
	if c.Classifier.APIKey == "" {
		return synerr.New(synerr.KindConfig, "classifier.api_key is required (set ANTHROPIC_API_KEY)")
	}
	if _, err := c.Interval(); err != nil {
		return err
	}
	return nil
}

// Interval parses sync.interval, defaulting to one minute.
func (c *Config) Interval() (time.Duration, error) {
	if c.Sync.Interval == "" {
		return defaultInterval, nil
	}
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return 0, synerr.Wrap(synerr.KindConfig, fmt.Sprintf("invalid sync.interval %q", c.Sync.Interval), err)
	}
	if d < time.Second {
		return 0, synerr.Newf(synerr.KindConfig, "sync.interval %q is below the 1s minimum", c.Sync.Interval)
	}
	return d, nil
}

// Summary renders the startup banner line. Secrets never appear here.
func (c *Config) Summary(interval time.Duration, categories int) string {
	project := c.Todoist.ProjectName
	if c.Todoist.ProjectID != "" {
		project = fmt.Sprintf("%s (id %s)", project, c.Todoist.ProjectID)
	}
	return fmt.Sprintf("project=%s model=%s interval=%s state=%s categories=%d",
		project, c.Classifier.Model, interval, c.State.Path, categories)
}
