package common

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const (
	// rows drawn from a source when an operator is sampled
	DefaultSampleSize = 8
	DefaultSampleSeed = 42

	// weight of the naive prior when historical observations are smoothed
	DefaultLaplacePriorWeight  = 4.0
	DefaultQualityRerunRepeats = 2

	// enumeration caps
	DefaultMaxVariantsPerStage = 6
	DefaultMaxCandidatePlans   = 256

	// execution
	DefaultMaxWorkersPerStage = 4
	DefaultPipelineQueueSize  = 16
	DefaultMaxRetries         = 2
	DefaultRetryBaseBackoff   = 50 * time.Millisecond
	DefaultRetryMaxBackoff    = 2 * time.Second
	DefaultInvocationTimeout  = 60 * time.Second
	DefaultCancellationGrace  = 500 * time.Millisecond
	DefaultBatchSize          = 4

	// exemplars collected before code synthesis kicks in
	DefaultCodeSynthExemplars = 3

	// used when a source can not report its size
	DefaultSourceCardinality = 100
	DefaultSelectivity       = 0.5

	// statistics store
	DefaultStatsFlushEvery    = 16
	DefaultStatsFileName      = "semopt_stats.log"
	DefaultStatsFlushInterval = 10 * time.Second

	// max number of runs RequestManager executes at the same time
	MaxConcurrentRunNum = 8
)

var DefaultAvailableModels = []string{"gpt-4", "gpt-3.5-turbo", "mixtral-8x7b"}

type ColumnConfig struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Desc     string `yaml:"desc" json:"desc"`
	Required bool   `yaml:"required" json:"required"`
}

type SchemaConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Desc    string         `yaml:"desc" json:"desc"`
	Columns []ColumnConfig `yaml:"columns" json:"columns"`
}

// SourceConfig describes a data source which is registered at startup
type SourceConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // "directory" or "jsonl"
	Path string `yaml:"path"`
	// only used by "jsonl" sources
	Schema *SchemaConfig `yaml:"schema"`
}

type Config struct {
	SampleSize          int     `yaml:"sample_size"`
	SampleSeed          int64   `yaml:"sample_seed"`
	UseSampling         bool    `yaml:"use_sampling"`
	LaplacePriorWeight  float64 `yaml:"laplace_prior_weight"`
	QualityRerunRepeats int     `yaml:"quality_rerun_repeats"`

	MaxVariantsPerStage int      `yaml:"max_variants_per_stage"`
	MaxCandidatePlans   int      `yaml:"max_candidate_plans"`
	AvailableModels     []string `yaml:"available_models"`

	MaxWorkersPerStage int           `yaml:"max_workers_per_stage"`
	PipelineQueueSize  int           `yaml:"pipeline_queue_size"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseBackoff   time.Duration `yaml:"retry_base_backoff"`
	RetryMaxBackoff    time.Duration `yaml:"retry_max_backoff"`
	InvocationTimeout  time.Duration `yaml:"invocation_timeout"`
	CancellationGrace  time.Duration `yaml:"cancellation_grace"`
	BatchSize          int           `yaml:"batch_size"`
	CodeSynthExemplars int           `yaml:"code_synth_exemplars"`
	OrderedOutput      bool          `yaml:"ordered_output"`

	DefaultSourceCardinality int64   `yaml:"default_source_cardinality"`
	DefaultSelectivity       float64 `yaml:"default_selectivity"`

	EnableOnMemStats   bool          `yaml:"enable_on_mem_stats"`
	StatsFilePath      string        `yaml:"stats_file_path"`
	StatsFlushEvery    int           `yaml:"stats_flush_every"`
	StatsFlushInterval time.Duration `yaml:"stats_flush_interval"`

	LogLevel string `yaml:"log_level"`

	ListenAddr string         `yaml:"listen_addr"`
	Sources    []SourceConfig `yaml:"sources"`
}

func NewDefaultConfig() *Config {
	return &Config{
		SampleSize:               DefaultSampleSize,
		SampleSeed:               DefaultSampleSeed,
		UseSampling:              true,
		LaplacePriorWeight:       DefaultLaplacePriorWeight,
		QualityRerunRepeats:      DefaultQualityRerunRepeats,
		MaxVariantsPerStage:      DefaultMaxVariantsPerStage,
		MaxCandidatePlans:        DefaultMaxCandidatePlans,
		AvailableModels:          append([]string{}, DefaultAvailableModels...),
		MaxWorkersPerStage:       DefaultMaxWorkersPerStage,
		PipelineQueueSize:        DefaultPipelineQueueSize,
		MaxRetries:               DefaultMaxRetries,
		RetryBaseBackoff:         DefaultRetryBaseBackoff,
		RetryMaxBackoff:          DefaultRetryMaxBackoff,
		InvocationTimeout:        DefaultInvocationTimeout,
		CancellationGrace:        DefaultCancellationGrace,
		BatchSize:                DefaultBatchSize,
		CodeSynthExemplars:       DefaultCodeSynthExemplars,
		OrderedOutput:            true,
		DefaultSourceCardinality: DefaultSourceCardinality,
		DefaultSelectivity:       DefaultSelectivity,
		EnableOnMemStats:         true,
		StatsFilePath:            DefaultStatsFileName,
		StatsFlushEvery:          DefaultStatsFlushEvery,
		StatsFlushInterval:       DefaultStatsFlushInterval,
		LogLevel:                 "WARN|ERROR|FATAL",
		ListenAddr:               "0.0.0.0:19999",
	}
}

// LoadConfig reads a yaml file over the defaults. keys which are absent keep the default value.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.SampleSize < 0:
		return errors.Newf("sample_size must not be negative: %d", c.SampleSize)
	case c.MaxVariantsPerStage <= 0:
		return errors.Newf("max_variants_per_stage must be positive: %d", c.MaxVariantsPerStage)
	case c.MaxCandidatePlans <= 0:
		return errors.Newf("max_candidate_plans must be positive: %d", c.MaxCandidatePlans)
	case c.MaxWorkersPerStage <= 0:
		return errors.Newf("max_workers_per_stage must be positive: %d", c.MaxWorkersPerStage)
	case c.PipelineQueueSize < 0:
		return errors.Newf("pipeline_queue_size must not be negative: %d", c.PipelineQueueSize)
	case c.MaxRetries < 0:
		return errors.Newf("max_retries must not be negative: %d", c.MaxRetries)
	case c.BatchSize <= 0:
		return errors.Newf("batch_size must be positive: %d", c.BatchSize)
	case c.DefaultSelectivity <= 0 || c.DefaultSelectivity > 1:
		return errors.Newf("default_selectivity must be in (0, 1]: %f", c.DefaultSelectivity)
	}
	return nil
}

// ApplyLogLevel sets LogLevelSetting from the config
func (c *Config) ApplyLogLevel() {
	if c.LogLevel != "" {
		LogLevelSetting = ParseLogLevels(c.LogLevel)
	}
}
