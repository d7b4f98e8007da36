package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the answer orchestrator
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Branches   BranchesConfig   `mapstructure:"branches"`
	Context    ContextConfig    `mapstructure:"context"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	History    HistoryConfig    `mapstructure:"history"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Regression RegressionConfig `mapstructure:"regression"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// StreamChunkSize caps the rune length of each NDJSON delta event.
	StreamChunkSize int `mapstructure:"stream_chunk_size"`
}

// LLMConfig contains the inference endpoint configuration. The pipeline makes
// at most two calls per question (intent classification, final synthesis) so a
// single provider with two model slots is enough.
type LLMConfig struct {
	APIKey          string             `mapstructure:"api_key"`
	BaseURL         string             `mapstructure:"base_url"`
	SynthesisModel  string             `mapstructure:"synthesis_model"`
	ClassifierModel string             `mapstructure:"classifier_model"`
	Temperature     float64            `mapstructure:"temperature"`
	MaxTokens       int                `mapstructure:"max_tokens"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	Models          map[string]LLMCost `mapstructure:"models"`
}

// LLMCost holds per-model pricing used for cost accounting.
type LLMCost struct {
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.SynthesisModel) == "" {
		return fmt.Errorf("llm.synthesis_model is required")
	}
	return nil
}

// RouteConfig is the behavior record for one route type. The router looks it
// up once; downstream components read the decision, never this table.
type RouteConfig struct {
	Type            string   `mapstructure:"type"`
	Keywords        []string `mapstructure:"keywords"`
	HomeDefault     bool     `mapstructure:"home_default"`
	DefaultCountry  string   `mapstructure:"default_country"`
	SQLNeed         bool     `mapstructure:"sql_need"`
	GraphNeed       bool     `mapstructure:"graph_need"`
	GraphEscalation bool     `mapstructure:"graph_escalation"`
	Sections        []string `mapstructure:"sections"`
	MinTrendPeriods int      `mapstructure:"min_trend_periods"`
	ToolMode        string   `mapstructure:"tool_mode"`
}

// RoutingConfig contains intent routing and scope defaulting policy.
type RoutingConfig struct {
	HomeCountry string        `mapstructure:"home_country"`
	HomeHints   []string      `mapstructure:"home_hints"`
	Routes      []RouteConfig `mapstructure:"routes"`
}

// Normalize fills the built-in route table when the config file omits it.
func (r RoutingConfig) Normalize() RoutingConfig {
	if strings.TrimSpace(r.HomeCountry) == "" {
		r.HomeCountry = "KR"
	}
	if len(r.HomeHints) == 0 {
		r.HomeHints = []string{"국내", "우리나라", "korea", "korean", "seoul", "서울", "kospi", "코스피"}
	}
	if len(r.Routes) == 0 {
		r.Routes = DefaultRoutes()
	}
	return r
}

// SQLTemplate is one ranked query candidate for the SQL branch.
type SQLTemplate struct {
	Name       string   `mapstructure:"name"`
	Query      string   `mapstructure:"query"`
	Params     []string `mapstructure:"params"`      // scope fields bound positionally: country, symbol
	Required   []string `mapstructure:"required"`    // scope fields that must be present
	Countries  []string `mapstructure:"countries"`   // empty means any
	Symbols    []string `mapstructure:"symbols"`     // empty means any
	RouteTypes []string `mapstructure:"route_types"` // empty means any
	Priority   int      `mapstructure:"priority"`
}

// SQLBranchConfig configures the live SQL executor.
type SQLBranchConfig struct {
	DSN       string        `mapstructure:"dsn"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxRows   int           `mapstructure:"max_rows"`
	Templates []SQLTemplate `mapstructure:"templates"`
}

// GraphBranchConfig configures the knowledge-graph retriever.
type GraphBranchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Limit   int           `mapstructure:"limit"`
}

// WebBranchConfig configures the web-search fallback.
type WebBranchConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxResults int           `mapstructure:"max_results"`
}

// BranchesConfig groups evidence-branch settings.
type BranchesConfig struct {
	Timeout time.Duration     `mapstructure:"timeout"` // per-branch deadline inside one question
	SQL     SQLBranchConfig   `mapstructure:"sql"`
	Graph   GraphBranchConfig `mapstructure:"graph"`
	Web     WebBranchConfig   `mapstructure:"web"`
}

func (b BranchesConfig) Normalize() BranchesConfig {
	if b.Timeout <= 0 {
		b.Timeout = 8 * time.Second
	}
	if b.SQL.MaxRows <= 0 {
		b.SQL.MaxRows = 200
	}
	if b.Graph.Limit <= 0 {
		b.Graph.Limit = 8
	}
	if b.Web.MaxResults <= 0 {
		b.Web.MaxResults = 5
	}
	return b
}

// ContextConfig tunes the structured data builder and the context budgeter.
// These are operationally tuned values; keep them in config, not code.
type ContextConfig struct {
	MaxChars           int                `mapstructure:"max_chars"`
	MaxSampleRows      int                `mapstructure:"max_sample_rows"`
	MinSampleRows      int                `mapstructure:"min_sample_rows"`
	MaxPassages        int                `mapstructure:"max_passages"`
	PassageCharLimit   int                `mapstructure:"passage_char_limit"`
	TrendWindow        int                `mapstructure:"trend_window"`
	TrendFlatThreshold float64            `mapstructure:"trend_flat_threshold"`
	Lookbacks          []int              `mapstructure:"lookbacks"`
	RegionNames        map[string]string  `mapstructure:"region_names"`
	InternalPrefixes   []string           `mapstructure:"internal_prefixes"`
}

func (c ContextConfig) Normalize() ContextConfig {
	if c.MaxChars <= 0 {
		c.MaxChars = 12000
	}
	if c.MaxSampleRows <= 0 {
		c.MaxSampleRows = 8
	}
	if c.MinSampleRows <= 0 {
		c.MinSampleRows = 2
	}
	if c.MaxPassages <= 0 {
		c.MaxPassages = 6
	}
	if c.PassageCharLimit <= 0 {
		c.PassageCharLimit = 480
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = 3
	}
	if c.TrendFlatThreshold <= 0 {
		c.TrendFlatThreshold = 0.5
	}
	if len(c.Lookbacks) == 0 {
		c.Lookbacks = []int{1, 3, 12}
	}
	if len(c.RegionNames) == 0 {
		c.RegionNames = defaultRegionNames()
	}
	if len(c.InternalPrefixes) == 0 {
		c.InternalPrefixes = []string{"adm_cd:", "doc_id:", "kg_node:"}
	}
	return c
}

// BudgetConfig bounds one question's run. Zero values disable a limit.
type BudgetConfig struct {
	MaxTokens      int64   `mapstructure:"max_tokens"`
	MaxTimeSeconds int64   `mapstructure:"max_time_seconds"`
	MaxCost        float64 `mapstructure:"max_cost"`
}

// HistoryConfig configures the conversation history store.
type HistoryConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxTurns      int           `mapstructure:"max_turns"`
}

func (h HistoryConfig) Normalize() HistoryConfig {
	if h.TTL <= 0 {
		h.TTL = 24 * time.Hour
	}
	if h.MaxTurns <= 0 {
		h.MaxTurns = 6
	}
	return h
}

// StorageConfig contains answer-log persistence settings.
type StorageConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// RegressionConfig controls the offline regression harness.
type RegressionConfig struct {
	FixturesPath     string        `mapstructure:"fixtures_path"`
	MaxDebugEntries  int           `mapstructure:"max_debug_entries"`
	DefaultStaleness time.Duration `mapstructure:"default_staleness"`
}

func (r RegressionConfig) Normalize() RegressionConfig {
	if r.MaxDebugEntries <= 0 {
		r.MaxDebugEntries = 20
	}
	if r.DefaultStaleness <= 0 {
		r.DefaultStaleness = 45 * 24 * time.Hour
	}
	return r
}

// LoadConfig loads config from file with env overrides (MACROSCOPE_*).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.default_timeout", "60s")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.synthesis_model", "gpt-4o")
	v.SetDefault("llm.classifier_model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "45s")
	v.SetDefault("budget.max_time_seconds", 90)
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		v.AddConfigPath(filepath.Dir(exe))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MACROSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// defaults + env only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Routing = cfg.Routing.Normalize()
	cfg.Branches = cfg.Branches.Normalize()
	cfg.Context = cfg.Context.Normalize()
	cfg.History = cfg.History.Normalize()
	cfg.Regression = cfg.Regression.Normalize()
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a fully normalized config without touching the filesystem.
// Tests and the regression harness use it as a baseline.
func Default() *Config {
	cfg := &Config{}
	cfg.General.DefaultTimeout = 60 * time.Second
	cfg.Server.Address = ":8080"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.SynthesisModel = "gpt-4o"
	cfg.LLM.ClassifierModel = "gpt-4o-mini"
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxTokens = 2048
	cfg.LLM.Timeout = 45 * time.Second
	cfg.Budget.MaxTimeSeconds = 90
	cfg.Telemetry.Enabled = true
	cfg.Routing = cfg.Routing.Normalize()
	cfg.Branches = cfg.Branches.Normalize()
	cfg.Context = cfg.Context.Normalize()
	cfg.History = cfg.History.Normalize()
	cfg.Regression = cfg.Regression.Normalize()
	return cfg
}
