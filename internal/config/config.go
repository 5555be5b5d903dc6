// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"render-credit-platform/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	PublicBaseURL  string        `yaml:"public_base_url"` // used to build provider callback URLs
	JWTSecret      string        `yaml:"jwt_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	JobsPerMinute  int           `yaml:"jobs_per_minute"` // per-user creation limit, 0 disables
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // S3-compatible endpoint, empty for AWS
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PublicBaseURL   string `yaml:"public_base_url"`
	Prefix          string `yaml:"prefix"`
}

func (s StorageConfig) Enabled() bool { return s.Bucket != "" }

type PricingRuleConfig struct {
	Measure    string `yaml:"measure"` // characters|tokens|seconds|images
	ChunkSize  int64  `yaml:"chunk_size"`
	ChunkPrice string `yaml:"chunk_price"` // decimal credits per chunk
	MinCharge  int64  `yaml:"min_charge"`
}

type PricingConfig struct {
	Rounding         string                       `yaml:"rounding"` // ceil|floor|half_up
	Rules            map[string]PricingRuleConfig `yaml:"rules"`
	ModelMultipliers map[string]string            `yaml:"model_multipliers"`
}

type ReconcilerConfig struct {
	Interval          time.Duration            `yaml:"interval"`
	GraceWindow       time.Duration            `yaml:"grace_window"` // wait this long after dispatch before the first poll
	MaxWait           time.Duration            `yaml:"max_wait"`     // unknown handles older than this fail
	CeilingMultiple   int                      `yaml:"ceiling_multiple"`
	ExpectedDurations map[string]time.Duration `yaml:"expected_durations"` // by content type
	BackoffBase       time.Duration            `yaml:"backoff_base"`
	BackoffMax        time.Duration            `yaml:"backoff_max"`
	Workers           int                      `yaml:"workers"`
	BatchSize         int                      `yaml:"batch_size"`
	StaleChargedAfter time.Duration            `yaml:"stale_charged_after"`
	LockTTL           time.Duration            `yaml:"lock_ttl"`
}

// Ceiling is the absolute lifetime of an in-flight job of the given content type.
func (r ReconcilerConfig) Ceiling(ct model.ContentType) time.Duration {
	d, ok := r.ExpectedDurations[string(ct)]
	if !ok || d <= 0 {
		d = 5 * time.Minute
	}
	return d * time.Duration(r.CeilingMultiple)
}

type DispatchConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	AssetCheckTimeout time.Duration `yaml:"asset_check_timeout"`
	Timeout           time.Duration `yaml:"timeout"` // submit plus recording once debited; ignores the request deadline
}

type PlanConfig struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Rank           int      `yaml:"rank"`
	MonthlyCredits int64    `yaml:"monthly_credits"`
	AnnualCredits  int64    `yaml:"annual_credits"`
	PriceIDs       []string `yaml:"price_ids"`
}

type BillingConfig struct {
	StripeWebhookSecret string        `yaml:"stripe_webhook_secret"`
	GraceDays           int           `yaml:"grace_days"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	Plans               []PlanConfig  `yaml:"plans"`
}

func (b BillingConfig) GracePeriod() time.Duration {
	return time.Duration(b.GraceDays) * 24 * time.Hour
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type Config struct {
	Log        LogConfig                 `yaml:"log"`
	HTTP       HTTPConfig                `yaml:"http"`
	Database   DatabaseConfig            `yaml:"database"`
	Redis      RedisConfig               `yaml:"redis"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Storage    StorageConfig             `yaml:"storage"`
	Pricing    PricingConfig             `yaml:"pricing"`
	Reconciler ReconcilerConfig          `yaml:"reconciler"`
	Dispatch   DispatchConfig            `yaml:"dispatch"`
	Billing    BillingConfig             `yaml:"billing"`
	Notify     NotifyConfig              `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.TokenTTL <= 0 {
		c.HTTP.TokenTTL = 24 * time.Hour
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)

	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, p := range c.Providers {
		if p.Concurrency <= 0 {
			p.Concurrency = 8
		}
		if p.Timeout <= 0 {
			p.Timeout = 30 * time.Second
		}
		c.Providers[name] = p
	}

	if c.Pricing.Rounding == "" {
		c.Pricing.Rounding = string(model.RoundCeil)
	}
	if len(c.Pricing.Rules) == 0 {
		c.Pricing.Rules = defaultPricingRules()
	}

	r := &c.Reconciler
	if r.Interval <= 0 {
		r.Interval = 15 * time.Second
	}
	if r.GraceWindow <= 0 {
		r.GraceWindow = time.Minute
	}
	if r.MaxWait <= 0 {
		r.MaxWait = 15 * time.Minute
	}
	if r.CeilingMultiple <= 0 {
		r.CeilingMultiple = 6
	}
	if r.ExpectedDurations == nil {
		r.ExpectedDurations = map[string]time.Duration{
			string(model.ContentPromptToImage): time.Minute,
			string(model.ContentImageEditing):  time.Minute,
			string(model.ContentImageToVideo):  5 * time.Minute,
			string(model.ContentPromptToVideo): 5 * time.Minute,
			string(model.ContentPromptToAudio): 2 * time.Minute,
		}
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = 15 * time.Second
	}
	if r.BackoffMax <= 0 {
		r.BackoffMax = 5 * time.Minute
	}
	if r.Workers <= 0 {
		r.Workers = 8
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 200
	}
	if r.StaleChargedAfter <= 0 {
		r.StaleChargedAfter = 10 * time.Minute
	}
	if r.LockTTL <= 0 {
		r.LockTTL = 2 * time.Minute
	}

	d := &c.Dispatch
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.BaseDelay <= 0 {
		d.BaseDelay = 500 * time.Millisecond
	}
	if d.MaxDelay <= 0 {
		d.MaxDelay = 5 * time.Second
	}
	if d.AssetCheckTimeout <= 0 {
		d.AssetCheckTimeout = 5 * time.Second
	}
	if d.Timeout <= 0 {
		d.Timeout = 3 * time.Minute
	}

	if c.Billing.GraceDays <= 0 {
		c.Billing.GraceDays = 30
	}
	if c.Billing.SweepInterval <= 0 {
		c.Billing.SweepInterval = time.Hour
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.HTTP.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("http.jwt_secret is required")
	}
	if _, err := c.PricingPolicy(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, p := range c.Billing.Plans {
		if p.ID == "" || seen[p.ID] {
			return fmt.Errorf("billing.plans: missing or duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// PricingPolicy converts the pricing section into the domain policy.
func (c *Config) PricingPolicy() (*model.PricingPolicy, error) {
	pol := &model.PricingPolicy{
		Rounding:         model.RoundingMode(strings.ToLower(c.Pricing.Rounding)),
		Rules:            make(map[model.ContentType]model.PricingRule, len(c.Pricing.Rules)),
		ModelMultipliers: make(map[string]decimal.Decimal, len(c.Pricing.ModelMultipliers)),
	}
	if !pol.Rounding.Valid() {
		return nil, fmt.Errorf("pricing.rounding: unknown mode %q", c.Pricing.Rounding)
	}
	for ct, rc := range c.Pricing.Rules {
		ctype := model.ContentType(ct)
		if !ctype.Valid() {
			return nil, fmt.Errorf("pricing.rules: unknown content type %q", ct)
		}
		measure := model.SizeMeasure(rc.Measure)
		if !measure.Valid() {
			return nil, fmt.Errorf("pricing.rules.%s: unknown measure %q", ct, rc.Measure)
		}
		if rc.ChunkSize <= 0 {
			return nil, fmt.Errorf("pricing.rules.%s: chunk_size must be positive", ct)
		}
		price, err := decimal.NewFromString(rc.ChunkPrice)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("pricing.rules.%s: invalid chunk_price %q", ct, rc.ChunkPrice)
		}
		pol.Rules[ctype] = model.PricingRule{
			Measure:    measure,
			ChunkSize:  rc.ChunkSize,
			ChunkPrice: price,
			MinCharge:  rc.MinCharge,
		}
	}
	for m, v := range c.Pricing.ModelMultipliers {
		mult, err := decimal.NewFromString(v)
		if err != nil || !mult.IsPositive() {
			return nil, fmt.Errorf("pricing.model_multipliers.%s: invalid multiplier %q", m, v)
		}
		pol.ModelMultipliers[m] = mult
	}
	return pol, nil
}

// Plans converts billing.plans into domain plans.
func (c *Config) Plans() ([]*model.Plan, error) {
	out := make([]*model.Plan, 0, len(c.Billing.Plans))
	for _, p := range c.Billing.Plans {
		plan, err := model.NewPlan(p.ID, p.Name, p.Rank, p.MonthlyCredits, p.AnnualCredits, p.PriceIDs)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", p.ID, err)
		}
		out = append(out, plan)
	}
	return out, nil
}

func defaultPricingRules() map[string]PricingRuleConfig {
	return map[string]PricingRuleConfig{
		string(model.ContentPromptToImage): {Measure: string(model.MeasureImages), ChunkSize: 1, ChunkPrice: "4", MinCharge: 4},
		string(model.ContentImageEditing):  {Measure: string(model.MeasureImages), ChunkSize: 1, ChunkPrice: "5", MinCharge: 5},
		string(model.ContentImageToVideo):  {Measure: string(model.MeasureSeconds), ChunkSize: 5, ChunkPrice: "20", MinCharge: 20},
		string(model.ContentPromptToVideo): {Measure: string(model.MeasureSeconds), ChunkSize: 5, ChunkPrice: "25", MinCharge: 25},
		string(model.ContentPromptToAudio): {Measure: string(model.MeasureCharacters), ChunkSize: 100, ChunkPrice: "1", MinCharge: 1},
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
