package config

import (
	"os"
	"strings"
	"time"
)

type ProviderConfig struct {
	Enabled       bool              `yaml:"enabled"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	Keys          map[string]string `yaml:"keys"`       // content type -> key
	ModelKeys     map[string]string `yaml:"model_keys"` // model -> key, checked first
	DefaultModel  string            `yaml:"default_model"`
	WebhookSecret string            `yaml:"webhook_secret"` // HMAC-SHA256 over the raw body
	CallbackToken string            `yaml:"callback_token"` // alternative ?token= check
	Concurrency   int               `yaml:"concurrency"`
	Timeout       time.Duration     `yaml:"timeout"`
}

// KeyResolver picks the API key for a (provider, content type, model) triple.
//
// Order: model override, content-type key, provider default, then the
// environment variables <PROVIDER>_API_KEY_<MODEL>, <PROVIDER>_API_KEY_<CONTENT_TYPE>
// and <PROVIDER>_API_KEY (e.g. KIE_AI_API_KEY_IMAGE_TO_VIDEO).
type KeyResolver struct {
	provider string
	cfg      ProviderConfig
	getenv   func(string) string
}

func NewKeyResolver(provider string, cfg ProviderConfig) *KeyResolver {
	return &KeyResolver{provider: provider, cfg: cfg, getenv: os.Getenv}
}

func (k *KeyResolver) Resolve(contentType, model string) string {
	if model != "" {
		if v := k.cfg.ModelKeys[model]; v != "" {
			return v
		}
	}
	if v := k.cfg.Keys[contentType]; v != "" {
		return v
	}
	if k.cfg.APIKey != "" {
		return k.cfg.APIKey
	}
	prefix := envName(k.provider) + "_API_KEY"
	if model != "" {
		if v := k.getenv(prefix + "_" + envName(model)); v != "" {
			return v
		}
	}
	if contentType != "" {
		if v := k.getenv(prefix + "_" + envName(contentType)); v != "" {
			return v
		}
	}
	return k.getenv(prefix)
}

func envName(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
