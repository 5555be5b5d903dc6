//go:build !integration

package config

import (
	"strings"
	"testing"
	"time"

	"render-credit-platform/internal/domain/model"
)

const minimalYAML = `
database:
  url: postgres://u:p@localhost:5432/db
redis:
  url: localhost:6379
http:
  jwt_secret: ${TEST_JWT_SECRET}
`

func TestParse_DefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "s3cret")

	cfg, err := Parse([]byte(minimalYAML), false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTP.JWTSecret != "s3cret" {
		t.Errorf("expected jwt secret from env, got %q", cfg.HTTP.JWTSecret)
	}
	if cfg.Billing.GraceDays != 30 {
		t.Errorf("expected default grace of 30 days, got %d", cfg.Billing.GraceDays)
	}
	if cfg.Pricing.Rounding != "ceil" {
		t.Errorf("expected ceil rounding by default, got %q", cfg.Pricing.Rounding)
	}
	if got := cfg.Reconciler.Ceiling(model.ContentImageToVideo); got != 30*time.Minute {
		t.Errorf("expected 6x5m ceiling for video, got %v", got)
	}
	if cfg.Dispatch.MaxAttempts != 3 {
		t.Errorf("expected 3 dispatch attempts, got %d", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.Timeout != 3*time.Minute {
		t.Errorf("expected a 3m dispatch budget, got %v", cfg.Dispatch.Timeout)
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing database", "redis: {url: x}\nhttp: {jwt_secret: x}", "database.url"},
		{"missing redis", "database: {url: x}\nhttp: {jwt_secret: x}", "redis.url"},
		{"bad rounding", minimalYAML + "pricing: {rounding: sideways}", "pricing.rounding"},
		{"bad measure", minimalYAML + `
pricing:
  rules:
    prompt_to_image: {measure: pixels, chunk_size: 1, chunk_price: "1"}`, "unknown measure"},
		{"duplicate plan", minimalYAML + `
billing:
  plans:
    - {id: pro, name: Pro, rank: 1}
    - {id: pro, name: Pro2, rank: 2}`, "duplicate"},
	}
	t.Setenv("TEST_JWT_SECRET", "x")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml), false)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPricingPolicy_FromConfig(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "x")
	cfg, err := Parse([]byte(minimalYAML+`
pricing:
  rounding: floor
  rules:
    prompt_to_audio: {measure: characters, chunk_size: 100, chunk_price: "2.5", min_charge: 1}
  model_multipliers:
    premium: "2"
`), false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pol, err := cfg.PricingPolicy()
	if err != nil {
		t.Fatalf("pricing policy: %v", err)
	}
	cost, err := pol.Cost(model.ContentPromptToAudio, "premium", 250)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	// floor(250/100)=2 chunks * 2.5 * 2 = 10
	if cost != 10 {
		t.Errorf("expected cost 10, got %d", cost)
	}
}

func TestKeyResolver_Order(t *testing.T) {
	env := map[string]string{
		"KIE_AI_API_KEY_VEO3":           "env-veo3",
		"KIE_AI_API_KEY_IMAGE_TO_VIDEO": "env-i2v",
		"KIE_AI_API_KEY":                "env-default",
	}
	getenv := func(k string) string { return env[k] }

	t.Run("config model override wins", func(t *testing.T) {
		k := &KeyResolver{provider: "kie_ai", cfg: ProviderConfig{
			ModelKeys: map[string]string{"veo3": "cfg-veo3"},
			Keys:      map[string]string{"image_to_video": "cfg-i2v"},
			APIKey:    "cfg-default",
		}, getenv: getenv}
		if got := k.Resolve("image_to_video", "veo3"); got != "cfg-veo3" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("config content type before default", func(t *testing.T) {
		k := &KeyResolver{provider: "kie_ai", cfg: ProviderConfig{
			Keys:   map[string]string{"image_to_video": "cfg-i2v"},
			APIKey: "cfg-default",
		}, getenv: getenv}
		if got := k.Resolve("image_to_video", "kling"); got != "cfg-i2v" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("env fallbacks follow the same order", func(t *testing.T) {
		k := &KeyResolver{provider: "kie_ai", getenv: getenv}
		if got := k.Resolve("image_to_video", "veo3"); got != "env-veo3" {
			t.Errorf("model env: got %q", got)
		}
		if got := k.Resolve("image_to_video", "kling"); got != "env-i2v" {
			t.Errorf("content type env: got %q", got)
		}
		if got := k.Resolve("prompt_to_audio", ""); got != "env-default" {
			t.Errorf("default env: got %q", got)
		}
	})
}
