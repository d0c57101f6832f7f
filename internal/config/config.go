// Package config loads and validates the process configuration: the admin
// env flags of spec §6, Postgres/Redis connection settings, and the model
// key pool's provider/model/key tuples. It mirrors the teacher's
// internal/config loader style: struct tags plus fail-fast validation at
// startup rather than scattered os.Getenv calls throughout the codebase.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/atlasagent/atlas-core/pkg/keypool"
)

// Config is every admin/connection setting the app container needs,
// assembled once at startup and passed down by value/pointer rather than
// read ad hoc from the environment by individual components.
type Config struct {
	Debug                 bool
	BypassMemoryInjection bool
	BypassAdaptiveBudget  bool
	BypassVectorSearch    bool
	BypassSemanticCache   bool
	InternalOnly          bool
	InternalOnlyWhitelist []string
	SessionSecret         string `validate:"required"`
	DefaultMemoryMode     string `validate:"oneof=OFF STANDARD FULL"`

	PostgresDSN string `validate:"required"`
	RedisAddr   string `validate:"required"`

	CatalogPath string `validate:"required"`
	PolicyPath  string // empty uses pkg/policy.DefaultModule

	HTTPAddr string `validate:"required"`

	ModelCredentials map[string][]keypool.Credential // role -> rotation list
}

// env variable names, named once so Load and its tests agree on the exact
// keys spec §6 lists.
const (
	envDebug                = "DEBUG"
	envBypassMemoryInj      = "BYPASS_MEMORY_INJECTION"
	envBypassAdaptiveBudget = "BYPASS_ADAPTIVE_BUDGET"
	envBypassVectorSearch   = "BYPASS_VECTOR_SEARCH"
	envBypassSemanticCache  = "BYPASS_SEMANTIC_CACHE"
	envInternalOnly         = "INTERNAL_ONLY"
	envInternalWhitelist    = "INTERNAL_ONLY_WHITELIST"
	envSessionSecret        = "ATLAS_SESSION_SECRET"
	envDefaultMemoryMode    = "ATLAS_DEFAULT_MEMORY_MODE"
	envPostgresDSN          = "ATLAS_POSTGRES_DSN"
	envRedisAddr            = "ATLAS_REDIS_ADDR"
	envCatalogPath          = "ATLAS_CATALOG_PATH"
	envPolicyPath           = "ATLAS_POLICY_PATH"
	envHTTPAddr             = "ATLAS_HTTP_ADDR"
)

// Load reads the environment, applies defaults, and validates the result.
// Production deployments must set ATLAS_SESSION_SECRET; Load fails fast
// rather than letting a blank secret reach request handling.
func Load() (Config, error) {
	cfg := Config{
		Debug:                 boolEnv(envDebug, false),
		BypassMemoryInjection: boolEnv(envBypassMemoryInj, false),
		BypassAdaptiveBudget:  boolEnv(envBypassAdaptiveBudget, false),
		BypassVectorSearch:    boolEnv(envBypassVectorSearch, false),
		BypassSemanticCache:   boolEnv(envBypassSemanticCache, false),
		InternalOnly:          boolEnv(envInternalOnly, false),
		InternalOnlyWhitelist: splitEnv(envInternalWhitelist),
		SessionSecret:         os.Getenv(envSessionSecret),
		DefaultMemoryMode:     stringEnv(envDefaultMemoryMode, "STANDARD"),
		PostgresDSN:           os.Getenv(envPostgresDSN),
		RedisAddr:             stringEnv(envRedisAddr, "localhost:6379"),
		CatalogPath:           stringEnv(envCatalogPath, "config/predicates.yaml"),
		PolicyPath:            os.Getenv(envPolicyPath),
		HTTPAddr:              stringEnv(envHTTPAddr, ":8080"),
	}

	cfg.ModelCredentials = loadModelCredentials()

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.InternalOnly && len(cfg.InternalOnlyWhitelist) == 0 {
		return Config{}, fmt.Errorf("config: INTERNAL_ONLY=true requires %s", envInternalWhitelist)
	}
	return cfg, nil
}

// defaultRoles are the governance-list roles every generation caller in
// the module uses (DAG generation tasks use "default"/a task's specialist
// name; the orchestrator, synthesizer, and episode summarizer use their
// own fixed role names).
var defaultRoles = []string{"default", "orchestrator", "synthesizer", "episode_summary", "extractor"}

// loadModelCredentials builds the same Anthropic-primary,
// Bedrock-secondary rotation for every role (spec §4.9's governance list
// applies identically across callers); KeyRef values are env var names,
// resolved by the SDK clients themselves at call time, never the literal
// secret.
func loadModelCredentials() map[string][]keypool.Credential {
	rotation := []keypool.Credential{
		{Provider: keypool.ProviderAnthropic, Model: stringEnv("ATLAS_ANTHROPIC_MODEL", "claude-sonnet-4"), KeyRef: "ATLAS_ANTHROPIC_API_KEY"},
		{Provider: keypool.ProviderBedrock, Model: stringEnv("ATLAS_BEDROCK_MODEL", "anthropic.claude-sonnet-4"), KeyRef: "ATLAS_BEDROCK_CREDENTIALS"},
	}
	out := make(map[string][]keypool.Credential, len(defaultRoles))
	for _, role := range defaultRoles {
		out[role] = rotation
	}
	return out
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitEnv(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
