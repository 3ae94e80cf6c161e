// Command dispatchd is a thin manual-smoke-test harness around the
// dispatch core (SPEC_FULL §6): it performs the env-var bootstrap and
// serves /healthz plus one demo chat endpoint. No CLI surface here is
// part of the core's contract; cmd/agentflow/main.go's serve/health
// command-dispatch shape is the layout this mirrors.
package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/paxoscn/llmdispatch/llmcore"
	"github.com/paxoscn/llmdispatch/llmcore/dispatch"
	"github.com/paxoscn/llmdispatch/llmcore/providers/anthropicstyle"
	"github.com/paxoscn/llmdispatch/llmcore/providers/localcompat"
	"github.com/paxoscn/llmdispatch/llmcore/providers/openaistyle"
)

// bootstrapRegistry registers one provider handle per credential found
// in the environment, per §6's bootstrap table. Absence of a given
// credential is not fatal — it just skips that provider. If nothing
// registers, it returns NoProvidersConfigured.
func bootstrapRegistry(logger *zap.Logger) (*dispatch.Registry, error) {
	reg := dispatch.NewRegistry()

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg := llmcore.ModelConfig{
			ID:           "openai",
			ProviderKind: llmcore.KindOpenAIStyle,
			ModelName:    envOr("OPENAI_MODEL", "gpt-4o-mini"),
			Credentials: llmcore.Credentials{
				APIKey:  key,
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
		}
		handle, err := openaistyle.New("openai", cfg, logger)
		if err != nil {
			logger.Warn("skipping openai provider: invalid configuration", zap.Error(err))
		} else {
			reg.Register("openai", handle)
		}
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg := llmcore.ModelConfig{
			ID:           "anthropic",
			ProviderKind: llmcore.KindAnthropicStyle,
			ModelName:    envOr("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
			Credentials:  llmcore.Credentials{APIKey: key},
		}
		handle, err := anthropicstyle.New("anthropic", cfg, logger)
		if err != nil {
			logger.Warn("skipping anthropic provider: invalid configuration", zap.Error(err))
		} else {
			reg.Register("anthropic", handle)
		}
	}

	if baseURL := os.Getenv("LOCAL_LLM_URL"); baseURL != "" {
		cfg := llmcore.ModelConfig{
			ID:           "local",
			ProviderKind: llmcore.KindLocalOpenAICompatible,
			ModelName:    envOr("LOCAL_LLM_MODEL", "local-model"),
			Credentials:  llmcore.Credentials{BaseURL: baseURL},
		}
		handle, err := localcompat.New("local", cfg, logger)
		if err != nil {
			logger.Warn("skipping local provider: invalid configuration", zap.Error(err))
		} else {
			reg.Register("local", handle)
		}
	}

	if reg.Len() == 0 {
		return nil, llmcore.NewError(llmcore.KindNoProvidersConfig,
			"none of OPENAI_API_KEY, ANTHROPIC_API_KEY, LOCAL_LLM_URL yielded a usable provider")
	}
	return reg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func exitOnErr(logger *zap.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logger.Fatal(msg, zap.Error(err))
}
