/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package decode

import "strings"

// Provider identifiers as they appear on exported events.
const (
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderGoogle      = "google"
	ProviderAzureOpenAI = "azure_openai"
	ProviderAwsBedrock  = "aws_bedrock"
	ProviderCohere      = "cohere"
	ProviderMistral     = "mistral"
	ProviderGroq        = "groq"
	ProviderTogether    = "together"
	ProviderFireworks   = "fireworks"
	ProviderReplicate   = "replicate"
	ProviderHuggingFace = "hugging_face"
	ProviderPerplexity  = "perplexity"
	ProviderDeepSeek    = "deep_seek"
	ProviderOllama      = "ollama"
	ProviderLmStudio    = "lm_studio"
	ProviderXai         = "xai"
	ProviderOpenRouter  = "open_router"
	ProviderCerebras    = "cerebras"
	ProviderSambaNova   = "samba_nova"
	ProviderUnknown     = ""
)

// providerConfig describes how to recognize one provider on the wire.
type providerConfig struct {
	provider       string
	domains        []string
	domainPatterns []string
	keyPrefixes    []string
	authHeader     string
}

// Registry resolves providers from endpoint hosts and API key prefixes.
// Exact domains win over glob patterns, so a pattern like *.openai.azure.com
// never shadows api.openai.com.
type Registry struct {
	providers    []providerConfig
	domainLookup map[string]string
}

// NewRegistry builds the registry with the built-in provider table, plus
// user overrides mapping extra hosts to provider names.
func NewRegistry(overrides map[string]string) *Registry {
	r := &Registry{domainLookup: make(map[string]string)}

	for _, cfg := range defaultProviders() {
		r.register(cfg)
	}

	for host, provider := range overrides {
		if strings.ContainsRune(host, '*') {
			r.register(providerConfig{provider: provider, domainPatterns: []string{host}})
		} else {
			r.domainLookup[host] = provider
		}
	}

	return r
}

func (r *Registry) register(cfg providerConfig) {
	for _, d := range cfg.domains {
		r.domainLookup[d] = cfg.provider
	}

	r.providers = append(r.providers, cfg)
}

// FromHost resolves the provider for an endpoint host (optionally host:port),
// or "" when unknown.
func (r *Registry) FromHost(host string) string {
	if p, ok := r.domainLookup[host]; ok {
		return p
	}

	// Local providers are keyed with the port included; strip it only
	// after the exact lookup fails.
	if bare, _, found := strings.Cut(host, ":"); found {
		if p, ok := r.domainLookup[bare]; ok {
			return p
		}
	}

	for _, cfg := range r.providers {
		for _, pattern := range cfg.domainPatterns {
			if matchPattern(pattern, host) {
				return cfg.provider
			}
		}
	}

	return ProviderUnknown
}

// FromKey resolves the provider from an API key prefix. When several prefixes
// match the longest one wins, so "sk-ant-" beats "sk-".
func (r *Registry) FromKey(key string) string {
	best := ""
	bestLen := 0

	for _, cfg := range r.providers {
		for _, prefix := range cfg.keyPrefixes {
			if strings.HasPrefix(key, prefix) && len(prefix) > bestLen {
				best = cfg.provider
				bestLen = len(prefix)
			}
		}
	}

	return best
}

// AuthHeader returns the header name a provider carries credentials in,
// or "" when none is defined.
func (r *Registry) AuthHeader(provider string) string {
	for _, cfg := range r.providers {
		if cfg.provider == provider {
			return cfg.authHeader
		}
	}

	return ""
}

// IsAIHost reports whether the host resolves to a known provider.
func (r *Registry) IsAIHost(host string) bool {
	return r.FromHost(host) != ProviderUnknown
}

// matchPattern implements the two glob shapes the table needs: a leading
// "*." suffix match and a single embedded "*" wildcard.
func matchPattern(pattern, value string) bool {
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(value, pattern[1:])
	}

	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		prefix, suffix := pattern[:i], pattern[i+1:]
		if strings.ContainsRune(suffix, '*') {
			return false
		}

		return strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix) &&
			len(value) >= len(prefix)+len(suffix)
	}

	return pattern == value
}

func defaultProviders() []providerConfig {
	return []providerConfig{
		{
			provider:    ProviderOpenAI,
			domains:     []string{"api.openai.com"},
			keyPrefixes: []string{"sk-", "sk-proj-", "sk-svcacct-"},
			authHeader:  "authorization",
		},
		{
			provider:    ProviderAnthropic,
			domains:     []string{"api.anthropic.com"},
			keyPrefixes: []string{"sk-ant-"},
			authHeader:  "x-api-key",
		},
		{
			provider: ProviderGoogle,
			domains: []string{
				"generativelanguage.googleapis.com",
				"aiplatform.googleapis.com",
			},
		},
		{
			provider:       ProviderAzureOpenAI,
			domainPatterns: []string{"*.openai.azure.com"},
			authHeader:     "api-key",
		},
		{
			provider: ProviderAwsBedrock,
			domainPatterns: []string{
				"bedrock-runtime.*.amazonaws.com",
				"bedrock.*.amazonaws.com",
			},
		},
		{
			provider:   ProviderCohere,
			domains:    []string{"api.cohere.ai", "api.cohere.com"},
			authHeader: "authorization",
		},
		{
			provider:   ProviderMistral,
			domains:    []string{"api.mistral.ai"},
			authHeader: "authorization",
		},
		{
			provider:    ProviderGroq,
			domains:     []string{"api.groq.com"},
			keyPrefixes: []string{"gsk_"},
			authHeader:  "authorization",
		},
		{
			provider:   ProviderTogether,
			domains:    []string{"api.together.xyz"},
			authHeader: "authorization",
		},
		{
			provider:   ProviderFireworks,
			domains:    []string{"api.fireworks.ai"},
			authHeader: "authorization",
		},
		{
			provider:    ProviderReplicate,
			domains:     []string{"api.replicate.com"},
			keyPrefixes: []string{"r8_"},
			authHeader:  "authorization",
		},
		{
			provider:    ProviderHuggingFace,
			domains:     []string{"api-inference.huggingface.co"},
			keyPrefixes: []string{"hf_"},
			authHeader:  "authorization",
		},
		{
			provider:    ProviderPerplexity,
			domains:     []string{"api.perplexity.ai"},
			keyPrefixes: []string{"pplx-"},
			authHeader:  "authorization",
		},
		{
			provider:   ProviderDeepSeek,
			domains:    []string{"api.deepseek.com"},
			authHeader: "authorization",
		},
		{
			provider:       ProviderOllama,
			domains:        []string{"localhost:11434", "127.0.0.1:11434"},
			domainPatterns: []string{"*.local:11434"},
		},
		{
			provider: ProviderLmStudio,
			domains:  []string{"localhost:1234", "127.0.0.1:1234"},
		},
		{
			provider:    ProviderXai,
			domains:     []string{"api.x.ai"},
			keyPrefixes: []string{"xai-"},
			authHeader:  "authorization",
		},
		{
			provider:    ProviderOpenRouter,
			domains:     []string{"api.openrouter.ai", "openrouter.ai"},
			keyPrefixes: []string{"sk-or-"},
			authHeader:  "authorization",
		},
		{
			provider:    ProviderCerebras,
			domains:     []string{"api.cerebras.ai"},
			keyPrefixes: []string{"csk-"},
			authHeader:  "authorization",
		},
		{
			provider:   ProviderSambaNova,
			domains:    []string{"api.sambanova.ai"},
			authHeader: "authorization",
		},
	}
}
