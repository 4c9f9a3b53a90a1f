// Package openaicompat implements the text-generation backend against any
// OpenAI-compatible Chat Completions API.
//
// The same client serves OpenAI itself and self-hosted servers that speak
// the protocol (vLLM, Ollama, LM Studio); only BaseURL and model differ.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-3.5-turbo",
//	}, logger)
package openaicompat
