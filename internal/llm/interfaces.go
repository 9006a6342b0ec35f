// Package llm provides the language-model clients used by fact extraction.
// All providers are called in single-string completion style with a JSON
// response hint, wrapped in circuit breaker protection and an optional
// shared rate limit.
package llm

import "context"

// TextGenerator is the interface for LLM text completion. Every provider
// requests a JSON-only response where the API supports it; the extraction
// layer still validates the result before use.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
