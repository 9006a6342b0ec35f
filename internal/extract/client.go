package extract

import (
	"context"
	"fmt"

	"github.com/famconomy/linz-memory/internal/llm"
	"github.com/famconomy/linz-memory/internal/storage"
)

// Client is the extraction client: it builds the prompt for a batch, calls
// the model, and returns a validated Result.
type Client struct {
	generator llm.TextGenerator
}

// NewClient creates an extraction client on top of a TextGenerator. The
// generator may be nil when no credential is configured; Extract then
// fails fast with ErrNoCredential.
func NewClient(generator llm.TextGenerator) *Client {
	return &Client{generator: generator}
}

// Ready reports whether a model is configured. The job checks this once
// per cycle, before any batch work.
func (c *Client) Ready() bool {
	return c.generator != nil
}

// Extract runs one extraction call for a batch's records and existing
// facts. Model failures, malformed responses, and contract violations all
// surface as errors; the caller treats them as batch-scoped.
func (c *Client) Extract(ctx context.Context, records []storage.ShortTermRecord, facts []storage.LongTermFact) (*Result, error) {
	if c.generator == nil {
		return nil, ErrNoCredential
	}

	prompt, err := BuildPrompt(records, facts)
	if err != nil {
		return nil, err
	}

	raw, err := c.generator.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract: model call failed: %w", err)
	}

	return ParseResult(raw)
}
