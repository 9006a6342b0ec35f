// Package extract turns a batch of short-term records into validated fact
// candidates: it builds the deterministic extraction prompt, calls the
// model, and enforces the structural contract on the response before
// anything reaches the reconciler. The model's output is untrusted; no
// unvalidated value is ever merged into long-term state.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoCredential indicates that no model credential is configured.
	// This is fatal for the whole job cycle and is raised before any
	// batch work starts.
	ErrNoCredential = errors.New("no model credential configured")

	// ErrMalformedResponse indicates that the model returned empty or
	// non-JSON content. Scoped to one batch.
	ErrMalformedResponse = errors.New("model response is not valid JSON")
)

// ValidationError reports a structural contract violation in the model's
// response, naming the offending field. Scoped to one batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("extraction result invalid: %s: %s", e.Field, e.Reason)
}

// FactCandidate is one fact-like entry from the model's response after
// validation. Key is a stable dotted identifier ("food.likes"); Value is
// arbitrary JSON. Confidence and UserID are optional in the wire format.
type FactCandidate struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Confidence *float64        `json:"confidence,omitempty"`
	UserID     *string         `json:"userId,omitempty"`
}

// Result is the validated output of one extraction call. It is only ever
// constructed by the validating parser, so the reconciler can trust its
// shape. Discarded once reconciled.
type Result struct {
	NewFacts     []FactCandidate
	UpdatedFacts []FactCandidate
	Summary      string
	Tags         []string
}

// AllFacts returns new and updated facts as one slice; the reconciler
// treats both uniformly as upserts.
func (r *Result) AllFacts() []FactCandidate {
	facts := make([]FactCandidate, 0, len(r.NewFacts)+len(r.UpdatedFacts))
	facts = append(facts, r.NewFacts...)
	facts = append(facts, r.UpdatedFacts...)
	return facts
}
