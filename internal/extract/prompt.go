package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/famconomy/linz-memory/internal/storage"
)

// promptHeader is the fixed task description and output contract. The
// register follows the ultra-strict JSON prompt style: state the structure,
// forbid everything else, show an example.
const promptHeader = `TASK: Extract durable facts about a family and its members from the conversation below.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks. NO explanations.

REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
{
  "new_facts": [{"key":"food.likes","value":"pizza","confidence":0.8,"userId":"u1"}],
  "updated_facts": [],
  "summary": "One sentence describing what was discussed.",
  "tags": ["food"]
}

RULES (STRICT):
1. "new_facts" and "updated_facts" MUST be arrays; "summary" MUST be a string.
2. Every fact MUST have a non-empty "key" and a "value".
3. Keys are stable atomic dotted identifiers: "food.likes", "allergy.peanuts". Reuse an EXISTING FACTS key when the fact updates it (put it in "updated_facts").
4. Never emit two facts with the same key, and never emit synonym keys for the same fact.
5. "confidence" is a number in [0,1]. Omit facts you are not reasonably sure of, or give them low confidence.
6. "userId" is the member the fact is about, or null for the family as a whole.
7. Only durable facts: preferences, allergies, routines, relationships. No small talk.
8. "tags" is an optional array of short topic strings.`

// transcriptEntry is one conversation tuple in the prompt. Entries carries
// the parsed payload when it is well-formed JSON, otherwise the raw text.
type transcriptEntry struct {
	Time    string      `json:"time"`
	Speaker string      `json:"speaker"`
	Entries interface{} `json:"entries"`
}

// promptFact is the wire form of an existing fact shown to the model.
type promptFact struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	UserID     *string         `json:"userId"`
}

// BuildPrompt serializes a batch's records and its existing long-term facts
// into one instruction string. Pure function: deterministic for identical
// inputs, no I/O. Records are expected in creation-time order.
func BuildPrompt(records []storage.ShortTermRecord, facts []storage.LongTermFact) (string, error) {
	transcript := make([]transcriptEntry, 0, len(records))
	for _, rec := range records {
		entry := transcriptEntry{
			Time:    rec.CreatedAt.UTC().Format(time.RFC3339),
			Speaker: rec.Speaker,
			Entries: parsePayload(rec.Payload),
		}
		transcript = append(transcript, entry)
	}

	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("extract: failed to marshal transcript: %w", err)
	}

	existing := make([]promptFact, 0, len(facts))
	for _, fact := range facts {
		existing = append(existing, promptFact{
			Key:        fact.Key,
			Value:      fact.Value,
			Confidence: fact.Confidence,
			UserID:     fact.UserID,
		})
	}

	factsJSON, err := json.Marshal(existing)
	if err != nil {
		return "", fmt.Errorf("extract: failed to marshal existing facts: %w", err)
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nCONVERSATION (chronological):\n")
	b.Write(transcriptJSON)
	b.WriteString("\n\nEXISTING FACTS:\n")
	b.Write(factsJSON)
	b.WriteString("\n\nRESPOND WITH ONLY THE JSON OBJECT (nothing else):")
	return b.String(), nil
}

// parsePayload returns the payload decoded as JSON when it is well-formed
// structured data (object or array), otherwise the raw string.
func parsePayload(payload string) interface{} {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return payload
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return payload
	}
	return parsed
}
