package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON extracts the first complete JSON object from a string that may
// contain extra text. This handles models that add explanations or markdown
// fences around the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found; let the parser fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // no complete object; let the parser fail
}

// rawResult distinguishes absent fields from present-but-wrong-type fields
// so validation errors can name exactly what is wrong.
type rawResult struct {
	NewFacts     *json.RawMessage `json:"new_facts"`
	UpdatedFacts *json.RawMessage `json:"updated_facts"`
	Summary      *json.RawMessage `json:"summary"`
	Tags         *json.RawMessage `json:"tags"`
}

// ParseResult parses raw model output and validates it against the result
// contract. It returns ErrMalformedResponse (wrapped) when the output is
// empty or not JSON, and *ValidationError when the JSON violates the
// contract. Only a fully validated Result is ever returned.
func ParseResult(raw string) (*Result, error) {
	cleaned := extractJSON(raw)
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	var parsed rawResult
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result := &Result{}

	newFacts, err := validateFactArray("new_facts", parsed.NewFacts)
	if err != nil {
		return nil, err
	}
	result.NewFacts = newFacts

	updatedFacts, err := validateFactArray("updated_facts", parsed.UpdatedFacts)
	if err != nil {
		return nil, err
	}
	result.UpdatedFacts = updatedFacts

	if parsed.Summary == nil || string(*parsed.Summary) == "null" {
		return nil, &ValidationError{Field: "summary", Reason: "missing"}
	}
	if err := json.Unmarshal(*parsed.Summary, &result.Summary); err != nil {
		return nil, &ValidationError{Field: "summary", Reason: "must be a string"}
	}

	if parsed.Tags != nil {
		if err := json.Unmarshal(*parsed.Tags, &result.Tags); err != nil {
			return nil, &ValidationError{Field: "tags", Reason: "must be an array of strings"}
		}
	}

	return result, nil
}

// validateFactArray checks that the named field is an array of fact objects
// satisfying the contract: non-empty string key, present value, numeric
// confidence when present, string-or-null userId when present.
func validateFactArray(field string, raw *json.RawMessage) ([]FactCandidate, error) {
	if raw == nil {
		return nil, &ValidationError{Field: field, Reason: "missing"}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(*raw, &entries); err != nil {
		return nil, &ValidationError{Field: field, Reason: "must be an array"}
	}

	facts := make([]FactCandidate, 0, len(entries))
	for i, entry := range entries {
		name := fmt.Sprintf("%s[%d]", field, i)

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(entry, &obj); err != nil {
			return nil, &ValidationError{Field: name, Reason: "must be an object"}
		}

		var fact FactCandidate

		keyRaw, ok := obj["key"]
		if !ok {
			return nil, &ValidationError{Field: name + ".key", Reason: "missing"}
		}
		if err := json.Unmarshal(keyRaw, &fact.Key); err != nil {
			return nil, &ValidationError{Field: name + ".key", Reason: "must be a string"}
		}
		if fact.Key == "" {
			return nil, &ValidationError{Field: name + ".key", Reason: "must be non-empty"}
		}

		valueRaw, ok := obj["value"]
		if !ok || string(valueRaw) == "null" {
			return nil, &ValidationError{Field: name + ".value", Reason: "missing"}
		}
		fact.Value = valueRaw

		if confRaw, ok := obj["confidence"]; ok && string(confRaw) != "null" {
			var conf float64
			if err := json.Unmarshal(confRaw, &conf); err != nil {
				return nil, &ValidationError{Field: name + ".confidence", Reason: "must be numeric"}
			}
			fact.Confidence = &conf
		}

		if userRaw, ok := obj["userId"]; ok && string(userRaw) != "null" {
			var user string
			if err := json.Unmarshal(userRaw, &user); err != nil {
				return nil, &ValidationError{Field: name + ".userId", Reason: "must be a string or null"}
			}
			fact.UserID = &user
		}

		facts = append(facts, fact)
	}

	return facts, nil
}
