// Package envelope validates and normalizes the result contract of stages.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// Transitions is the view of the transition table the validator needs.
type Transitions interface {
	Known(stage string) bool
	IsSuccessor(stage, next string) bool
}

// ValidationError names the missing or malformed envelope field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks candidate against the envelope contract for stage and
// returns the normalized envelope. Codes are upper-cased, message is
// trimmed, and the terminal marker is canonicalized.
func Validate(stage string, candidate map[string]any, transitions Transitions) (*domain.Envelope, error) {
	if candidate == nil {
		return nil, invalid("envelope", "is missing")
	}

	gotStage, err := requireString(candidate, "stage")
	if err != nil {
		return nil, err
	}
	gotStage = strings.TrimSpace(gotStage)
	if gotStage != stage {
		return nil, invalid("stage", "is %q, expected %q", gotStage, stage)
	}

	rawOK, present := candidate["ok"]
	if !present {
		return nil, invalid("ok", "is required")
	}
	ok, isBool := rawOK.(bool)
	if !isBool {
		return nil, invalid("ok", "must be a boolean, got %T", rawOK)
	}

	rawCode, err := requireString(candidate, "code")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rawCode) == "" {
		return nil, invalid("code", "must not be empty")
	}
	code, err := domain.ParseCode(rawCode)
	if err != nil {
		return nil, invalid("code", "%q is not in the code taxonomy", rawCode)
	}
	if code.Reserved() {
		return nil, invalid("code", "%s is reserved for the orchestrator", code)
	}
	if ok && code.Class() != domain.CodeClassSuccess {
		return nil, invalid("code", "%s is not a success code but ok is true", code)
	}
	if !ok && code.Class() == domain.CodeClassSuccess {
		return nil, invalid("code", "%s is a success code but ok is false", code)
	}

	message, err := requireString(candidate, "message")
	if err != nil {
		return nil, err
	}

	rawData, present := candidate["data"]
	if !present {
		return nil, invalid("data", "is required")
	}
	data, isObject := rawData.(map[string]any)
	if !isObject || data == nil {
		return nil, invalid("data", "must be an object, got %T", rawData)
	}

	next, err := nextAction(stage, ok, candidate, transitions)
	if err != nil {
		return nil, err
	}

	return &domain.Envelope{
		Stage:      stage,
		OK:         ok,
		Code:       code,
		Message:    strings.TrimSpace(message),
		Data:       data,
		NextAction: next,
	}, nil
}

func nextAction(stage string, ok bool, candidate map[string]any, transitions Transitions) (string, error) {
	raw, present := candidate["next_action"]
	if !present || raw == nil {
		return "", nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", invalid("next_action", "must be a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if strings.EqualFold(s, domain.NextActionDone) {
		return domain.NextActionDone, nil
	}
	if transitions == nil {
		return s, nil
	}
	if !transitions.Known(s) {
		return "", invalid("next_action", "%q is neither a known stage nor %s", s, domain.NextActionDone)
	}
	if ok && !transitions.IsSuccessor(stage, s) {
		return "", invalid("next_action", "%q is not a legal successor of %s", s, stage)
	}
	return s, nil
}

func requireString(candidate map[string]any, field string) (string, error) {
	raw, present := candidate[field]
	if !present {
		return "", invalid(field, "is required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalid(field, "must be a string, got %T", raw)
	}
	return s, nil
}

// Decode extracts the JSON object from raw provider text. Markdown code
// fences and leading prose are tolerated.
func Decode(text string) (map[string]any, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, invalid("envelope", "is not a JSON object")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(body[start:end+1]), &out); err != nil {
		return nil, invalid("envelope", "is not valid JSON: %v", err)
	}
	return out, nil
}
