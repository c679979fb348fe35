// Package eyes holds the validator stages and their registry.
package eyes

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/eyes/internal/adapter/provider"
	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/envelope"
)

// Eye is one validator stage. The orchestrator only talks to stages
// through this interface.
type Eye interface {
	Name() string
	// Predecessors lists the stages any one of which must have completed
	// before this stage may run. Empty for the entry stage.
	Predecessors() []string
	// Request builds the provider request for a stage input.
	Request(input json.RawMessage) (*provider.CompletionRequest, error)
	// Interpret turns raw provider text into an envelope candidate.
	Interpret(text string) (map[string]any, error)
}

// PromptEye is an Eye driven entirely by its instructions.
type PromptEye struct {
	StageName    string
	After        []string
	Instructions string
	// NextAction is the successor suggested to the model on success.
	NextAction string
	Params     provider.SamplingParams
}

func (e *PromptEye) Name() string { return e.StageName }

func (e *PromptEye) Predecessors() []string { return e.After }

// Request renders the system prompt with the envelope contract and passes
// the input as the user message.
func (e *PromptEye) Request(input json.RawMessage) (*provider.CompletionRequest, error) {
	content, err := userContent(input)
	if err != nil {
		return nil, err
	}
	return &provider.CompletionRequest{
		Messages: []provider.Message{
			{Role: "system", Content: e.systemPrompt()},
			{Role: "user", Content: content},
		},
		Params: e.Params,
		Metadata: map[string]string{
			"stage":       e.StageName,
			"next_action": e.NextAction,
		},
	}, nil
}

// Interpret decodes the JSON object in text.
func (e *PromptEye) Interpret(text string) (map[string]any, error) {
	return envelope.Decode(text)
}

func (e *PromptEye) systemPrompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(e.Instructions))
	b.WriteString("\n\nRespond with a single JSON object and nothing else:\n")
	fmt.Fprintf(&b, `{"stage": %q, "ok": <bool>, "code": <string>, "message": <string>, "data": <object>, "next_action": <string>}`, e.StageName)
	b.WriteString("\n\nWhen ok is true, code is one of ")
	b.WriteString(codeList(domain.CodeClassSuccess))
	b.WriteString(". When ok is false, code is one of ")
	b.WriteString(codeList(domain.CodeClassNeedsInput, domain.CodeClassRejection))
	b.WriteString(".")
	if e.NextAction != "" {
		fmt.Fprintf(&b, " On success set next_action to %q.", e.NextAction)
	}
	return b.String()
}

func codeList(classes ...domain.CodeClass) string {
	var out []string
	for _, class := range classes {
		for _, c := range domain.CodesOf(class) {
			out = append(out, string(c))
		}
	}
	return strings.Join(out, ", ")
}

// userContent unwraps {"text": "..."} payloads and passes anything else through as JSON.
func userContent(input json.RawMessage) (string, error) {
	if len(input) == 0 {
		return "", fmt.Errorf("stage input is empty")
	}
	var wrapped struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(input, &wrapped); err == nil && wrapped.Text != nil {
		return *wrapped.Text, nil
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		return s, nil
	}
	if !json.Valid(input) {
		return "", fmt.Errorf("stage input is not valid JSON")
	}
	return string(input), nil
}
