package domain

// Envelope is the canonical result every stage produces.
type Envelope struct {
	Stage      string         `json:"stage"`
	OK         bool           `json:"ok"`
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
	NextAction string         `json:"next_action"`
}

// NewFailureEnvelope builds an ok=false envelope produced by the orchestrator itself.
func NewFailureEnvelope(stage string, code Code, message string, data map[string]any) *Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return &Envelope{
		Stage:   stage,
		OK:      false,
		Code:    code,
		Message: message,
		Data:    data,
	}
}
