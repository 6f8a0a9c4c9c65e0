package task

import (
	"encoding/json"
	"fmt"
)

// ResultPayload is the parsed body of one inbound result callback.
// A well-formed payload carries either a reworked script or an error,
// never both and never neither.
type ResultPayload struct {
	TaskID    string         `json:"task_id"`
	NewScript *string        `json:"new_script,omitempty"`
	Analysis  map[string]any `json:"analysis,omitempty"`
	Error     *string        `json:"error,omitempty"`
}

// IsSuccess reports whether the payload carries a reworked script and no error.
func (p *ResultPayload) IsSuccess() bool {
	return p.NewScript != nil && p.Error == nil
}

// IsError reports whether the payload carries an error and no reworked script.
func (p *ResultPayload) IsError() bool {
	return p.Error != nil && p.NewScript == nil
}

// IsValid reports whether the payload has exactly one of new_script / error.
func (p *ResultPayload) IsValid() bool {
	return p.IsSuccess() || p.IsError()
}

// ParseResultPayload decodes a raw callback body. It fails only on malformed
// JSON; a structurally invalid payload (both or neither result field) is
// returned as-is so the caller can drive the forced-failure transition.
func ParseResultPayload(data []byte) (*ResultPayload, error) {
	var p ResultPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse result payload: %w", err)
	}
	return &p, nil
}
