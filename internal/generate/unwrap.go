package generate

import (
	"encoding/json"
	"fmt"
)

// refuseSentinel is the payload a model emits to decline generation outright
const refuseSentinel = "REFUSE"

// generationOutput is the shape the generation call must produce
type generationOutput struct {
	ArtifactHTML string         `json:"artifactHtml"`
	Manifest     map[string]any `json:"manifest"`
	Notes        string         `json:"notes,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// usable reports whether the decoded output carries anything actionable
func (o *generationOutput) usable() bool {
	return o.ArtifactHTML != "" || o.Error != ""
}

// unwrapStrategy extracts a candidate payload from a possibly-wrapped model
// response. Models sometimes nest the real output under a wrapper key despite
// instructions; the strategies are tried in a fixed order rather than
// duck-typed inline.
type unwrapStrategy struct {
	name  string
	apply func(map[string]json.RawMessage) (json.RawMessage, bool)
}

func keyStrategy(key string) unwrapStrategy {
	return unwrapStrategy{
		name: "key:" + key,
		apply: func(m map[string]json.RawMessage) (json.RawMessage, bool) {
			raw, ok := m[key]
			return raw, ok
		},
	}
}

var unwrapStrategies = []unwrapStrategy{
	keyStrategy("result"),
	keyStrategy("data"),
	keyStrategy("output"),
	{
		name: "single-key",
		apply: func(m map[string]json.RawMessage) (json.RawMessage, bool) {
			if len(m) != 1 {
				return nil, false
			}
			for _, raw := range m {
				return raw, true
			}
			return nil, false
		},
	},
}

// decodeOutput decodes the gateway's JSON payload into a generationOutput,
// trying the raw object first and then each unwrap strategy in order
func decodeOutput(raw json.RawMessage) (*generationOutput, error) {
	if out := tryDecode(raw); out != nil {
		return out, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		for _, strategy := range unwrapStrategies {
			candidate, ok := strategy.apply(wrapper)
			if !ok {
				continue
			}
			if out := tryDecode(candidate); out != nil {
				return out, nil
			}
		}
	}

	return nil, fmt.Errorf("model output does not match the expected generation shape")
}

func tryDecode(raw json.RawMessage) *generationOutput {
	var out generationOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	if !out.usable() {
		return nil
	}
	return &out
}
