package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"vera-home/internal/domain"
)

var ErrUnknownAction = errors.New("unknown action")

const noParameters = `{"type":"object","maxProperties":0}`

// Parameter documents per command action.
var actionSchemas = map[domain.Action]string{
	domain.ActionTurnOn:    noParameters,
	domain.ActionTurnOff:   noParameters,
	domain.ActionLock:      noParameters,
	domain.ActionUnlock:    noParameters,
	domain.ActionOpen:      noParameters,
	domain.ActionClose:     noParameters,
	domain.ActionStop:      noParameters,
	domain.ActionArm:       noParameters,
	domain.ActionDisarm:    noParameters,
	domain.ActionRunScene:  noParameters,
	domain.ActionGetStatus: noParameters,
	domain.ActionSetLevel: `{
		"type": "object",
		"properties": {
			"level": {"type": "integer", "minimum": 0, "maximum": 100},
			"brightness": {"type": "integer", "minimum": 0, "maximum": 255}
		},
		"minProperties": 1,
		"maxProperties": 1,
		"additionalProperties": false
	}`,
	domain.ActionSetColor: `{
		"type": "object",
		"properties": {
			"r": {"type": "integer", "minimum": 0, "maximum": 255},
			"g": {"type": "integer", "minimum": 0, "maximum": 255},
			"b": {"type": "integer", "minimum": 0, "maximum": 255}
		},
		"required": ["r", "g", "b"],
		"additionalProperties": false
	}`,
	domain.ActionSetTemperature: `{
		"type": "object",
		"properties": {
			"temperature": {"type": "number", "minimum": -50, "maximum": 120}
		},
		"required": ["temperature"],
		"additionalProperties": false
	}`,
	domain.ActionSetHVACMode: `{
		"type": "object",
		"properties": {
			"mode": {"enum": ["Off", "CoolOn", "HeatOn", "AutoChangeOver"]}
		},
		"required": ["mode"],
		"additionalProperties": false
	}`,
	domain.ActionSetFanMode: `{
		"type": "object",
		"properties": {
			"mode": {"enum": ["ContinuousOn", "Off", "Auto", "PeriodicOn"]}
		},
		"required": ["mode"],
		"additionalProperties": false
	}`,
}

// Validator checks command parameters against the per-action schemas.
// Schemas are compiled on first use.
type Validator struct {
	mu    sync.RWMutex
	cache map[domain.Action]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{cache: make(map[domain.Action]*jsonschema.Schema)}
}

// Actions lists every action that has a schema.
func Actions() []domain.Action {
	out := make([]domain.Action, 0, len(actionSchemas))
	for a := range actionSchemas {
		out = append(out, a)
	}
	return out
}

// Document returns the raw schema for an action.
func Document(action domain.Action) (json.RawMessage, bool) {
	doc, ok := actionSchemas[action]
	return json.RawMessage(doc), ok
}

func (v *Validator) Validate(action domain.Action, params map[string]any) error {
	compiled, err := v.compile(action)
	if err != nil {
		return err
	}

	// Normalise through JSON so Go ints and decoded floats validate alike.
	var doc any = map[string]any{}
	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding parameters: %w", err)
		}
		if doc, err = jsonschema.UnmarshalJSON(bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("decoding parameters: %w", err)
		}
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", action, err)
	}
	return nil
}

func (v *Validator) compile(action domain.Action) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if s, ok := v.cache[action]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	doc, ok := actionSchemas[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cache[action]; ok {
		return s, nil
	}

	var schemaMap any
	if err := json.Unmarshal([]byte(doc), &schemaMap); err != nil {
		return nil, fmt.Errorf("unmarshal schema for %s: %w", action, err)
	}

	c := jsonschema.NewCompiler()
	url := string(action) + ".json"
	if err := c.AddResource(url, schemaMap); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", action, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", action, err)
	}

	v.cache[action] = compiled
	return compiled, nil
}
