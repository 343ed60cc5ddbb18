package repository

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var stateSchemaJSON []byte

const stateSchemaURL = "printbot-state.schema.json"

var (
	stateSchemaOnce sync.Once
	stateSchema     *jsonschema.Schema
	stateSchemaErr  error
)

func compiledStateSchema() (*jsonschema.Schema, error) {
	stateSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(stateSchemaURL, bytes.NewReader(stateSchemaJSON)); err != nil {
			stateSchemaErr = fmt.Errorf("add state schema resource: %w", err)
			return
		}
		stateSchema, stateSchemaErr = compiler.Compile(stateSchemaURL)
	})
	return stateSchema, stateSchemaErr
}

// DecodeState validates a stored document and decodes it. Errors wrap
// ErrCorruptState.
func DecodeState(data []byte) (*State, error) {
	schema, err := compiledStateSchema()
	if err != nil {
		return nil, err
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if state.ActivePrints == nil {
		state.ActivePrints = make(map[int]*PrintSession)
	}
	if state.UserPreferences == nil {
		state.UserPreferences = make(map[int64]*UserPreferences)
	}
	for idx, sess := range state.ActivePrints {
		if sess == nil {
			delete(state.ActivePrints, idx)
			continue
		}
		sess.PrinterIndex = idx
	}
	for uid, prefs := range state.UserPreferences {
		if prefs == nil {
			delete(state.UserPreferences, uid)
		}
	}
	return state, nil
}

// EncodeState renders the document in its stored form.
func EncodeState(state *State) ([]byte, error) {
	if state == nil {
		state = NewState()
	}
	if state.ActivePrints == nil || state.UserPreferences == nil {
		normalized := *state
		if normalized.ActivePrints == nil {
			normalized.ActivePrints = map[int]*PrintSession{}
		}
		if normalized.UserPreferences == nil {
			normalized.UserPreferences = map[int64]*UserPreferences{}
		}
		state = &normalized
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}
