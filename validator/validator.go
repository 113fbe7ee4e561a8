// Package validator binds the schema engine to one AgentType: request
// checking and decoding, result checking, and result normalization.
package validator

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hiydavid/dbx-agent-on-app/agenttype"
	"github.com/hiydavid/dbx-agent-on-app/schema"
	"github.com/hiydavid/dbx-agent-on-app/types"
)

// Validator checks payloads against the shapes of one AgentType.
// It is immutable after New and safe for concurrent use.
type Validator struct {
	def    agenttype.Definition
	engine *schema.Validator

	request  *schema.JSONSchema
	response *schema.JSONSchema
	chunk    *schema.JSONSchema
}

// New builds a Validator for t. Schemas are generated once here.
func New(t agenttype.AgentType) (*Validator, error) {
	def, err := agenttype.Lookup(t)
	if err != nil {
		return nil, types.NewError(types.ErrServerMisconfigured, "unsupported agent type").WithCause(err)
	}

	v := &Validator{def: def, engine: schema.NewValidator()}
	for _, target := range []struct {
		typ reflect.Type
		dst **schema.JSONSchema
	}{
		{def.Request, &v.request},
		{def.Response, &v.response},
		{def.Chunk, &v.chunk},
	} {
		if target.typ == nil {
			continue
		}
		s, err := schema.Of(target.typ)
		if err != nil {
			return nil, fmt.Errorf("generate schema for %s: %w", target.typ, err)
		}
		*target.dst = s
	}
	return v, nil
}

// AgentType returns the type this validator is bound to.
func (v *Validator) AgentType() agenttype.AgentType { return v.def.Type }

// Definition returns the catalog entry this validator is bound to.
func (v *Validator) Definition() agenttype.Definition { return v.def }

// ValidateAndConvertRequest checks raw against the request shape and returns
// the value handed to the callback.
//
// Untyped agents get raw back unchanged. Typed agents get a pointer to the
// request struct; a value that already is that struct (or a pointer to it)
// passes through without re-validation.
func (v *Validator) ValidateAndConvertRequest(raw any) (any, error) {
	if v.request == nil {
		return raw, nil
	}

	want := v.def.Request
	switch rv := reflect.ValueOf(raw); {
	case !rv.IsValid():
		return nil, v.invalidParams(fmt.Errorf("expected a JSON object, got null"))
	case rv.Type() == want:
		ptr := reflect.New(want)
		ptr.Elem().Set(rv)
		return ptr.Interface(), nil
	case rv.Type() == reflect.PointerTo(want) && !rv.IsNil():
		return raw, nil
	}

	payload, ok := raw.(map[string]any)
	if !ok {
		return nil, v.invalidParams(fmt.Errorf("expected a JSON object, got %T", raw))
	}
	if err := v.engine.ValidateValue(payload, v.request); err != nil {
		return nil, v.invalidParams(err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, v.invalidParams(err)
	}
	ptr := reflect.New(want)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, v.invalidParams(err)
	}
	return ptr.Interface(), nil
}

// ValidateResult checks a produced value against the response shape, or the
// chunk shape when isChunk is set. It is a no-op for untyped agents.
func (v *Validator) ValidateResult(result any, isChunk bool) error {
	s := v.resultSchema(isChunk)
	if s == nil {
		return nil
	}
	converted, err := ConvertResult(result)
	if err != nil {
		return err
	}
	return v.checkResult(converted, s, isChunk)
}

// ValidateAndConvertResult validates result and returns its plain mapping.
// The conversion happens once and the validated mapping is what is returned.
func (v *Validator) ValidateAndConvertResult(result any, isChunk bool) (map[string]any, error) {
	converted, err := ConvertResult(result)
	if err != nil {
		return nil, err
	}
	if s := v.resultSchema(isChunk); s != nil {
		if err := v.checkResult(converted, s, isChunk); err != nil {
			return nil, err
		}
	}
	return converted, nil
}

func (v *Validator) resultSchema(isChunk bool) *schema.JSONSchema {
	if isChunk {
		return v.chunk
	}
	return v.response
}

func (v *Validator) checkResult(converted map[string]any, s *schema.JSONSchema, isChunk bool) error {
	if err := v.engine.ValidateValue(converted, s); err != nil {
		kind := "response"
		if isChunk {
			kind = "stream chunk"
		}
		return types.Errorf(types.ErrInvalidResult, "Invalid %s for %s", kind, v.def.Type).
			WithAgentType(string(v.def.Type)).
			WithCause(err)
	}
	return nil
}

func (v *Validator) invalidParams(cause error) error {
	return types.Errorf(types.ErrInvalidParameters, "Invalid parameters for %s", v.def.Type).
		WithAgentType(string(v.def.Type)).
		WithCause(cause)
}
