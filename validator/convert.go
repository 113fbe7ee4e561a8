package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"

	"github.com/hiydavid/dbx-agent-on-app/types"
)

// ConvertResult normalizes a ResultUnit into a plain string-keyed mapping.
//
// Accepted: maps with string keys, structs and non-nil pointers to structs.
// Values go through a JSON round trip, so the mapping holds exactly what the
// client will receive (omitempty fields disappear). Numbers decode as
// json.Number so integers beyond 2^53 keep every digit.
func ConvertResult(result any) (map[string]any, error) {
	if !convertible(result) {
		return nil, types.Errorf(types.ErrUnsupportedResult,
			"unsupported result type %T: expected a struct or a map with string keys", result)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, types.Errorf(types.ErrUnsupportedResult, "result of type %T is not JSON-serializable", result).
			WithCause(err)
	}

	out, err := decodeObject(data)
	if err != nil || out == nil {
		return nil, types.Errorf(types.ErrUnsupportedResult,
			"result of type %T does not serialize to a JSON object", result)
	}
	return out, nil
}

func convertible(result any) bool {
	rv := reflect.ValueOf(result)
	if !rv.IsValid() {
		return false
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return true
	case reflect.Map:
		return rv.Type().Key().Kind() == reflect.String && !rv.IsNil()
	default:
		return false
	}
}

// decodeObject decodes one JSON object, keeping numbers as json.Number.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	return out, nil
}
