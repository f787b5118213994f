package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	errEmptyOutput = errors.New("empty output")
	errNotJSON     = errors.New("output is not valid JSON")
	errNotObject   = errors.New("output is not a JSON object")
)

// Unwrap normalizes raw worker output. The CLI wraps its payload as
// {"type":"result","result":...}; when result is an object, or a string
// holding a JSON object, that inner object is returned. Anything else
// returns the envelope itself.
func Unwrap(output []byte) (Result, error) {
	raw := bytes.TrimSpace(output)
	if len(raw) == 0 {
		return nil, errEmptyOutput
	}
	if !gjson.ValidBytes(raw) {
		return nil, errNotJSON
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, errNotObject
	}

	inner := gjson.GetBytes(raw, "result")
	switch {
	case inner.IsObject():
		return decode([]byte(inner.Raw))
	case inner.Type == gjson.String && gjson.Valid(inner.Str) && gjson.Parse(inner.Str).IsObject():
		return decode([]byte(inner.Str))
	}
	return decode(raw)
}

func decode(data []byte) (Result, error) {
	var out Result
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode worker output: %w", err)
	}
	return out, nil
}
