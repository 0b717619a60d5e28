package symptoms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed marks a reply that is not a JSON object of the record shape.
var ErrMalformed = errors.New("malformed symptom reply")

// Parse decodes a model reply into a complete record. The reply must be a
// single JSON object whose keys are a subset of Fields with string or null
// values; a surrounding Markdown code fence is tolerated. Shape problems wrap
// ErrMalformed; a well-formed but incomplete record returns *SchemaError.
func Parse(raw string) (Record, error) {
	body := stripFence(raw)
	if body == "" {
		return Record{}, fmt.Errorf("%w: empty reply", ErrMalformed)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Record{}, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}

	var r Record
	for key, val := range fields {
		v, err := decodeValue(val)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
		}
		if err := r.set(key, v); err != nil {
			return Record{}, err
		}
	}

	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

func decodeValue(val json.RawMessage) (*string, error) {
	if bytes.Equal(bytes.TrimSpace(val), []byte("null")) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, errors.New("value is not a string")
	}
	return &s, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
