// Package symptoms defines the six-field symptom record collected during the
// patient interview and the strict parser for model replies.
package symptoms

import (
	"errors"
	"fmt"
	"strings"
)

// Field names in schema order.
const (
	FieldFever    = "fever"
	FieldCough    = "cough"
	FieldFatigue  = "fatigue"
	FieldPain     = "pain"
	FieldDuration = "duration"
	FieldLocation = "location"
)

// Fields lists every required field in schema order.
var Fields = []string{FieldFever, FieldCough, FieldFatigue, FieldPain, FieldDuration, FieldLocation}

// Record is one candidate symptom summary. A nil field was absent or null in
// the model reply.
type Record struct {
	Fever    *string `json:"fever"`
	Cough    *string `json:"cough"`
	Fatigue  *string `json:"fatigue"`
	Pain     *string `json:"pain"`
	Duration *string `json:"duration"`
	Location *string `json:"location"`
}

// SchemaError reports the fields that are missing or blank.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing symptom fields: " + strings.Join(e.Missing, ", ")
}

// Get returns the value of a field by schema name.
func (r Record) Get(field string) (string, bool) {
	p := r.ptr(field)
	if p == nil {
		return "", false
	}
	return *p, true
}

func (r Record) ptr(field string) *string {
	switch field {
	case FieldFever:
		return r.Fever
	case FieldCough:
		return r.Cough
	case FieldFatigue:
		return r.Fatigue
	case FieldPain:
		return r.Pain
	case FieldDuration:
		return r.Duration
	case FieldLocation:
		return r.Location
	}
	return nil
}

func (r *Record) set(field string, v *string) error {
	switch field {
	case FieldFever:
		r.Fever = v
	case FieldCough:
		r.Cough = v
	case FieldFatigue:
		r.Fatigue = v
	case FieldPain:
		r.Pain = v
	case FieldDuration:
		r.Duration = v
	case FieldLocation:
		r.Location = v
	default:
		return fmt.Errorf("%w: unknown field %q", ErrMalformed, field)
	}
	return nil
}

// Missing lists the fields that are absent or blank, in schema order.
func (r Record) Missing() []string {
	var missing []string
	for _, f := range Fields {
		v, ok := r.Get(f)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsComplete reports whether every field is present and non-blank.
func (r Record) IsComplete() bool {
	return len(r.Missing()) == 0
}

// IsZero reports whether no field is set.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Validate returns a *SchemaError when the record is incomplete.
func (r Record) Validate() error {
	if missing := r.Missing(); len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// Map returns the set fields keyed by schema name.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(Fields))
	for _, f := range Fields {
		if v, ok := r.Get(f); ok {
			out[f] = v
		}
	}
	return out
}

// FromMap builds a record from schema-keyed values. Unknown keys are an error.
func FromMap(m map[string]string) (Record, error) {
	var r Record
	for k, v := range m {
		if err := r.set(k, &v); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// String renders the record as "field: value" lines for prompts and logs.
func (r Record) String() string {
	var b strings.Builder
	for _, f := range Fields {
		v, ok := r.Get(f)
		if !ok {
			v = "unknown"
		}
		fmt.Fprintf(&b, "%s: %s\n", f, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

// IsSchemaError reports whether err carries a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
