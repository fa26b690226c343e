package dxfeed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SampleKind tells whether a payload carries its own field names.
type SampleKind int

const (
	// FirstSample payloads carry the field names followed by values.
	FirstSample SampleKind = iota
	// SubsequentSample payloads carry values only and rely on the schema
	// cached from an earlier first sample of the same event type.
	SubsequentSample
)

func (k SampleKind) String() string {
	switch k {
	case FirstSample:
		return "first"
	case SubsequentSample:
		return "subsequent"
	default:
		return "unknown"
	}
}

// Payload is the decoded data of a /service/data message.
type Payload struct {
	Type   string
	Kind   SampleKind
	Fields []string // nil for SubsequentSample
	Values []any
	Raw    json.RawMessage
}

// ParsePayload decodes the data array of an event message. Three layouts are
// recognised:
//
//	[[type, [fields...]], [values...]]   first sample
//	[type, [fields...], [values...]]     first sample, flattened
//	[type, [values...]]                  subsequent sample
//
// Numbers are kept as json.Number so prices are never routed through float64.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 elements, got %d", ErrMalformedPayload, len(arr))
	}

	p := &Payload{Raw: raw}
	var values any

	switch head := arr[0].(type) {
	case string:
		p.Type = head
		switch len(arr) {
		case 2:
			p.Kind = SubsequentSample
			values = arr[1]
		case 3:
			p.Kind = FirstSample
			fields, err := fieldNames(arr[1])
			if err != nil {
				return nil, err
			}
			p.Fields = fields
			values = arr[2]
		default:
			return nil, fmt.Errorf("%w: unexpected length %d", ErrMalformedPayload, len(arr))
		}
	case []any:
		if len(arr) != 2 || len(head) != 2 {
			return nil, fmt.Errorf("%w: bad first-sample header", ErrMalformedPayload)
		}
		tag, ok := head[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: event type is not a string", ErrMalformedPayload)
		}
		fields, err := fieldNames(head[1])
		if err != nil {
			return nil, err
		}
		p.Type = tag
		p.Kind = FirstSample
		p.Fields = fields
		values = arr[1]
	default:
		return nil, fmt.Errorf("%w: unexpected head %T", ErrMalformedPayload, arr[0])
	}

	vals, ok := values.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: values are %T, not an array", ErrMalformedPayload, values)
	}
	p.Values = vals
	return p, nil
}

func fieldNames(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: missing field names", ErrMalformedPayload)
	}
	out := make([]string, len(list))
	for i, f := range list {
		name, ok := f.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field name %d is %T", ErrMalformedPayload, i, f)
		}
		out[i] = name
	}
	return out, nil
}

// Split slices a flat value array into len(fields)-wide records.
func Split(fields []string, values []any) ([]Record, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty schema", ErrMalformedBatch)
	}
	if len(values)%len(fields) != 0 {
		return nil, fmt.Errorf("%w: %d values for %d fields", ErrMalformedBatch, len(values), len(fields))
	}
	n := len(values) / len(fields)
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		chunk := values[i*len(fields) : (i+1)*len(fields)]
		rec := make(Record, len(fields))
		for j, name := range fields {
			rec[name] = chunk[j]
		}
		records = append(records, rec)
	}
	return records, nil
}
