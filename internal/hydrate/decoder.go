// Package hydrate turns the JSON array stored in an annotation block into
// typed records, one element at a time, so failures name the offending
// record.
package hydrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject reports a block element that is not a JSON object.
var ErrNotObject = errors.New("record is not a JSON object")

// Position locates one record inside an embedded block.
type Position struct {
	Source string
	Index  int
}

func (p Position) String() string {
	if p.Source == "" {
		return fmt.Sprintf("record %d", p.Index)
	}
	return fmt.Sprintf("%s record %d", p.Source, p.Index)
}

// Check validates or completes a decoded record.
type Check[T any] func(Position, *T) error

// Unmarshal decodes a single record.
type Unmarshal[T any] func(Position, json.RawMessage) (T, error)

// Option configures a Decoder.
type Option[T any] func(*Decoder[T])

// Decoder decodes annotation block payloads into values of T.
type Decoder[T any] struct {
	unmarshal Unmarshal[T]
	checks    []Check[T]
}

// WithCheck registers a validation applied after decoding, in order.
func WithCheck[T any](check Check[T]) Option[T] {
	return func(d *Decoder[T]) {
		if check != nil {
			d.checks = append(d.checks, check)
		}
	}
}

// NewDecoder builds a Decoder that turns each record into a T with unmarshal.
func NewDecoder[T any](unmarshal Unmarshal[T], opts ...Option[T]) *Decoder[T] {
	d := &Decoder[T]{unmarshal: unmarshal}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// DecodeBlock decodes payload as a JSON array and returns its records in
// order. The first failing record aborts the whole block.
func (d *Decoder[T]) DecodeBlock(source string, payload []byte) ([]T, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(payload, &elements); err != nil {
		name := source
		if name == "" {
			name = "payload"
		}
		return nil, fmt.Errorf("hydrate: %s is not a JSON array: %w", name, err)
	}
	records := make([]T, len(elements))
	for i, element := range elements {
		value, err := d.Decode(Position{Source: source, Index: i}, element)
		if err != nil {
			return nil, err
		}
		records[i] = value
	}
	return records, nil
}

// Decode decodes a single record found at pos.
func (d *Decoder[T]) Decode(pos Position, raw json.RawMessage) (T, error) {
	var value T

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return value, fmt.Errorf("hydrate: %s: %w", pos, ErrNotObject)
	}

	if d.unmarshal == nil {
		return value, fmt.Errorf("hydrate: %s: no unmarshal function", pos)
	}
	value, err := d.unmarshal(pos, trimmed)
	if err != nil {
		return value, fmt.Errorf("hydrate: decode %s: %w", pos, err)
	}

	for _, check := range d.checks {
		if err := check(pos, &value); err != nil {
			return value, fmt.Errorf("hydrate: check %s: %w", pos, err)
		}
	}
	return value, nil
}
