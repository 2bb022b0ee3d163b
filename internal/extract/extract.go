// Package extract parses raw stream payloads into keyed, sequenced events.
// Payloads are JSON objects carrying a partition key field and a monotonic
// sequence field; everything else in the payload is opaque and passes
// through to the output untouched.
package extract

import (
	"encoding/json"
	"fmt"

	"github.com/derekm/flink-tools/internal/source"
)

// Event is a parsed record: the raw payload plus the extracted partition
// key and sequence number, and the stream position it was read from.
type Event struct {
	Payload  []byte
	Key      string
	Sequence int64
	Position source.Position
}

// Config holds the payload field names the extractor reads.
type Config struct {
	// KeyField is the JSON field holding the partition key
	KeyField string `env:"KEY_FIELD" envDefault:"sensorId"`

	// SequenceField is the JSON field holding the per-key sequence number
	SequenceField string `env:"SEQUENCE_FIELD" envDefault:"timestamp"`
}

// Extractor parses payloads. It is stateless and safe for concurrent use.
type Extractor struct {
	keyField string
	seqField string
}

// New creates an extractor for the configured field names.
func New(cfg Config) *Extractor {
	keyField := cfg.KeyField
	if keyField == "" {
		keyField = "sensorId"
	}
	seqField := cfg.SequenceField
	if seqField == "" {
		seqField = "timestamp"
	}
	return &Extractor{keyField: keyField, seqField: seqField}
}

// Extract parses one raw record. A payload that is not a JSON object, or is
// missing the key or sequence field, or whose sequence is not an integer,
// fails with an error wrapping ErrMalformedRecord. The input stream is
// assumed well formed, so this error is fatal to the run.
func (e *Extractor) Extract(rec source.Record) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec.Payload, &fields); err != nil {
		return Event{}, fmt.Errorf("%w at position %d: %w", ErrMalformedRecord, rec.Position, err)
	}

	rawKey, ok := fields[e.keyField]
	if !ok {
		return Event{}, fmt.Errorf("%w at position %d: missing key field %q",
			ErrMalformedRecord, rec.Position, e.keyField)
	}
	var key string
	if err := json.Unmarshal(rawKey, &key); err != nil {
		return Event{}, fmt.Errorf("%w at position %d: key field %q is not a string: %w",
			ErrMalformedRecord, rec.Position, e.keyField, err)
	}

	rawSeq, ok := fields[e.seqField]
	if !ok {
		return Event{}, fmt.Errorf("%w at position %d: missing sequence field %q",
			ErrMalformedRecord, rec.Position, e.seqField)
	}
	var seq int64
	if err := json.Unmarshal(rawSeq, &seq); err != nil {
		return Event{}, fmt.Errorf("%w at position %d: sequence field %q is not an integer: %w",
			ErrMalformedRecord, rec.Position, e.seqField, err)
	}

	return Event{
		Payload:  rec.Payload,
		Key:      key,
		Sequence: seq,
		Position: rec.Position,
	}, nil
}
