package extract

import (
	"errors"
	"testing"

	"github.com/derekm/flink-tools/internal/source"
)

func TestExtract_Valid(t *testing.T) {
	ex := New(Config{})

	payload := []byte(`{"sensorId":"s1","timestamp":42,"value":3.14}`)
	ev, err := ex.Extract(source.Record{Payload: payload, Position: 7})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ev.Key != "s1" {
		t.Errorf("Key = %q, want %q", ev.Key, "s1")
	}
	if ev.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", ev.Sequence)
	}
	if ev.Position != 7 {
		t.Errorf("Position = %d, want 7", ev.Position)
	}
	if string(ev.Payload) != string(payload) {
		t.Error("Payload must pass through untouched")
	}
}

func TestExtract_CustomFields(t *testing.T) {
	ex := New(Config{KeyField: "device", SequenceField: "counter"})

	ev, err := ex.Extract(source.Record{Payload: []byte(`{"device":"d9","counter":-3}`)})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ev.Key != "d9" || ev.Sequence != -3 {
		t.Errorf("got key=%q seq=%d, want key=%q seq=-3", ev.Key, ev.Sequence, "d9")
	}
}

func TestExtract_Malformed(t *testing.T) {
	ex := New(Config{})

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "not json at all"},
		{"json array", `[1,2,3]`},
		{"missing key field", `{"timestamp":1}`},
		{"missing sequence field", `{"sensorId":"s1"}`},
		{"non-string key", `{"sensorId":5,"timestamp":1}`},
		{"non-integer sequence", `{"sensorId":"s1","timestamp":"soon"}`},
		{"fractional sequence", `{"sensorId":"s1","timestamp":1.5}`},
		{"empty payload", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.Extract(source.Record{Payload: []byte(tt.payload), Position: 3})
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("Extract(%q) error = %v, want ErrMalformedRecord", tt.payload, err)
			}
		})
	}
}
