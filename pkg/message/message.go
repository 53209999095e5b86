// Package message defines the JSON envelope exchanged between the hub and
// training peers, plus the internal round requests that share the router queue.
package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type tags a message. The set is closed; peers running a newer protocol may
// send other tags, which the router logs and drops.
type Type string

const (
	Register             Type = "register"
	RegisterAck          Type = "register_ack"
	StartTraining        Type = "start_training"
	TrainingStarted      Type = "training_started"
	UpdateWeights        Type = "update_weights"
	TrainingUpdate       Type = "training_update"
	TrainingComplete     Type = "training_complete"
	TrainingAcknowledged Type = "training_acknowledged"
	EvaluateRequest      Type = "evaluate_request"
	EvaluateComplete     Type = "evaluate_complete"

	// Fit and Evaluate never cross the wire. They carry round requests from
	// the bridge into the router queue.
	Fit      Type = "fit"
	Evaluate Type = "evaluate"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Known reports whether t is one of the protocol types above.
func (t Type) Known() bool {
	switch t {
	case Register, RegisterAck, StartTraining, TrainingStarted, UpdateWeights,
		TrainingUpdate, TrainingComplete, TrainingAcknowledged, EvaluateRequest,
		EvaluateComplete, Fit, Evaluate:
		return true
	default:
		return false
	}
}

// Message is the union of all envelope fields. Only the fields relevant to
// Type are set; the rest are omitted on the wire.
type Message struct {
	Type        Type            `json:"type"`
	ClientID    string          `json:"client_id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Error       string          `json:"error,omitempty"`
	Round       Int             `json:"round,omitempty"`
	Config      Config          `json:"config,omitempty"`
	Weights     json.RawMessage `json:"weights,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Progress    Float           `json:"progress,omitempty"`
	NumSamples  Int             `json:"num_samples,omitempty"`
	NumExamples Int             `json:"num_examples,omitempty"`
	Loss        Float           `json:"loss,omitempty"`
	Accuracy    Float           `json:"accuracy,omitempty"`
	Metrics     map[string]any  `json:"metrics,omitempty"`
}

// Parse decodes one envelope. The type field is mandatory.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}

	return msg, nil
}

// Int is an integer that also accepts numeric strings ("3") and integral
// floats (3.0) when decoding.
type Int int64

func (i *Int) UnmarshalJSON(b []byte) error {
	v, err := parseNumber(b)
	if err != nil {
		return err
	}
	*i = Int(v)

	return nil
}

// Float is a float64 that also accepts numeric strings when decoding.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	v, err := parseNumber(b)
	if err != nil {
		return err
	}
	*f = Float(v)

	return nil
}

func parseNumber(b []byte) (float64, error) {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return 0, nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, s)
	}

	return v, nil
}
