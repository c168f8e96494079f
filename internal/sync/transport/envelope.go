// Package transport is the wire boundary of the sync engine: the envelope
// codec, the HTTP status classifier, the operation router, and the
// dispatcher. Everything inside the engine is typed; untyped wire maps stop
// here.
package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// Meta is the envelope meta block present on every request and response.
type Meta struct {
	TraceID   string          `json:"trace_id"`
	Timestamp domain.WireTime `json:"timestamp"`
	TxnToken  *string         `json:"txn_token,omitempty"`
}

// NewMeta builds a request meta block for an operation.
func NewMeta(traceID uuid.UUID, txnToken *uuid.UUID, now time.Time) Meta {
	meta := Meta{
		TraceID:   traceID.String(),
		Timestamp: domain.NewWireTime(now),
	}
	if txnToken != nil {
		s := txnToken.String()
		meta.TxnToken = &s
	}
	return meta
}

// ErrorBody is the error block of a failure response envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the outer wire unit: meta plus exactly one of payload
// (request), data (success response), or error (failure response).
type Envelope struct {
	Meta    Meta            `json:"meta"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// EncodeRequest serializes a request envelope.
func EncodeRequest(meta Meta, payload json.RawMessage) ([]byte, error) {
	env := Envelope{Meta: meta, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return b, nil
}

// Decode parses an envelope, failing with ErrMalformedEnvelope when meta,
// trace_id, or timestamp is absent or malformed.
func Decode(b []byte) (*Envelope, error) {
	// Meta validation needs to distinguish "absent" from "zero", so the
	// raw meta block is inspected before the typed decode.
	var probe struct {
		Meta map[string]json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, err.Error())
	}
	if probe.Meta == nil {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, "missing meta")
	}
	if _, ok := probe.Meta["trace_id"]; !ok {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, "missing trace_id")
	}
	if _, ok := probe.Meta["timestamp"]; !ok {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, "missing timestamp")
	}

	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, err.Error())
	}
	if _, err := uuid.Parse(env.Meta.TraceID); err != nil {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, "malformed trace_id")
	}
	if env.Meta.Timestamp.Time().IsZero() {
		return nil, errors.Wrap(domain.ErrMalformedEnvelope, "malformed timestamp")
	}
	return &env, nil
}
