// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"encoding/json"

	validation "github.com/jellydator/validation"

	"github.com/vitalhome/syncengine/internal/sync/domain"
	customValidation "github.com/vitalhome/syncengine/internal/validation"
)

// EnqueueOperationRequest contains the parameters for queueing a local mutation.
type EnqueueOperationRequest struct {
	Action     string          `json:"action" binding:"required"`
	EntityType string          `json:"entity_type" binding:"required"`
	EntityID   string          `json:"entity_id" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	// PreviousValue is the local state before this mutation; used to roll
	// the optimistic update back on permanent failure. Omit for creates.
	PreviousValue json.RawMessage `json:"previous_value,omitempty"`
}

// Validate checks if the enqueue request is valid. Payload schema validation
// happens in the use case, where the entity type is already known.
func (r *EnqueueOperationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Action, validation.Required, validation.In(actionStrings()...)),
		validation.Field(&r.EntityType, validation.Required, validation.In(entityTypeStrings()...)),
		validation.Field(&r.EntityID, validation.Required, validation.Length(1, 128), customValidation.EntityID),
		validation.Field(&r.Payload, validation.Required, customValidation.JSONObject),
	)
}

// ConnectivityRequest reports a connectivity transition from the host app.
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// Validate checks if the connectivity request is valid.
func (r *ConnectivityRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Online, validation.NotNil),
	)
}

func actionStrings() []any {
	actions := domain.Actions()
	out := make([]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, string(a.(domain.Action)))
	}
	return out
}

func entityTypeStrings() []any {
	types := domain.EntityTypes()
	out := make([]any, 0, len(types))
	for _, e := range types {
		out = append(out, string(e.(domain.EntityType)))
	}
	return out
}
