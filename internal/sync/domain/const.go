package domain

// Action is the mutation kind carried by a queued operation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// EntityType identifies the remote collection an operation targets.
type EntityType string

const (
	EntityDevice  EntityType = "device"
	EntityProfile EntityType = "profile"
	EntityReading EntityType = "reading"
)

// OperationStatus represents the queue status of a pending operation.
type OperationStatus string

const (
	OperationStatusPending  OperationStatus = "pending"
	OperationStatusInFlight OperationStatus = "in_flight"
	OperationStatusFailed   OperationStatus = "failed"
	// OperationStatusNeedsResolution parks an operation whose conflict could
	// not be rebased automatically; it is never retried without user action.
	OperationStatusNeedsResolution OperationStatus = "needs_resolution"
)

// Actions returns all valid actions, used by validation rules.
func Actions() []any {
	return []any{ActionCreate, ActionUpdate, ActionDelete}
}

// EntityTypes returns all valid entity types, used by validation rules.
func EntityTypes() []any {
	return []any{EntityDevice, EntityProfile, EntityReading}
}
