package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	apperrors "github.com/vitalhome/syncengine/internal/errors"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// ReconcileOutcome is the reconciler's verdict on a conflicted operation.
type ReconcileOutcome string

const (
	// OutcomeSuperseded means the server state already covers the intent;
	// the operation is dropped and its optimistic update confirmed.
	OutcomeSuperseded ReconcileOutcome = "superseded"
	// OutcomeRebased means the intent was re-derived against the server
	// version; the operation re-enters the queue with the rebased payload.
	OutcomeRebased ReconcileOutcome = "rebased"
	// OutcomeNeedsManualResolution parks the operation for user review.
	OutcomeNeedsManualResolution ReconcileOutcome = "needs_manual_resolution"
)

// Resolution is the reconciler's decision. Payload is set only for
// OutcomeRebased.
type Resolution struct {
	Outcome ReconcileOutcome
	Payload json.RawMessage
}

// ServerState is the authoritative view of a conflicted entity at
// reconcile time. Payload is the fetched server state, nil when it could
// not be retrieved; Base is the local pre-mutation value recorded by the
// optimistic store, nil when no record exists.
type ServerState struct {
	Version int64
	Payload json.RawMessage
	Base    json.RawMessage
}

// EntityFetcher retrieves the authoritative server state for a conflicted
// operation's entity.
type EntityFetcher interface {
	FetchEntity(ctx context.Context, op *domain.PendingOperation) (json.RawMessage, *domain.SyncError)
}

// BaseReader looks up the optimistic record whose previous value is the
// local base a mutation was derived from.
type BaseReader interface {
	Get(ctx context.Context, txnToken uuid.UUID) (*domain.OptimisticUpdateRecord, error)
}

// RebaseFunc re-derives one entity type's conflicted operation against the
// authoritative server state.
type RebaseFunc func(op *domain.PendingOperation, server *ServerState) (*Resolution, error)

// Reconciler resolves version conflicts per entity type. Entity types
// without a registered rebase function park their conflicts for manual
// resolution; the engine never guesses.
type Reconciler struct {
	fetcher EntityFetcher
	bases   BaseReader
	funcs   map[domain.EntityType]RebaseFunc
}

// NewReconciler creates a reconciler with the default per-entity rebase
// functions. fetcher and bases may be nil; rebasing then falls back to the
// server version carried on the conflict error.
func NewReconciler(fetcher EntityFetcher, bases BaseReader) *Reconciler {
	r := &Reconciler{
		fetcher: fetcher,
		bases:   bases,
		funcs:   make(map[domain.EntityType]RebaseFunc),
	}
	r.Register(domain.EntityDevice, rebaseDevice)
	r.Register(domain.EntityProfile, rebaseProfile)
	r.Register(domain.EntityReading, rebaseReading)
	return r
}

// Register installs or replaces the rebase function for an entity type.
func (r *Reconciler) Register(entityType domain.EntityType, fn RebaseFunc) {
	r.funcs[entityType] = fn
}

// Reconcile decides what to do with a conflicted operation. The
// authoritative server state is fetched when a fetcher is wired; a
// conflict whose server version cannot be determined at all is parked.
func (r *Reconciler) Reconcile(ctx context.Context, op *domain.PendingOperation, syncErr *domain.SyncError) (*Resolution, error) {
	if syncErr.Kind != domain.ErrorKindConflict {
		return nil, apperrors.New("reconciler invoked for a non-conflict error")
	}

	server, err := r.serverState(ctx, op, syncErr)
	if err != nil {
		return nil, err
	}
	if server == nil {
		return &Resolution{Outcome: OutcomeNeedsManualResolution}, nil
	}

	fn, ok := r.funcs[op.EntityType]
	if !ok {
		return &Resolution{Outcome: OutcomeNeedsManualResolution}, nil
	}
	return fn(op, server)
}

// serverState assembles the authoritative view for a rebase. A failed
// fetch is not fatal: the conflict error's server version alone still
// allows a version-only rebase. Returns nil when no version is known from
// either source.
func (r *Reconciler) serverState(ctx context.Context, op *domain.PendingOperation, syncErr *domain.SyncError) (*ServerState, error) {
	state := &ServerState{}

	if r.fetcher != nil {
		if data, fetchErr := r.fetcher.FetchEntity(ctx, op); fetchErr == nil {
			state.Payload = data
		}
	}

	switch {
	case syncErr.ServerVersion != nil:
		state.Version = *syncErr.ServerVersion
	case state.Payload != nil:
		var versioned struct {
			Version *int64 `json:"version"`
		}
		if err := json.Unmarshal(state.Payload, &versioned); err != nil || versioned.Version == nil {
			return nil, nil
		}
		state.Version = *versioned.Version
	default:
		return nil, nil
	}

	if r.bases != nil && op.TxnToken != nil {
		record, err := r.bases.Get(ctx, *op.TxnToken)
		switch {
		case err == nil:
			state.Base = record.PreviousValue
		case apperrors.Is(err, domain.ErrOptimisticNotFound):
			// No record, no base; field comparison is skipped.
		default:
			return nil, err
		}
	}
	return state, nil
}

// rebaseDevice re-applies the desired device state on top of the server's
// version. Device state is last-writer-wins by intent: the user's latest
// toggle is what they want regardless of what raced it. A create conflict
// means the device already exists, so the queued snapshot is superseded.
func rebaseDevice(op *domain.PendingOperation, server *ServerState) (*Resolution, error) {
	if op.Action == domain.ActionCreate {
		return &Resolution{Outcome: OutcomeSuperseded}, nil
	}

	payload, err := domain.DecodeDevicePayload(op.Payload)
	if err != nil {
		return nil, err
	}
	payload.Version = server.Version

	rebased, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode rebased device payload")
	}
	return &Resolution{Outcome: OutcomeRebased, Payload: rebased}, nil
}

// rebaseProfile carries the queued field-level edits forward onto the
// server version. When both the server state and the local base are known,
// a field the local edit sets that the server moved off that base is a
// real collision and goes to the user; edits to untouched fields rebase
// cleanly.
func rebaseProfile(op *domain.PendingOperation, server *ServerState) (*Resolution, error) {
	if op.Action == domain.ActionCreate {
		return &Resolution{Outcome: OutcomeSuperseded}, nil
	}

	payload, err := domain.DecodeProfilePayload(op.Payload)
	if err != nil {
		return nil, err
	}

	if len(server.Payload) > 0 && len(server.Base) > 0 {
		remote, err := domain.DecodeProfilePayload(server.Payload)
		if err != nil {
			return &Resolution{Outcome: OutcomeNeedsManualResolution}, nil
		}
		base, err := domain.DecodeProfilePayload(server.Base)
		if err != nil {
			return &Resolution{Outcome: OutcomeNeedsManualResolution}, nil
		}
		if profileFieldsCollide(payload, base, remote) {
			return &Resolution{Outcome: OutcomeNeedsManualResolution}, nil
		}
	}

	payload.Version = server.Version
	rebased, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode rebased profile payload")
	}
	return &Resolution{Outcome: OutcomeRebased, Payload: rebased}, nil
}

// profileFieldsCollide reports whether the server changed any field the
// local edit also sets, relative to the base the edit was derived from.
func profileFieldsCollide(edit, base, remote *domain.ProfilePayload) bool {
	if edit.DisplayName != nil && !ptrEqual(base.DisplayName, remote.DisplayName) {
		return true
	}
	if edit.HeightCm != nil && !ptrEqual(base.HeightCm, remote.HeightCm) {
		return true
	}
	if edit.WeightKg != nil && !ptrEqual(base.WeightKg, remote.WeightKg) {
		return true
	}
	if edit.BirthDate != nil && !ptrEqual(base.BirthDate, remote.BirthDate) {
		return true
	}
	return false
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// rebaseReading handles conflicts on immutable readings. A create conflict
// means the reading was already recorded, so the queued copy is
// superseded; anything else on an immutable record needs a human.
func rebaseReading(op *domain.PendingOperation, _ *ServerState) (*Resolution, error) {
	if op.Action == domain.ActionCreate {
		return &Resolution{Outcome: OutcomeSuperseded}, nil
	}
	return &Resolution{Outcome: OutcomeNeedsManualResolution}, nil
}
