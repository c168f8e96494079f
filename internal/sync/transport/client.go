package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitalhome/syncengine/internal/auth"
	"github.com/vitalhome/syncengine/internal/sync/domain"
)

// Dispatcher sends routed operations to the backend. It owns the envelope
// encoding, authentication headers, idempotency key attachment, outbound
// pacing, and the single refresh-and-retry after an Unauthorized response.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenProvider
	limiter    *rate.Limiter
	clock      func() time.Time
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. limiter may be nil to disable pacing;
// clock may be nil to use time.Now.
func NewDispatcher(
	baseURL string,
	httpClient *http.Client,
	tokens auth.TokenProvider,
	limiter *rate.Limiter,
	clock func() time.Time,
	logger *slog.Logger,
) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Dispatcher{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    limiter,
		clock:      clock,
		logger:     logger,
	}
}

// Dispatch routes and sends one operation, returning the response data on
// success or a classified sync error on failure. The operation's
// idempotency key rides on every attempt so the server can deduplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, op *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
	def, err := Route(op.Action, op.EntityType)
	if err != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindRouting, Message: err.Error()}
	}

	req, err := BuildRequest(def, op.Payload)
	if err != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindRouting, Message: err.Error()}
	}

	idempotencyKey := ""
	if def.RequiresIdempotency {
		idempotencyKey = op.IdempotencyKey.String()
	}

	meta := NewMeta(op.TraceID, op.TxnToken, d.clock())
	return d.send(ctx, req, meta, idempotencyKey, op)
}

// FetchEntity retrieves the authoritative server state for an operation's
// entity, used by the reconciler after a conflict.
func (d *Dispatcher) FetchEntity(ctx context.Context, op *domain.PendingOperation) (json.RawMessage, *domain.SyncError) {
	def, err := FetchRoute(op.EntityType)
	if err != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindRouting, Message: err.Error()}
	}

	req, err := BuildRequest(def, op.Payload)
	if err != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindRouting, Message: err.Error()}
	}

	meta := NewMeta(op.TraceID, nil, d.clock())
	return d.send(ctx, req, meta, "", op)
}

func (d *Dispatcher) send(
	ctx context.Context,
	req *Request,
	meta Meta,
	idempotencyKey string,
	op *domain.PendingOperation,
) (json.RawMessage, *domain.SyncError) {
	data, syncErr := d.sendOnce(ctx, req, meta, idempotencyKey)
	if syncErr != nil && syncErr.Kind == domain.ErrorKindUnauthorized {
		// One immediate token-refresh-and-retry; a second Unauthorized is
		// treated as permanent by the engine.
		if refreshErr := d.tokens.TryRefresh(ctx); refreshErr != nil {
			if d.logger != nil {
				d.logger.Warn("token refresh failed",
					slog.String("trace_id", op.TraceID.String()),
					slog.String("operation_id", op.ID.String()),
				)
			}
			return nil, syncErr
		}
		data, syncErr = d.sendOnce(ctx, req, meta, idempotencyKey)
	}

	if d.logger != nil {
		if syncErr != nil {
			d.logger.Warn("dispatch failed",
				slog.String("trace_id", op.TraceID.String()),
				slog.String("operation_id", op.ID.String()),
				slog.String("error_kind", string(syncErr.Kind)),
				slog.Int("status", syncErr.Status),
			)
		} else {
			d.logger.Debug("dispatch succeeded",
				slog.String("trace_id", op.TraceID.String()),
				slog.String("operation_id", op.ID.String()),
			)
		}
	}

	return data, syncErr
}

func (d *Dispatcher) sendOnce(
	ctx context.Context,
	req *Request,
	meta Meta,
	idempotencyKey string,
) (json.RawMessage, *domain.SyncError) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, ClassifyTransportError(err)
		}
	}

	token, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindUnauthorized, Message: err.Error()}
	}

	var body io.Reader
	if req.Method != http.MethodGet {
		encoded, err := EncodeRequest(meta, req.Body)
		if err != nil {
			return nil, &domain.SyncError{Kind: domain.ErrorKindRouting, Message: err.Error()}
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, d.baseURL+req.Path, body)
	if err != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindRouting, Message: err.Error()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Classify(resp.StatusCode, respBody, resp.Header.Get("Retry-After"))
	}

	env, decodeErr := Decode(respBody)
	if decodeErr != nil {
		return nil, &domain.SyncError{Kind: domain.ErrorKindUnknown, Status: resp.StatusCode, Message: decodeErr.Error()}
	}
	return env.Data, nil
}
