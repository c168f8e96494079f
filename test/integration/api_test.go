// Package integration provides end-to-end tests for the local sync status
// API, exercising the full stack from the HTTP layer through the use cases
// down to the SQLite stores.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhome/syncengine/internal/app"
	"github.com/vitalhome/syncengine/internal/config"
	"github.com/vitalhome/syncengine/internal/testutil"
)

// testContext holds the assembled application and its test server.
type testContext struct {
	container *app.Container
	server    *httptest.Server
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		DBPath:                filepath.Join(t.TempDir(), "syncengine.db"),
		DBBusyTimeout:         5 * time.Second,
		LogLevel:              "error",
		APIBaseURL:            "http://localhost:8080",
		APIRequestTimeout:     15 * time.Second,
		BackoffBase:           time.Second,
		BackoffMax:            30 * time.Second,
		MaxAttempts:           5,
		BreakerThreshold:      10,
		BreakerWindow:         5 * time.Second,
		BreakerCooldown:       2 * time.Second,
		LockStaleness:         30 * time.Second,
		LockHeartbeatInterval: 10 * time.Second,
		IdempotencyTTL:        24 * time.Hour,
		SyncInterval:          30 * time.Second,
		DispatchRatePerSec:    10.0,
		DispatchBurst:         5,
		StatusHost:            "127.0.0.1",
		StatusPort:            8099,
	}

	container := app.NewContainer(cfg)
	t.Cleanup(func() {
		require.NoError(t, container.Shutdown(context.Background()))
	})

	db, err := container.DB()
	require.NoError(t, err)
	testutil.MigrateSQLiteDB(t, db)

	server, err := container.HTTPServer()
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testContext{container: container, server: ts}
}

// makeRequest performs an HTTP request and returns the response and body.
func (tc *testContext) makeRequest(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, tc.server.URL+path, bodyReader)
	require.NoError(t, err, "failed to create request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err, "failed to perform request")

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	require.NoError(t, resp.Body.Close())

	return resp, respBody
}

func devicePayload(deviceID string, level int) map[string]any {
	return map[string]any{
		"device_id":  deviceID,
		"power":      true,
		"level":      level,
		"version":    1,
		"changed_at": "2026-08-30T10:00:00.000Z",
	}
}

func TestHealthAndReadiness(t *testing.T) {
	tc := newTestContext(t)

	resp, body := tc.makeRequest(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	resp, body = tc.makeRequest(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ready")
}

func TestEnqueueAndInspectQueue(t *testing.T) {
	tc := newTestContext(t)

	enqueueBody := map[string]any{
		"action":      "update",
		"entity_type": "device",
		"entity_id":   "device-1",
		"payload":     devicePayload("device-1", 60),
	}

	resp, body := tc.makeRequest(t, http.MethodPost, "/v1/sync/operations", enqueueBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "unexpected response: %s", body)

	var created struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "pending", created.Status)
	_, err := uuid.Parse(created.ID)
	assert.NoError(t, err)
	_, err = uuid.Parse(created.IdempotencyKey)
	assert.NoError(t, err)

	// The queue now reports one pending operation.
	resp, body = tc.makeRequest(t, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		PendingCount    int64 `json:"pending_count"`
		OptimisticCount int64 `json:"optimistic_count"`
		NeedsAttention  bool  `json:"needs_attention"`
		Online          bool  `json:"online"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, int64(1), status.PendingCount)
	assert.Equal(t, int64(1), status.OptimisticCount)
	assert.False(t, status.NeedsAttention)
	assert.True(t, status.Online)

	// The pending listing includes the enqueued operation.
	resp, body = tc.makeRequest(t, http.MethodGet, "/v1/sync/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending struct {
		Operations []struct {
			ID         string `json:"id"`
			EntityType string `json:"entity_type"`
			EntityID   string `json:"entity_id"`
		} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending.Operations, 1)
	assert.Equal(t, created.ID, pending.Operations[0].ID)
	assert.Equal(t, "device", pending.Operations[0].EntityType)

	// The optimistic record for the entity is visible.
	resp, body = tc.makeRequest(t, http.MethodGet, "/v1/sync/optimistic/device/device-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var optimistic struct {
		Records []struct {
			EntityID string `json:"entity_id"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body, &optimistic))
	require.Len(t, optimistic.Records, 1)
	assert.Equal(t, "device-1", optimistic.Records[0].EntityID)
}

func TestEnqueueFIFOPerEntity(t *testing.T) {
	tc := newTestContext(t)

	for i := 0; i < 3; i++ {
		body := map[string]any{
			"action":      "update",
			"entity_type": "device",
			"entity_id":   "device-1",
			"payload":     devicePayload("device-1", 10*i),
		}
		resp, respBody := tc.makeRequest(t, http.MethodPost, "/v1/sync/operations", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "unexpected response: %s", respBody)
	}

	resp, body := tc.makeRequest(t, http.MethodGet, "/v1/sync/pending?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending struct {
		Operations []struct {
			CreatedAt time.Time `json:"created_at"`
		} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending.Operations, 3)
	for i := 1; i < len(pending.Operations); i++ {
		assert.False(t, pending.Operations[i].CreatedAt.Before(pending.Operations[i-1].CreatedAt),
			"pending listing must be oldest first")
	}
}

func TestEnqueueValidation(t *testing.T) {
	tc := newTestContext(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "unknown action",
			body: map[string]any{
				"action":      "merge",
				"entity_type": "device",
				"entity_id":   "device-1",
				"payload":     devicePayload("device-1", 10),
			},
		},
		{
			name: "unknown entity type",
			body: map[string]any{
				"action":      "update",
				"entity_type": "thermostat",
				"entity_id":   "device-1",
				"payload":     devicePayload("device-1", 10),
			},
		},
		{
			name: "missing entity id",
			body: map[string]any{
				"action":      "update",
				"entity_type": "device",
				"payload":     devicePayload("device-1", 10),
			},
		},
		{
			name: "missing payload",
			body: map[string]any{
				"action":      "update",
				"entity_type": "device",
				"entity_id":   "device-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := tc.makeRequest(t, http.MethodPost, "/v1/sync/operations", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		})
	}

	// Nothing landed in the queue.
	resp, body := tc.makeRequest(t, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		PendingCount int64 `json:"pending_count"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Zero(t, status.PendingCount)
}

func TestRetryFailedUnknownOperation(t *testing.T) {
	tc := newTestContext(t)

	path := fmt.Sprintf("/v1/sync/failed/%s/retry", uuid.New())
	resp, _ := tc.makeRequest(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = tc.makeRequest(t, http.MethodPost, "/v1/sync/failed/not-a-uuid/retry", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestTriggerAndConnectivity(t *testing.T) {
	tc := newTestContext(t)

	resp, body := tc.makeRequest(t, http.MethodPost, "/v1/sync/trigger", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, string(body), "triggered")

	resp, body = tc.makeRequest(t, http.MethodPost, "/v1/sync/connectivity", map[string]any{"online": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"online":false`)

	// Status reflects the connectivity change.
	resp, body = tc.makeRequest(t, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Online bool `json:"online"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.Online)
}

func TestFailedListingEmpty(t *testing.T) {
	tc := newTestContext(t)

	resp, body := tc.makeRequest(t, http.MethodGet, "/v1/sync/failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var failed struct {
		Operations []json.RawMessage `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(body, &failed))
	assert.Empty(t, failed.Operations)
}
