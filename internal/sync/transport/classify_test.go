package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalhome/syncengine/internal/sync/domain"
)

func errorEnvelope(code, message, details string) []byte {
	body := `{"meta":{"trace_id":"` + uuid.New().String() + `","timestamp":"2026-02-01T13:30:45.123Z"},` +
		`"error":{"code":"` + code + `","message":"` + message + `"`
	if details != "" {
		body += `,"details":` + details
	}
	return []byte(body + `}}`)
}

func TestClassify_StatusTable(t *testing.T) {
	tests := []struct {
		status    int
		kind      domain.ErrorKind
		retryable bool
	}{
		{400, domain.ErrorKindValidation, false},
		{401, domain.ErrorKindUnauthorized, false},
		{403, domain.ErrorKindPermissionDenied, false},
		{404, domain.ErrorKindNotFound, false},
		{409, domain.ErrorKindConflict, false},
		{412, domain.ErrorKindPreconditionFailed, false},
		{415, domain.ErrorKindUnsupportedMedia, false},
		{422, domain.ErrorKindValidation, false},
		{426, domain.ErrorKindClientVersionTooOld, false},
		{429, domain.ErrorKindRateLimited, true},
		{500, domain.ErrorKindServerError, true},
		{502, domain.ErrorKindServerError, true},
		{503, domain.ErrorKindServiceUnavailable, true},
		{504, domain.ErrorKindGatewayTimeout, true},
		{418, domain.ErrorKindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			syncErr := Classify(tt.status, nil, "")
			assert.Equal(t, tt.kind, syncErr.Kind)
			assert.Equal(t, tt.status, syncErr.Status)
			assert.Equal(t, tt.retryable, syncErr.Retryable())
		})
	}
}

func TestClassify_ErrorEnvelopeBody(t *testing.T) {
	body := errorEnvelope("device_offline", "device is unreachable", "")

	syncErr := Classify(500, body, "")
	assert.Equal(t, domain.ErrorKindServerError, syncErr.Kind)
	assert.Equal(t, "device_offline", syncErr.Code)
	assert.Equal(t, "device is unreachable", syncErr.Message)
}

func TestClassify_ConflictCarriesServerVersion(t *testing.T) {
	body := errorEnvelope("conflict", "version mismatch", `{"server_version":7}`)

	syncErr := Classify(409, body, "")
	assert.Equal(t, domain.ErrorKindConflict, syncErr.Kind)
	require.NotNil(t, syncErr.ServerVersion)
	assert.Equal(t, int64(7), *syncErr.ServerVersion)
}

func TestClassify_RetryAfter(t *testing.T) {
	t.Run("rate limited honors header", func(t *testing.T) {
		syncErr := Classify(429, nil, "120")
		require.NotNil(t, syncErr.RetryAfter)
		assert.Equal(t, 120*time.Second, *syncErr.RetryAfter)
	})

	t.Run("service unavailable honors header", func(t *testing.T) {
		syncErr := Classify(503, nil, "30")
		require.NotNil(t, syncErr.RetryAfter)
		assert.Equal(t, 30*time.Second, *syncErr.RetryAfter)
	})

	t.Run("invalid header ignored", func(t *testing.T) {
		syncErr := Classify(429, nil, "soon")
		assert.Nil(t, syncErr.RetryAfter)
	})

	t.Run("absent header ignored", func(t *testing.T) {
		syncErr := Classify(429, nil, "")
		assert.Nil(t, syncErr.RetryAfter)
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	t.Run("deadline exceeded is gateway timeout", func(t *testing.T) {
		syncErr := ClassifyTransportError(context.DeadlineExceeded)
		assert.Equal(t, domain.ErrorKindGatewayTimeout, syncErr.Kind)
		assert.True(t, syncErr.Retryable())
	})

	t.Run("net timeout is gateway timeout", func(t *testing.T) {
		syncErr := ClassifyTransportError(timeoutErr{})
		assert.Equal(t, domain.ErrorKindGatewayTimeout, syncErr.Kind)
	})

	t.Run("connection error is network", func(t *testing.T) {
		syncErr := ClassifyTransportError(errors.New("connection refused"))
		assert.Equal(t, domain.ErrorKindNetwork, syncErr.Kind)
		assert.True(t, syncErr.Retryable())
	})
}
