package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/3leaps/batchlens/pkg/store"
	"github.com/3leaps/batchlens/pkg/tracker"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", fmt.Errorf("create: %w", &tracker.ValidationError{Field: "num_chunks", Message: "must be >= 1"}), http.StatusBadRequest, CodeValidation},
		{"duplicate", &tracker.ValidationError{Field: "job_id", Message: "exists", Err: store.ErrDuplicateJob}, http.StatusBadRequest, CodeValidation},
		{"read only", fmt.Errorf("submit: %w", store.ErrReadOnly), http.StatusForbidden, CodeReadOnly},
		{"unavailable", store.Unavailable("list workunits", assert.AnError), http.StatusServiceUnavailable, CodeUnavailable},
		{"http error passthrough", NotFound("job not found"), http.StatusNotFound, CodeNotFound},
		{"unknown", assert.AnError, http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestFromError_ValidationCarriesField(t *testing.T) {
	got := FromError(&tracker.ValidationError{Field: "input_uri", Message: "is required"})
	assert.Equal(t, "input_uri", got.Details["field"])
	assert.Contains(t, got.Message, "input_uri")
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req-1")

	RespondWithError(rec, req, store.Unavailable("ping", assert.AnError))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeUnavailable, body.Error.Code)
	assert.Equal(t, "req-1", body.Error.RequestID)
	assert.NotContains(t, body.Error.Message, assert.AnError.Error())
}

func TestRespondWithError_EnvelopeFields(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(t.Context(), "get job")
	defer span.End()

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", nil).WithContext(ctx)
	req.Header.Set(RequestIDHeader, "req-2")
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &tracker.ValidationError{Field: "num_chunks", Message: "must be >= 1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeValidation, body.Error.Code)
	assert.Equal(t, "req-2", body.Error.RequestID)
	assert.Equal(t, "num_chunks", body.Error.Details["field"])
	assert.Equal(t, span.SpanContext().TraceID().String(), body.Error.TraceID)
	assert.NotEmpty(t, body.Error.Timestamp)
}

func TestBodyFrom_MergesContextIntoDetails(t *testing.T) {
	envelope := NotFound("job not found").Envelope("req-3").
		WithDetails(map[string]any{"job_id": "a"})
	envelope, err := envelope.WithContext(map[string]any{"backend": "memory"})
	require.NoError(t, err)

	body := BodyFrom(envelope)
	assert.Equal(t, CodeNotFound, body.Code)
	assert.Equal(t, "req-3", body.RequestID)
	assert.Equal(t, map[string]any{"job_id": "a", "backend": "memory"}, body.Details)
}
