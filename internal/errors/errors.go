// Package errors maps domain errors onto the HTTP error envelope.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/3leaps/batchlens/pkg/store"
	"github.com/3leaps/batchlens/pkg/tracker"
)

// Error codes used in HTTP error envelopes.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidation       = "VALIDATION_ERROR"
	CodeReadOnly         = "READ_ONLY"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// ErrorBody is the wire form of a gofulmen error envelope. Envelope context
// and details are merged into Details; the correlation id is the request id.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// HTTPErrorResponse is the JSON body of every non-2xx API response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPError is an error that already knows its status and code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Envelope builds the error envelope for e, correlated with requestID.
func (e *HTTPError) Envelope(requestID string) *gferrors.ErrorEnvelope {
	envelope := gferrors.NewErrorEnvelope(e.Code, e.Message).WithCorrelationID(requestID)
	if len(e.Details) > 0 {
		envelope = envelope.WithDetails(e.Details)
	}
	return envelope
}

// New creates an HTTPError.
func New(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

func NotFound(message string) *HTTPError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func BadRequest(message string, err error) *HTTPError {
	e := New(http.StatusBadRequest, CodeBadRequest, message)
	e.Err = err
	return e
}

// FromError classifies err into an HTTPError. Unknown errors become a 500
// whose message does not leak the underlying error text.
func FromError(err error) *HTTPError {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr
	}

	var verr *tracker.ValidationError
	switch {
	case stderrors.As(err, &verr):
		return &HTTPError{
			Status:  http.StatusBadRequest,
			Code:    CodeValidation,
			Message: verr.Error(),
			Details: map[string]any{"field": verr.Field},
			Err:     err,
		}
	case stderrors.Is(err, store.ErrReadOnly):
		return &HTTPError{
			Status:  http.StatusForbidden,
			Code:    CodeReadOnly,
			Message: "job submission is not supported by the configured backend",
			Err:     err,
		}
	case stderrors.Is(err, store.ErrUnavailable):
		return &HTTPError{
			Status:  http.StatusServiceUnavailable,
			Code:    CodeUnavailable,
			Message: "execution record store is unavailable",
			Err:     err,
		}
	case stderrors.Is(err, context.DeadlineExceeded):
		return &HTTPError{
			Status:  http.StatusGatewayTimeout,
			Code:    CodeTimeout,
			Message: "request timed out",
			Err:     err,
		}
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// RespondWithError writes the envelope for err. The request id is taken from
// the response header set by the request id middleware, the trace id from
// the active span.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := FromError(err)
	envelope := httpErr.Envelope(requestID(w, r))
	if r != nil {
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			envelope = envelope.WithTraceID(sc.TraceID().String())
		}
	}
	WriteEnvelope(w, httpErr.Status, envelope)
}

// WriteEnvelope writes envelope with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, envelope *gferrors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: BodyFrom(envelope)})
}

// BodyFrom flattens envelope into its wire form.
func BodyFrom(envelope *gferrors.ErrorEnvelope) ErrorBody {
	if envelope == nil {
		return ErrorBody{Code: CodeInternal, Message: "internal server error"}
	}
	var details map[string]any
	if n := len(envelope.Details) + len(envelope.Context); n > 0 {
		details = make(map[string]any, n)
		for k, v := range envelope.Details {
			details[k] = v
		}
		for k, v := range envelope.Context {
			details[k] = v
		}
	}
	return ErrorBody{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   details,
		RequestID: envelope.CorrelationID,
		TraceID:   envelope.TraceID,
		Timestamp: envelope.Timestamp,
	}
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := w.Header().Get(RequestIDHeader); id != "" {
		return id
	}
	if r != nil {
		return r.Header.Get(RequestIDHeader)
	}
	return ""
}
