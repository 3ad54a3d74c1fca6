package errors

import (
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: http.StatusOK},
		{name: "validation", err: ValidationError("tenantId is required").Build(), expected: http.StatusBadRequest},
		{name: "not found", err: NotFoundError("job not found").Build(), expected: http.StatusNotFound},
		{name: "conflict", err: ConflictError("job already terminal").Build(), expected: http.StatusConflict},
		{name: "template", err: TemplateValidationError("missing placeholder").Build(), expected: http.StatusUnprocessableEntity},
		{name: "circuit open", err: CircuitOpenError("tenant-store open").Build(), expected: http.StatusServiceUnavailable},
		{name: "quota", err: QuotaError("queue full").Build(), expected: http.StatusTooManyRequests},
		{name: "timeout", err: TimeoutError("job timed out").Build(), expected: http.StatusGatewayTimeout},
		{name: "unclassified", err: stdErrors.New("unknown"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.StatusCodeFor(tt.err); got != tt.expected {
				t.Errorf("StatusCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())
	req := httptest.NewRequest(http.MethodGet, "/generation-status/x", nil)
	rec := httptest.NewRecorder()

	adapter.WriteErrorResponse(rec, req, NotFoundError("job not found").WithContext("job_id", "x").Build())

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	var body HTTPErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Kind != "NotFoundError" || body.Code != string(CategoryNotFound) {
		t.Errorf("unexpected body %+v", body)
	}
	if body.Details["job_id"] != "x" {
		t.Errorf("expected job_id detail, got %v", body.Details)
	}
}

func TestHTTPErrorAdapter_CircuitOpenSetsRetryAfter(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	req := httptest.NewRequest(http.MethodPost, "/generate-store", nil)
	rec := httptest.NewRecorder()

	adapter.WriteErrorResponse(rec, req, CircuitOpenError("tenant-store open").Build())

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
