package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/eigenface"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "bad input")

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", recorder.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "bad input" {
		t.Errorf("expected error 'bad input', got '%s'", result["error"])
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"run not found", fmt.Errorf("run x: %w", database.ErrRunNotFound), http.StatusNotFound},
		{"dimension mismatch", &eigenface.StageError{Stage: eigenface.StageNormalize, Err: eigenface.ErrDimensionMismatch}, http.StatusBadRequest},
		{"empty input", eigenface.ErrEmptyInput, http.StatusBadRequest},
		{"length mismatch", facematch.ErrLengthMismatch, http.StatusBadRequest},
		{"singular", fmt.Errorf("solve: %w", eigenface.ErrSingularSystem), http.StatusUnprocessableEntity},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForError(tc.err); got != tc.expected {
				t.Errorf("expected status %d, got %d", tc.expected, got)
			}
		})
	}
}

func TestParseRunID(t *testing.T) {
	id := uuid.New()
	got, err := parseRunID(id.String())
	if err != nil || got != id {
		t.Errorf("expected %s, got %s (%v)", id, got, err)
	}
	if _, err := parseRunID("42"); err == nil {
		t.Error("expected error for malformed id")
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("abc\r\ninjected"); got != "abcinjected" {
		t.Errorf("expected newlines removed, got %q", got)
	}
}
