package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/habitsync/internal/serverstore"
	"github.com/hyperengineering/habitsync/internal/snapshot"
	"github.com/hyperengineering/habitsync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest:            {"https://habitsync.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:          {"https://habitsync.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:              {"https://habitsync.dev/errors/not-found", "Not Found"},
	http.StatusRequestEntityTooLarge: {"https://habitsync.dev/errors/payload-too-large", "Payload Too Large"},
	http.StatusUnprocessableEntity:   {"https://habitsync.dev/errors/validation-error", "Validation Error"},
	http.StatusInternalServerError:   {"https://habitsync.dev/errors/internal-error", "Internal Server Error"},
	http.StatusServiceUnavailable:    {"https://habitsync.dev/errors/service-unavailable", "Service Unavailable"},
}

func lookupProblemType(status int) problemType {
	if pt, ok := problemTypes[status]; ok {
		return pt
	}
	return problemType{typeURI: "https://habitsync.dev/errors/unknown", title: http.StatusText(status)}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt := lookupProblemType(status)
	writeProblemBody(w, status, Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field
// errors. The detail names the first failing field so clients that only
// read detail still see something actionable.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, errs []validation.ValidationError) {
	pt := lookupProblemType(http.StatusUnprocessableEntity)
	detail := "Request contains invalid fields"
	if len(errs) > 0 {
		detail = errs[0].Field + ": " + errs[0].Message
	}
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	})
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapStoreError converts domain errors to Problem Details responses.
func MapStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, serverstore.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, snapshot.ErrNotConfigured):
		WriteProblem(w, r, http.StatusNotFound, "Snapshot storage not configured")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Request cancelled")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
