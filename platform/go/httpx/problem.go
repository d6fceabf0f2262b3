// Package httpx holds the request and response plumbing shared by the domain handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Problem type URLs used in RFC 7807 responses.
const (
	ProblemTypeValidation    = "https://palmyra.pro/problems/validation-error"
	ProblemTypeUnauthorized  = "https://palmyra.pro/problems/unauthorized"
	ProblemTypeForbidden     = "https://palmyra.pro/problems/forbidden"
	ProblemTypeNotFound      = "https://palmyra.pro/problems/not-found"
	ProblemTypeConflict      = "https://palmyra.pro/problems/conflict"
	ProblemTypeUnprocessable = "https://palmyra.pro/problems/unprocessable"
	ProblemTypeBadGateway    = "https://palmyra.pro/problems/bad-gateway"
	ProblemTypeInternal      = "https://palmyra.pro/problems/internal-error"
)

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func NewProblem(title, detail, problemType string, status int, errs map[string][]string) Problem {
	return Problem{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: errs,
	}
}

// ValidationProblem is the 400 answer for a rejected payload.
func ValidationProblem(detail string, errs map[string][]string) Problem {
	return NewProblem("Invalid request", detail, ProblemTypeValidation, http.StatusBadRequest, errs)
}

// InternalProblem hides the cause; callers log it.
func InternalProblem() Problem {
	return NewProblem("Internal error", "internal error", ProblemTypeInternal, http.StatusInternalServerError, nil)
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the {"error": msg} body used on vendor-facing routes.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// Page is the envelope of paginated list responses.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// TotalPages rounds up; zero items is zero pages.
func TotalPages(totalItems, pageSize int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}
	return (totalItems + pageSize - 1) / pageSize
}
