// Package handler contains HTTP handlers for the Quill API.
//
// Handlers decode JSON requests, call the service layer, and map domain
// errors to HTTP responses through ErrorResponse. Every route under /api/
// except the plan catalog requires an authenticated user.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/DukeRupert/quill/internal/auth"
	"github.com/DukeRupert/quill/internal/domain"
)

// maxBodyBytes bounds JSON request bodies. Post bodies are the largest.
const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON request body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return domain.Invalid(op, "Request body is too large")
		case errors.Is(err, io.EOF):
			return domain.Invalid(op, "Request body is required")
		default:
			return domain.Invalid(op, "Request body is not valid JSON")
		}
	}
	return nil
}

// userID returns the authenticated user's ID or an unauthorized error.
func userID(r *http.Request, op string) (string, error) {
	id := auth.UserID(r.Context())
	if id == "" {
		return "", domain.Unauthorized(op, "")
	}
	return id, nil
}

// postID parses the {id} path value.
func postID(r *http.Request, op string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, domain.Invalid(op, "Post ID is not valid")
	}
	return id, nil
}
