package apierr

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/router"
	"github.com/mcoot/sideline/internal/services/backup"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/syncer"
	"github.com/mcoot/sideline/internal/txn"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeInvalidPayload         = "INVALID_PAYLOAD"
	CodeInvalidID              = "INVALID_ID"
	CodeInvalidCollection      = "INVALID_COLLECTION"
	CodeNotFound               = "NOT_FOUND"
	CodePlayerNotFound         = "PLAYER_NOT_FOUND"
	CodeSeasonNotFound         = "SEASON_NOT_FOUND"
	CodeTournamentNotFound     = "TOURNAMENT_NOT_FOUND"
	CodeGameNotFound           = "GAME_NOT_FOUND"
	CodeDeadLetterNotFound     = "DEAD_LETTER_NOT_FOUND"
	CodeTransactionNotFound    = "TRANSACTION_NOT_FOUND"
	CodeUnknownProvider        = "UNKNOWN_PROVIDER"
	CodeMissingUserID          = "MISSING_USER_ID"
	CodeUnsupportedVersion     = "UNSUPPORTED_VERSION"
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeOffline                = "OFFLINE"
	CodeConflict               = "CONFLICT"
	CodeRemoteUnavailable      = "REMOTE_UNAVAILABLE"
	CodeRemoteRejected         = "REMOTE_REJECTED"
	CodeLocalStorage           = "LOCAL_STORAGE_ERROR"
	CodeTransactionFailed      = "TRANSACTION_FAILED"
	CodeInternalError          = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	// Sync taxonomy
	var stepErr *storage.TransactionStepError
	switch {
	case storage.IsLocal(err):
		return &httpError{http.StatusInternalServerError, APIError{CodeLocalStorage, err.Error()}}
	case storage.IsAuthRequired(err):
		return &httpError{http.StatusUnauthorized, APIError{CodeAuthenticationRequired, "Sign in to reach the remote store"}}
	case storage.IsPermanent(err):
		return &httpError{http.StatusBadGateway, APIError{CodeRemoteRejected, err.Error()}}
	case storage.IsTransient(err):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeRemoteUnavailable, err.Error()}}
	case errors.As(err, &stepErr):
		return &httpError{http.StatusInternalServerError, APIError{CodeTransactionFailed, err.Error()}}
	}
	if _, ok := storage.AsConflict(err); ok {
		return &httpError{http.StatusConflict, APIError{CodeConflict, err.Error()}}
	}

	// Map model errors
	switch {
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrSeasonNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeSeasonNotFound, "Season not found"}}
	case errors.Is(err, model.ErrTournamentNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeTournamentNotFound, "Tournament not found"}}
	case errors.Is(err, model.ErrGameNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeGameNotFound, "Saved game not found"}}
	case errors.Is(err, model.ErrRecordNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeNotFound, "Record not found"}}
	case errors.Is(err, model.ErrDeadLetterNotFound), errors.Is(err, model.ErrEntryNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeDeadLetterNotFound, "Dead letter not found"}}
	case errors.Is(err, model.ErrInvalidPayload):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidPayload, err.Error()}}
	case errors.Is(err, model.ErrInvalidID):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidID, err.Error()}}
	case errors.Is(err, model.ErrInvalidCollection):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidCollection, err.Error()}}

	// Map component errors
	case errors.Is(err, syncer.ErrOffline):
		return &httpError{http.StatusConflict, APIError{CodeOffline, "Device is offline"}}
	case errors.Is(err, router.ErrUnknownProvider):
		return &httpError{http.StatusBadRequest, APIError{CodeUnknownProvider, err.Error()}}
	case errors.Is(err, router.ErrMissingUserID):
		return &httpError{http.StatusBadRequest, APIError{CodeMissingUserID, "user_id is required when signing in"}}
	case errors.Is(err, backup.ErrUnsupportedVersion):
		return &httpError{http.StatusBadRequest, APIError{CodeUnsupportedVersion, err.Error()}}
	case errors.Is(err, txn.ErrTransactionNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeTransactionNotFound, "Transaction not found"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
