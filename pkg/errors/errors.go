package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// ValidationError rejects a malformed candidate at extraction time.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func NewValidationError(field, value, msg string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: msg}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).AddMetaValue("field", e.Field)
}

// OracleError is a failed semantic-arbitration call. Transient errors may be retried.
type OracleError struct {
	Transient  bool
	StatusCode int
	Message    string
	Err        error
}

func NewTransientOracleError(statusCode int, msg string, err error) *OracleError {
	return &OracleError{Transient: true, StatusCode: statusCode, Message: msg, Err: err}
}

func NewPermanentOracleError(statusCode int, msg string, err error) *OracleError {
	return &OracleError{Transient: false, StatusCode: statusCode, Message: msg, Err: err}
}

func (e *OracleError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("%s oracle error: %s", kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

func (e *OracleError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadGateway, e.Error()).AddMetaValue("transient", fmt.Sprintf("%t", e.Transient))
}

// ConflictError rejects an affiliation commit that would rewrite history backward.
type ConflictError struct {
	EntityID string
	ScopeID  string
	Message  string
}

func NewConflictError(entityID, scopeID, msg string) *ConflictError {
	return &ConflictError{EntityID: entityID, ScopeID: scopeID, Message: msg}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("affiliation conflict for entity %s in scope %s: %s", e.EntityID, e.ScopeID, e.Message)
}

func (e *ConflictError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).AddMetaValue("entity_id", e.EntityID).AddMetaValue("scope_id", e.ScopeID)
}

// StoreError is a persistence failure scoped to one operation.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to %s", e.Op))
}

// BatchError aborts a whole batch, as opposed to failures of single candidates.
type BatchError struct {
	Stage   string
	ScopeID string
	Err     error
}

func NewBatchError(stage, scopeID string, err error) *BatchError {
	return &BatchError{Stage: stage, ScopeID: scopeID, Err: err}
}

func (e *BatchError) Error() string {
	if e.ScopeID == "" {
		return fmt.Sprintf("%s batch aborted: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s batch aborted for scope %s: %v", e.Stage, e.ScopeID, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (e *BatchError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusServiceUnavailable, e.Error()).AddMetaValue("stage", e.Stage)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return stderrors.As(err, &target)
}

func IsOracleError(err error) bool {
	var target *OracleError
	return stderrors.As(err, &target)
}

// IsTransient reports whether err is an OracleError worth retrying.
func IsTransient(err error) bool {
	var target *OracleError
	return stderrors.As(err, &target) && target.Transient
}

func IsConflictError(err error) bool {
	var target *ConflictError
	return stderrors.As(err, &target)
}

func IsStoreError(err error) bool {
	var target *StoreError
	return stderrors.As(err, &target)
}

func IsBatchError(err error) bool {
	var target *BatchError
	return stderrors.As(err, &target)
}

type httpConvertible interface {
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError maps a domain error to an HTTP error for the API edge.
// Errors that are already HTTP errors, or unknown, pass through unchanged.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	var conv httpConvertible
	if stderrors.As(err, &conv) {
		return conv.ToHTTPError()
	}
	return err
}
