package errors

import "net/http"

// Error code constants.
// Errors contain code + message only; frontends can localize on the code.

// Master/sub-task error codes.
const (
	CodeMasterNotFound        = "MASTER_NOT_FOUND"
	CodeSubTaskNotFound       = "SUBTASK_NOT_FOUND"
	CodeMasterNotPausable     = "MASTER_NOT_PAUSABLE"
	CodeMasterNotResumable    = "MASTER_NOT_RESUMABLE"
	CodeMasterAlreadyTerminal = "MASTER_ALREADY_TERMINAL"
	CodeResultNotFound        = "RESULT_NOT_FOUND"
)

// Instance registry error codes.
const (
	CodeInstanceNotFound     = "INSTANCE_NOT_FOUND"
	CodeInstanceInUse        = "INSTANCE_IN_USE"
	CodeNoAvailableInstances = "NO_AVAILABLE_INSTANCES"
)

// Backend client error codes (spec §7: TransientBackend / PermanentBackend).
const (
	CodeBackendTransient      = "BACKEND_TRANSIENT_ERROR"
	CodeBackendPermanent      = "BACKEND_PERMANENT_ERROR"
	CodeBackendStillAnalyzing = "BACKEND_STILL_ANALYZING"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeEmptySampleSet      = "EMPTY_SAMPLE_SET"
)

// Convenience constructors using predefined codes.

// ErrMasterNotFoundf creates a master-task-not-found error.
func ErrMasterNotFoundf(masterID string) *AppError {
	return &AppError{
		Code:       CodeMasterNotFound,
		Message:    "master task not found: " + masterID,
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrSubTaskNotFoundf creates a sub-task-not-found error.
func ErrSubTaskNotFoundf(subTaskID string) *AppError {
	return &AppError{
		Code:       CodeSubTaskNotFound,
		Message:    "sub-task not found: " + subTaskID,
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrMasterNotPausablef creates a conflict error for a pause request on a
// master that is not in {Pending, Running}.
func ErrMasterNotPausablef(masterID string) *AppError {
	return &AppError{
		Code:       CodeMasterNotPausable,
		Message:    "master task is not pausable: " + masterID,
		HTTPStatus: http.StatusConflict,
	}
}

// ErrMasterNotResumablef creates a conflict error for a resume request on a
// master that is not Paused.
func ErrMasterNotResumablef(masterID string) *AppError {
	return &AppError{
		Code:       CodeMasterNotResumable,
		Message:    "master task is not resumable: " + masterID,
		HTTPStatus: http.StatusConflict,
	}
}

// ErrMasterAlreadyTerminalf creates a conflict error for a cancel request on
// a master already in {Completed, Failed, Cancelled}.
func ErrMasterAlreadyTerminalf(masterID string) *AppError {
	return &AppError{
		Code:       CodeMasterAlreadyTerminal,
		Message:    "master task is already in a terminal state: " + masterID,
		HTTPStatus: http.StatusConflict,
	}
}

// ErrInstanceInUsef creates a conflict error for deleting an instance that
// still has sub-task references.
func ErrInstanceInUsef(instanceID string) *AppError {
	return &AppError{
		Code:       CodeInstanceInUse,
		Message:    "instance is referenced by existing sub-tasks: " + instanceID,
		HTTPStatus: http.StatusConflict,
	}
}

// ErrNoAvailableInstancesf creates a 503 error when a family has no
// enabled+healthy/unknown instance to dispatch to.
func ErrNoAvailableInstancesf(family string) *AppError {
	return &AppError{
		Code:       CodeNoAvailableInstances,
		Message:    "no available backend instances for family: " + family,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// ErrInvalidRequestFieldf creates a bad request error naming the offending field.
func ErrInvalidRequestFieldf(fieldName string) *AppError {
	return &AppError{
		Code:       CodeInvalidRequestField,
		Message:    "request contains an invalid field: " + fieldName,
		HTTPStatus: http.StatusBadRequest,
	}
}
