package http

import (
	"errors"
	"net/http"

	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// Error codes returned in API error responses
const (
	CodeNotAuthorized          = "NOT_AUTHORIZED"
	CodeInstanceTerminal       = "INSTANCE_TERMINAL"
	CodeNoCurrentNode          = "NO_CURRENT_NODE"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeGraphInvalid           = "GRAPH_INVALID"
	CodeStepFailed             = "STEP_FAILED"
	CodeInstanceNotFound       = "INSTANCE_NOT_FOUND"
	CodeDefinitionNotFound     = "DEFINITION_NOT_FOUND"
	CodePaymentRequestNotFound = "PAYMENT_REQUEST_NOT_FOUND"
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeRateLimited            = "RATE_LIMITED"
	CodeInternal               = "INTERNAL"
)

// apiError is the HTTP rendering of a domain error
type apiError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

var errorTable = []struct {
	target error
	apiError
}{
	{workflow.ErrNotAuthorized, apiError{http.StatusForbidden, CodeNotAuthorized, "actor is not authorized for this step", false}},
	{workflow.ErrInstanceTerminal, apiError{http.StatusConflict, CodeInstanceTerminal, "workflow has already finished", false}},
	{workflow.ErrNoCurrentNode, apiError{http.StatusConflict, CodeNoCurrentNode, "workflow is not waiting for a decision", false}},
	{workflow.ErrConcurrentModification, apiError{http.StatusConflict, CodeConcurrentModification, "workflow was modified concurrently, reload and retry", true}},
	{workflow.ErrGraphInvalid, apiError{http.StatusUnprocessableEntity, CodeGraphInvalid, "workflow definition is invalid", false}},
	{workflow.ErrStepFailed, apiError{http.StatusUnprocessableEntity, CodeStepFailed, "workflow step failed", false}},
	{workflow.ErrInstanceNotFound, apiError{http.StatusNotFound, CodeInstanceNotFound, "workflow instance not found", false}},
	{workflow.ErrDefinitionNotFound, apiError{http.StatusNotFound, CodeDefinitionNotFound, "workflow definition not found", false}},
	{workflow.ErrPaymentRequestNotFound, apiError{http.StatusNotFound, CodePaymentRequestNotFound, "payment request not found", false}},
	{workflow.ErrUserNotFound, apiError{http.StatusNotFound, CodeUserNotFound, "user not found", false}},
	{service.ErrValidationFailed, apiError{http.StatusBadRequest, CodeValidationFailed, "", false}},
}

// mapError translates err into an API error. Validation errors keep their
// message so clients can fix the input; everything else uses the fixed
// table message, and anything unknown is a generic internal error.
func mapError(err error) apiError {
	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			mapped := entry.apiError
			if mapped.Code == CodeValidationFailed {
				mapped.Message = err.Error()
			}
			return mapped
		}
	}
	return apiError{http.StatusInternalServerError, CodeInternal, "internal server error", false}
}

// mapAuthoringError is mapError for definition registration, where graph
// errors describe the submitted document and are returned verbatim.
func mapAuthoringError(err error) apiError {
	mapped := mapError(err)
	if mapped.Code == CodeGraphInvalid {
		mapped.Message = err.Error()
	}
	return mapped
}
