package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error the API maps directly onto an HTTP response.
// Code is a stable machine-readable identifier such as "plan_not_found"
// or "validation_error"; Details carries optional structured context.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// notFound builds the 404 returned when a plan-scoped object does not
// exist or is not visible to the caller.
func notFound(code, message string) *DomainError {
	return domainError(http.StatusNotFound, code, message, nil)
}
