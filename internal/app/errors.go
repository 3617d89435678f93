package app

import "fmt"

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

func validationError(message string) *DomainError {
	return domainError(422, "VALIDATION_ERROR", message, nil)
}

func invalidTransition(from, to string) *DomainError {
	return domainError(409, "INVALID_TRANSITION",
		fmt.Sprintf("cannot transition from %s to %s", from, to),
		map[string]any{"from": from, "to": to})
}

func permissionDenied(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(403, "FORBIDDEN", message, nil)
}

func notFound(entity string) *DomainError {
	return domainError(404, "NOT_FOUND", entity+" not found", nil)
}

func dependencyFailure(message string) *DomainError {
	return domainError(502, "DEPENDENCY_FAILURE", message, nil)
}
