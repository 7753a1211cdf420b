package app

import (
	"fmt"
	"net/http"
)

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

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func invalid(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

var (
	errUnauthenticated  = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errAccountBanned    = domainError(http.StatusForbidden, "ACCOUNT_BANNED", "Account is banned", nil)
	errAuthUnavailable  = domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
	errUploadsDisabled  = domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Image uploads are not configured", nil)
	errBadCredentials   = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	errChatWithYourself = invalid("cannot start a chat with yourself", nil)
)
