package app

import "fmt"

// DomainError is a workflow failure with an HTTP mapping. Status and
// Code surface in the response envelope; Details, when set, carries
// structured context such as the from/to pair of a rejected review
// transition.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
