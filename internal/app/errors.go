package app

import "fmt"

// DomainError is a failure the client caused or must act on. The HTTP
// layer maps it directly onto the {ok:false, error, code} envelope;
// Status is the response status and Details, when set, is echoed to the
// client verbatim.
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

// domainError builds a DomainError. Errors that are not DomainErrors
// fall through mapError as generic 500s, so handlers wrap anything the
// client should see.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
