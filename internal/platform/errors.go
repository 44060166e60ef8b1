package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error at the point it originates, so callers never
// have to sniff messages for "401" or "auth".
type Kind string

const (
	KindAuth           Kind = "auth"
	KindTransient      Kind = "transient"
	KindValidation     Kind = "validation"
	KindInfrastructure Kind = "infrastructure"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func KindOf(err error) Kind {
	var platformErr *Error
	if errors.As(err, &platformErr) {
		return platformErr.Kind
	}
	return KindTransient
}

func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

func IsInfrastructure(err error) bool {
	return KindOf(err) == KindInfrastructure
}

// kindFromStatus maps an upstream HTTP status to an error kind. Credential
// rejections are terminal for the account; everything else is assumed
// retryable because rate limits and 5xx dominate in practice.
func kindFromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	default:
		return KindTransient
	}
}
