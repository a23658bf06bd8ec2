package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrUnsupportedFile    = errors.New("unsupported file type")
	ErrForbiddenFile      = errors.New("dangerous file type")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrJobNotFound        = errors.New("job not found")
	ErrRecordNotFound     = errors.New("record not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrUndeterminedType   = errors.New("could not determine document type")
	ErrNoValidAttachments = errors.New("no valid attachments found")
	ErrTemporary          = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
