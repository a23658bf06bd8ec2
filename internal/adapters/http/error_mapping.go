package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrUnknownProvider),
		domain.IsKind(err, domain.ErrUnsupportedFile),
		domain.IsKind(err, domain.ErrForbiddenFile):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrJobNotFound),
		domain.IsKind(err, domain.ErrRecordNotFound),
		domain.IsKind(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrUndeterminedType),
		domain.IsKind(err, domain.ErrNoValidAttachments):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
