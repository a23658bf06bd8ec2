package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixJob     = "J"
	PrefixOrder   = "O"
	PrefixInvoice = "I"
)

// NewID builds a prefixed, time-ordered opaque identifier such as
// "J0192F4C6A1B27C3D8E9F0A1B2C3D4E5F".
func NewID(prefix string) (string, error) {
	if len(prefix) != 1 || prefix[0] < 'A' || prefix[0] > 'Z' {
		return "", WrapError(ErrInvalidInput, "new id", fmt.Errorf("prefix must be a single uppercase letter, got %q", prefix))
	}
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return prefix + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")), nil
}
