package device

import (
	"fmt"

	"github.com/nerrad567/balancer-core/internal/validation"
)

// ValidateRequest checks a create or update request.
// Failures match both ErrInvalidDevice and *validation.Error.
func ValidateRequest(r *Request) error {
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	return nil
}

// ValidateSettings checks a settings update.
func ValidateSettings(r *SettingsRequest) error {
	if err := validation.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	return nil
}
