package auth

import (
	"net/mail"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
)

// MinPasswordLength mirrors the backend's registration rule so obviously bad
// input is rejected without a round-trip.
const MinPasswordLength = 6

// Validator checks user input before it is sent to the backend. Every failure
// unwraps to autherrors.ErrValidation.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCredentials validates sign-in input
func (v *Validator) ValidateCredentials(email, password string) error {
	if err := v.ValidateEmail(email); err != nil {
		return err
	}
	if password == "" {
		return errors.Wrap(autherrors.ErrValidation, "password is required")
	}
	return nil
}

// ValidateRegistration validates sign-up input
func (v *Validator) ValidateRegistration(req oauthmodel.RegisterRequest) error {
	if strings.TrimSpace(req.FullName) == "" {
		return errors.Wrap(autherrors.ErrValidation, "full name is required")
	}
	if err := v.ValidateEmail(req.Email); err != nil {
		return err
	}
	if len(req.Password) < MinPasswordLength {
		return errors.Wrapf(autherrors.ErrValidation, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// ValidateEmail checks for a bare address; display names are rejected.
func (v *Validator) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.Wrap(autherrors.ErrValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.Wrapf(autherrors.ErrValidation, "invalid email %q", email)
	}
	return nil
}
