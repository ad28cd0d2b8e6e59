package auth

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"groupchat/errors"
)

var validate = validator.New()

// Credentials carries the username/password pair of a register or login
// command. Bounds mirror the wire record's field sizes.
type Credentials struct {
	Username string `validate:"required,min=3,max=32"`
	Password string `validate:"required,min=4,max=64"`
}

// GroupAccess carries the name/password pair of a create or enter command.
type GroupAccess struct {
	Name     string `validate:"required,min=3,max=32"`
	Password string `validate:"required,min=4,max=64"`
}

func ValidateCredentials(c Credentials) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: invalid username or password length", errors.ErrInvalidInput)
	}
	return nil
}

func ValidateGroupAccess(g GroupAccess) error {
	if err := validate.Struct(g); err != nil {
		return fmt.Errorf("%w: invalid group name or password length", errors.ErrInvalidInput)
	}
	return nil
}

// ValidateGroupName checks the name alone, for commands that carry no
// password (delete).
func ValidateGroupName(name string) error {
	if err := validate.Var(name, "required,min=3,max=32"); err != nil {
		return fmt.Errorf("%w: invalid group name length", errors.ErrInvalidInput)
	}
	return nil
}

// ValidateText bounds free-form chat text. maxLength comes from config.
func ValidateText(text string, maxLength int) error {
	if len(text) == 0 || len(text) > maxLength {
		return fmt.Errorf("%w: invalid message length", errors.ErrInvalidInput)
	}
	return nil
}
