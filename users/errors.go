package users

import "errors"

// User and message store errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrPhoneTaken         = errors.New("phone already registered")
	ErrDeviceTaken        = errors.New("device already registered")
	ErrStatusDowngrade    = errors.New("status downgrade rejected")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrEmptyPassword      = errors.New("password cannot be empty")
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrMessageNotFound    = errors.New("message not found")
)
