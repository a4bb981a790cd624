package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnsupported   = errors.New("unsupported operation")
	ErrNotADirectory = errors.New("not a directory")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")

	// ErrDecode marks malformed or structurally unsupported manifest bytes.
	ErrDecode = errors.New("decode manifest")

	ErrConnect  = errors.New("remote connect failed")
	ErrAuth     = errors.New("remote authentication rejected")
	ErrDownload = errors.New("remote download failed")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrStorageFull  = errors.New("temporary storage limit reached")

	ErrInvalidTransition = errors.New("invalid state transition")
)
