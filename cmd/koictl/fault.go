package main

import "errors"

var (
	ErrIDRequired        = errors.New("certificate id is required")
	ErrPrincipalRequired = errors.New("--principal is required for mutations")
	ErrPhotoRequired     = errors.New("--photo is required")
	ErrNewOwnerRequired  = errors.New("--to is required")
	ErrNoteRequired      = errors.New("--note is required")
)
