package biz

import "errors"

var (
	ErrInvalidJWT         = errors.New("invalid jwt token")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrEndpointNotFound   = errors.New("endpoint not found")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInternal           = errors.New("server internal error, please try again later")
)
