package service

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrShareNotFound      = errors.New("share link not found")
	ErrShareExpired       = errors.New("share link has expired")
	ErrShareUnauthorized  = errors.New("invalid share password")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrExecutionFailed    = errors.New("code execution failed")
	ErrInternalServer     = errors.New("internal server error")
)
