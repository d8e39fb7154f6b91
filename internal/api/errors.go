package api

import "errors"

var (
	ErrNotFound    = errors.New("resource not found")
	ErrRateLimited = errors.New("rate limited by server")
	ErrAuthFailed  = errors.New("authentication failed")
	ErrBadCursor   = errors.New("cursor does not belong to this server")
)
