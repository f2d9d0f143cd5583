package ratelimit

import "errors"

// Janitor lifecycle errors
var (
	ErrJanitorRunning = errors.New("rate limit janitor is already running")
	ErrJanitorStopped = errors.New("rate limit janitor is not running")
)
