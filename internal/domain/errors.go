// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidFinding indicates a finding is missing a required field.
var ErrInvalidFinding = errors.New("invalid finding")

// ErrDuplicateAgent indicates an agent with the same name is already registered.
var ErrDuplicateAgent = errors.New("agent already registered")

// ErrAlreadyRunning indicates a runner was started while not stopped.
var ErrAlreadyRunning = errors.New("agent already running")

// ErrNotRunning indicates an operation that requires a running agent.
var ErrNotRunning = errors.New("agent not running")
