package state

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExists    = errors.New("session already exists")
	ErrSessionBusy      = errors.New("session is in use by another consumer")
	ErrInvalidSessionID = errors.New("invalid session ID")
	ErrShutdown         = errors.New("manager is shut down")
)
