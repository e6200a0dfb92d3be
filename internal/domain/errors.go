package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session has the requested ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotReady is returned when a session cannot accept sends in its current state.
	ErrNotReady = errors.New("session not ready")
	// ErrTransportInit marks a transport that could not be brought up.
	ErrTransportInit = errors.New("transport init failed")
	// ErrAuthFailure marks a session rejected by the chat network.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrSend marks a message the transport failed to deliver.
	ErrSend = errors.New("send failed")
)
